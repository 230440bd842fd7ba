package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/technosupport/ts-vigil/internal/data"
)

func TestClassifyMessage(t *testing.T) {
	cams := []data.Camera{
		{ID: "front", Name: "Front Door"},
		{ID: "back_door", Name: "Back Door"},
		{ID: "garden"},
	}

	tests := []struct {
		text        string
		intent      Intent
		camera      string
		person      string
		instruction string
	}{
		{"How is home?", IntentPatrol, "", "", ""},
		{"patrol please", IntentPatrol, "", "", ""},
		{"check all cameras and keep it short", IntentPatrol, "", "", "keep it short"},
		{"where is Bob?", IntentFindPerson, "", "Bob", ""},
		{"have you seen Alice today", IntentFindPerson, "", "Alice", "today"},
		{"where is everyone", IntentNone, "", "", "where is everyone"},
		{"show me the garden", IntentCamera, "garden", "", ""},
		{"what's happening at the back door", IntentCamera, "back_door", "", ""},
		{"check Front Door, is the parcel still there?", IntentCamera, "front", "", "parcel still there?"},
		{"status of the garden", IntentCamera, "garden", "", ""},
		{"gardening tips", IntentNone, "", "", "gardening tips"},
		{"anything odd tonight?", IntentNone, "", "", "anything odd tonight?"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ClassifyMessage(tt.text, cams)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, tt.camera, got.CameraID)
			assert.Equal(t, tt.person, got.Person)
			assert.Equal(t, tt.instruction, got.Instruction)
		})
	}
}

func TestFindPersonReply(t *testing.T) {
	alice := data.KnownFaceMatch{PersonID: "p1", DisplayName: "Alice Smith"}
	stranger := data.KnownFaceMatch{DisplayName: "unidentified person"}
	entries := []data.AnalysisResult{
		{CameraName: "Front Door", Faces: []data.KnownFaceMatch{alice}},
		{CameraName: "Garden", Faces: []data.KnownFaceMatch{stranger}},
		{CameraName: "Garage", Faces: []data.KnownFaceMatch{stranger, alice}},
	}

	assert.Equal(t, "Alice was seen on Front Door and Garage", FindPersonReply("Alice", entries))
	assert.Equal(t, "alice smith was seen on Front Door and Garage", FindPersonReply("alice smith", entries))
	assert.Equal(t, "Bob was not seen on any camera", FindPersonReply("Bob", entries))
	assert.Equal(t, "Alice was seen on Front Door", FindPersonReply("Alice", entries[:1]))
}

func TestMergeRecipients(t *testing.T) {
	a := data.Recipient{Channel: data.ChannelChat, Target: "1"}
	b := data.Recipient{Channel: data.ChannelChat, Target: "2", Name: "dup of 2"}
	bus := data.Recipient{Channel: data.ChannelNATS}

	got := mergeRecipients([]data.Recipient{a, {Channel: data.ChannelChat, Target: "2"}}, []data.Recipient{b, a, {}, bus})
	assert.Equal(t, []data.Recipient{a, {Channel: data.ChannelChat, Target: "2"}, bus}, got)
}
