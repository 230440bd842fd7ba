package analysis

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/technosupport/ts-vigil/internal/data"
)

func TestSummarize(t *testing.T) {
	short := "Quiet driveway."
	assert.Equal(t, short, Summarize(short, 280))

	text := "A man in a red jacket walks up the path. He rings the bell. He waits."
	assert.Equal(t, "A man in a red jacket walks up the path. He rings the bell.", Summarize(text, 60))

	long := strings.Repeat("word ", 100)
	out := Summarize(long, 50)
	assert.Equal(t, 50, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestCleanDescription(t *testing.T) {
	in := "```json\n{\"people\": []}\n```\nTwo cats on the fence."
	assert.Equal(t, "Two cats on the fence.", CleanDescription(in))
}

func TestTriggerContext(t *testing.T) {
	assert.Equal(t, "Motion was detected (score 0.25).", TriggerContext(data.MotionTrigger{Score: 0.25}))
	assert.Contains(t, TriggerContext(data.ScheduleTrigger{ScheduledAt: time.Date(2026, 1, 1, 14, 5, 0, 0, time.UTC)}), "14:05")

	ctx := TriggerContext(data.WebhookTrigger{Source: "doorbell", Payload: map[string]any{"event": "ring", "nested": map[string]any{}}})
	assert.Equal(t, "An external system requested this check via doorbell (event=ring).", ctx)

	msg := TriggerContext(data.MessageTrigger{Text: "check the porch", Source: data.Recipient{Name: "Sam"}})
	assert.Equal(t, `Sam asked: "check the porch"`, msg)
}

func TestPeopleLine(t *testing.T) {
	assert.Equal(t, "No known faces were identified.", PeopleLine(nil))
	assert.Equal(t, "People in the frame: Alice, 2 unidentified persons.", PeopleLine([]data.KnownFaceMatch{
		{PersonID: "a", DisplayName: "Alice"},
		{PersonID: "a", DisplayName: "Alice"},
		{DisplayName: "unidentified person"},
		{DisplayName: "unidentified person"},
	}))
}

func TestBuildPrompt_DefaultsAndLanguage(t *testing.T) {
	adm := data.NewAdmittedTrigger(data.Camera{ID: "yard"}, data.PatrolTrigger{}, time.Now())
	p := BuildPrompt(adm, nil, "German")
	assert.True(t, strings.HasPrefix(p, DefaultAnalysisPrompt))
	assert.Contains(t, p, "Camera: yard.")
	assert.True(t, strings.HasSuffix(p, "Respond in German."))
}
