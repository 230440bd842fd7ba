package data_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/technosupport/ts-vigil/internal/data"
)

func TestCamera_SnapshotIsDetached(t *testing.T) {
	cam := data.Camera{
		ID:         "front",
		Triggers:   []data.TriggerKind{data.TriggerMotion},
		Recipients: []data.Recipient{{Channel: data.ChannelChat, Target: "123"}},
	}
	snap := cam.Snapshot()
	cam.Recipients[0].Target = "changed"
	cam.Triggers[0] = data.TriggerWebhook

	assert.Equal(t, "123", snap.Recipients[0].Target)
	assert.Equal(t, data.TriggerMotion, snap.Triggers[0])
}

func TestCamera_Accepts(t *testing.T) {
	all := data.Camera{}
	assert.True(t, all.Accepts(data.TriggerMotion))

	webhookOnly := data.Camera{Triggers: []data.TriggerKind{data.TriggerWebhook}}
	assert.True(t, webhookOnly.Accepts(data.TriggerWebhook))
	assert.False(t, webhookOnly.Accepts(data.TriggerMotion))
}

func TestIsExplicit(t *testing.T) {
	assert.False(t, data.IsExplicit(data.MotionTrigger{Score: 0.3}))
	for _, tr := range []data.Trigger{
		data.ScheduleTrigger{ScheduledAt: time.Now()},
		data.WebhookTrigger{},
		data.MessageTrigger{Text: "hi"},
		data.PatrolTrigger{},
	} {
		assert.True(t, data.IsExplicit(tr), tr.Kind())
	}
}

func TestNewAdmittedTrigger_Snapshots(t *testing.T) {
	cam := data.Camera{ID: "yard", Recipients: []data.Recipient{{Target: "a"}}}
	adm := data.NewAdmittedTrigger(cam, data.WebhookTrigger{}, time.Now())
	cam.Recipients[0].Target = "b"

	assert.Equal(t, "yard", adm.CameraID)
	assert.Equal(t, "a", adm.Camera.Recipients[0].Target)
}

func TestSummarizeDeliveries(t *testing.T) {
	d := data.DeliveryOutcome{Status: data.DeliveryDelivered}
	f := data.DeliveryOutcome{Status: data.DeliveryFailed}
	s := data.DeliveryOutcome{Status: data.DeliverySkipped}

	assert.Equal(t, data.SummaryNone, data.SummarizeDeliveries(nil))
	assert.Equal(t, data.SummaryNone, data.SummarizeDeliveries([]data.DeliveryOutcome{s}))
	assert.Equal(t, data.SummaryDelivered, data.SummarizeDeliveries([]data.DeliveryOutcome{d, s}))
	assert.Equal(t, data.SummaryPartial, data.SummarizeDeliveries([]data.DeliveryOutcome{d, f}))
	assert.Equal(t, data.SummaryFailed, data.SummarizeDeliveries([]data.DeliveryOutcome{f, f}))
}

func TestAnalysisResult_FaceHelpers(t *testing.T) {
	r := data.AnalysisResult{Faces: []data.KnownFaceMatch{
		{PersonID: "p1", DisplayName: "Alice"},
		{DisplayName: "unidentified person"},
		{PersonID: "p2", DisplayName: "Bob"},
	}}
	assert.Equal(t, []string{"Alice", "Bob"}, r.IdentifiedNames())
	assert.Equal(t, 1, r.UnknownFaces())
}

func TestIsPermanent(t *testing.T) {
	base := errors.New("boom")

	assert.False(t, data.IsPermanent(nil))
	assert.False(t, data.IsPermanent(base))
	assert.True(t, data.IsPermanent(data.Permanent(base)))
	assert.True(t, data.IsPermanent(fmt.Errorf("wrapped: %w", data.Permanent(base))))
	assert.True(t, data.IsPermanent(context.Canceled))
	assert.False(t, data.IsPermanent(context.DeadlineExceeded))

	transient := &data.ProviderError{StatusCode: 503, Err: base}
	permanent := &data.ProviderError{StatusCode: 400, Permanent: true, Err: base}
	assert.False(t, data.IsPermanent(transient))
	assert.True(t, data.IsPermanent(permanent))
	assert.ErrorIs(t, transient, data.ErrAIProvider)
}

func TestIsPermanentStatus(t *testing.T) {
	assert.True(t, data.IsPermanentStatus(400))
	assert.True(t, data.IsPermanentStatus(404))
	assert.False(t, data.IsPermanentStatus(408))
	assert.False(t, data.IsPermanentStatus(429))
	assert.False(t, data.IsPermanentStatus(502))
	assert.False(t, data.IsPermanentStatus(200))
}
