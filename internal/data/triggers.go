package data

import (
	"time"

	"github.com/google/uuid"
)

type TriggerKind string

const (
	TriggerMotion   TriggerKind = "motion"
	TriggerSchedule TriggerKind = "schedule"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerMessage  TriggerKind = "message"
	TriggerPatrol   TriggerKind = "patrol"
)

// Trigger is a closed set of variants; only types in this package implement it.
type Trigger interface {
	Kind() TriggerKind
	isTrigger()
}

type MotionTrigger struct {
	Score float64
}

type ScheduleTrigger struct {
	ScheduledAt time.Time
}

type WebhookTrigger struct {
	Payload map[string]any
	Source  string
}

// MessageTrigger is a natural-language request. Instruction carries the part
// of the text that should shape the reply.
type MessageTrigger struct {
	Text        string
	Source      Recipient
	Instruction string
}

// PatrolTrigger is the manual patrol request.
type PatrolTrigger struct {
	RequestedBy string
}

func (MotionTrigger) Kind() TriggerKind   { return TriggerMotion }
func (ScheduleTrigger) Kind() TriggerKind { return TriggerSchedule }
func (WebhookTrigger) Kind() TriggerKind  { return TriggerWebhook }
func (MessageTrigger) Kind() TriggerKind  { return TriggerMessage }
func (PatrolTrigger) Kind() TriggerKind   { return TriggerPatrol }

func (MotionTrigger) isTrigger()   {}
func (ScheduleTrigger) isTrigger() {}
func (WebhookTrigger) isTrigger()  {}
func (MessageTrigger) isTrigger()  {}
func (PatrolTrigger) isTrigger()   {}

// IsExplicit reports whether a trigger was requested on purpose. Explicit
// triggers bypass cooldown and are queued rather than dropped.
func IsExplicit(t Trigger) bool {
	switch t.(type) {
	case MotionTrigger:
		return false
	default:
		return true
	}
}

// AdmittedTrigger is a trigger that passed the gate, stamped with the camera
// settings in force at that moment.
type AdmittedTrigger struct {
	ID         uuid.UUID
	CameraID   string
	Trigger    Trigger
	AdmittedAt time.Time
	Camera     Camera
}

// NewAdmittedTrigger snapshots cam so later config changes cannot leak into
// the run.
func NewAdmittedTrigger(cam Camera, t Trigger, at time.Time) AdmittedTrigger {
	return AdmittedTrigger{
		ID:         uuid.New(),
		CameraID:   cam.ID,
		Trigger:    t,
		AdmittedAt: at,
		Camera:     cam.Snapshot(),
	}
}
