package triggers

import (
	"github.com/google/uuid"
)

type Decision string

const (
	Admitted   Decision = "admitted"
	Suppressed Decision = "suppressed"
)

// Ack is returned by every ingestion call as soon as the admission decision
// is made.
type Ack struct {
	Decision  Decision   `json:"decision"`
	Reason    string     `json:"reason,omitempty"`
	TriggerID *uuid.UUID `json:"trigger_id,omitempty"`
	// DroppedTriggerID is set when admitting this trigger evicted an older
	// queued one.
	DroppedTriggerID *uuid.UUID `json:"dropped_trigger_id,omitempty"`
}

func AdmittedAck(id uuid.UUID) Ack {
	return Ack{Decision: Admitted, TriggerID: &id}
}

func SuppressedAck(reason error) Ack {
	return Ack{Decision: Suppressed, Reason: reason.Error()}
}

func (a Ack) IsAdmitted() bool {
	return a.Decision == Admitted
}
