package data

import (
	"time"

	"github.com/google/uuid"
)

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FaceCandidate is what the face matcher reports; PersonID is empty for
// faces that matched nobody.
type FaceCandidate struct {
	PersonID   string
	Confidence float64
	Box        BoundingBox
}

type KnownFaceMatch struct {
	PersonID    string      `json:"person_id,omitempty"`
	DisplayName string      `json:"display_name"`
	Confidence  float64     `json:"confidence"`
	Box         BoundingBox `json:"box"`
}

func (m KnownFaceMatch) Identified() bool {
	return m.PersonID != ""
}

// Frame is one captured still image.
type Frame struct {
	Image       []byte
	ContentType string
	CapturedAt  time.Time
}

// VisionRequest is a single provider call. Image may be empty for
// text-only requests.
type VisionRequest struct {
	Image   []byte
	Context string
	Prompt  string
}

type AnalysisStatus string

const (
	AnalysisOK                AnalysisStatus = "ok"
	AnalysisCameraUnreachable AnalysisStatus = "camera_unreachable"
	AnalysisAIFailed          AnalysisStatus = "ai_failed"
	AnalysisTimeout           AnalysisStatus = "timeout"
)

// AnalysisResult is built once by the orchestrator and never changed after.
type AnalysisResult struct {
	ID               uuid.UUID        `json:"id"`
	CameraID         string           `json:"camera_id"`
	CameraName       string           `json:"camera_name"`
	TriggerKind      TriggerKind      `json:"trigger_kind"`
	FrameRef         string           `json:"frame_ref,omitempty"`
	Frame            []byte           `json:"-"`
	CapturedAt       time.Time        `json:"captured_at"`
	Faces            []KnownFaceMatch `json:"faces,omitempty"`
	Description      string           `json:"description,omitempty"`
	NotificationText string           `json:"notification_text,omitempty"`
	Status           AnalysisStatus   `json:"status"`
	Reason           string           `json:"reason,omitempty"`
}

func (r AnalysisResult) OK() bool {
	return r.Status == AnalysisOK
}

// IdentifiedNames returns the display names of recognised people in match order.
func (r AnalysisResult) IdentifiedNames() []string {
	var names []string
	for _, f := range r.Faces {
		if f.Identified() {
			names = append(names, f.DisplayName)
		}
	}
	return names
}

// UnknownFaces counts faces that matched nobody.
func (r AnalysisResult) UnknownFaces() int {
	n := 0
	for _, f := range r.Faces {
		if !f.Identified() {
			n++
		}
	}
	return n
}

// PatrolResult holds one entry per camera in scope, in camera order.
type PatrolResult struct {
	ID          uuid.UUID        `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Entries     []AnalysisResult `json:"entries"`
	Summary     string           `json:"summary,omitempty"`
	SummaryNote string           `json:"summary_note,omitempty"`
}

// Succeeded returns the entries whose analysis completed.
func (p PatrolResult) Succeeded() []AnalysisResult {
	var out []AnalysisResult
	for _, e := range p.Entries {
		if e.OK() {
			out = append(out, e)
		}
	}
	return out
}

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
)

type DeliveryOutcome struct {
	Channel   ChannelKind    `json:"channel"`
	Recipient Recipient      `json:"recipient"`
	Status    DeliveryStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Attempts  int            `json:"attempts"`
}

type DeliverySummary string

const (
	SummaryDelivered DeliverySummary = "delivered"
	SummaryPartial   DeliverySummary = "partial"
	SummaryFailed    DeliverySummary = "failed"
	SummaryNone      DeliverySummary = "none"
)

// DeliveryCounts is the persisted residue of a dispatch.
type DeliveryCounts struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func CountDeliveries(outcomes []DeliveryOutcome) DeliveryCounts {
	var c DeliveryCounts
	for _, o := range outcomes {
		switch o.Status {
		case DeliveryDelivered:
			c.Delivered++
		case DeliveryFailed:
			c.Failed++
		case DeliverySkipped:
			c.Skipped++
		}
	}
	return c
}

// SummarizeDeliveries folds outcomes into one verdict. Skipped outcomes do not
// count as attempts.
func SummarizeDeliveries(outcomes []DeliveryOutcome) DeliverySummary {
	c := CountDeliveries(outcomes)
	switch {
	case c.Delivered == 0 && c.Failed == 0:
		return SummaryNone
	case c.Failed == 0:
		return SummaryDelivered
	case c.Delivered == 0:
		return SummaryFailed
	default:
		return SummaryPartial
	}
}
