// Package notify delivers analysis and patrol results to recipients over
// chat, webhooks and message buses.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/technosupport/ts-vigil/internal/data"
)

type PayloadKind string

const (
	PayloadAnalysis PayloadKind = "analysis"
	PayloadPatrol   PayloadKind = "patrol"
)

// Payload is what a Channel sends. Image is only set for channels that can
// carry it; bus channels send ImageRef instead.
type Payload struct {
	Kind         PayloadKind
	Text         string
	ImageRef     string
	Image        []byte
	CameraID     string
	CameraName   string
	Recipient    data.Recipient
	OccurredAt   time.Time
	Status       string
	People       []string
	UnknownFaces int
}

// Channel is one transport. Implementations return data.Permanent for
// failures that a retry cannot fix.
type Channel interface {
	Send(ctx context.Context, p Payload) error
}

// Event is the JSON document published on webhooks and buses.
type Event struct {
	Kind         PayloadKind `json:"kind"`
	CameraID     string      `json:"camera_id,omitempty"`
	CameraName   string      `json:"camera_name,omitempty"`
	Status       string      `json:"status"`
	Text         string      `json:"text"`
	ImageRef     string      `json:"image_ref,omitempty"`
	People       []string    `json:"people,omitempty"`
	UnknownFaces int         `json:"unknown_faces,omitempty"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

func encodeEvent(p Payload) ([]byte, error) {
	b, err := json.Marshal(Event{
		Kind:         p.Kind,
		CameraID:     p.CameraID,
		CameraName:   p.CameraName,
		Status:       p.Status,
		Text:         p.Text,
		ImageRef:     p.ImageRef,
		People:       p.People,
		UnknownFaces: p.UnknownFaces,
		OccurredAt:   p.OccurredAt,
	})
	if err != nil {
		return nil, data.Permanent(fmt.Errorf("encode event: %w", err))
	}
	return b, nil
}

// AnalysisPayload builds the recipient-independent part of an analysis
// notification.
func AnalysisPayload(res data.AnalysisResult) Payload {
	return Payload{
		Kind:         PayloadAnalysis,
		Text:         AnalysisText(res),
		ImageRef:     res.FrameRef,
		Image:        res.Frame,
		CameraID:     res.CameraID,
		CameraName:   res.CameraName,
		OccurredAt:   res.CapturedAt,
		Status:       string(res.Status),
		People:       res.IdentifiedNames(),
		UnknownFaces: res.UnknownFaces(),
	}
}

// PatrolPayload uses the first successful camera's frame as the image.
func PatrolPayload(pr data.PatrolResult) Payload {
	p := Payload{
		Kind:       PayloadPatrol,
		Text:       PatrolText(pr),
		CameraName: "Home Patrol",
		OccurredAt: pr.CompletedAt,
		Status:     "ok",
	}
	if ok := pr.Succeeded(); len(ok) > 0 {
		p.Image = ok[0].Frame
		p.ImageRef = ok[0].FrameRef
	} else {
		p.Status = "failed"
	}
	for _, e := range pr.Entries {
		p.People = append(p.People, e.IdentifiedNames()...)
		p.UnknownFaces += e.UnknownFaces()
	}
	p.People = lo.Uniq(p.People)
	return p
}

// AnalysisText is the notification body. Failed runs still produce a short
// degraded message.
func AnalysisText(res data.AnalysisResult) string {
	if res.OK() {
		if res.NotificationText != "" {
			return res.NotificationText
		}
		return res.Description
	}
	return fmt.Sprintf("⚠️ %s could not be analyzed: %s", res.CameraName, failurePhrase(res.Status))
}

func failurePhrase(s data.AnalysisStatus) string {
	switch s {
	case data.AnalysisCameraUnreachable:
		return "camera unreachable"
	case data.AnalysisTimeout:
		return "timed out"
	default:
		return "AI analysis failed"
	}
}

// PatrolText renders the summary when there is one, else every camera line.
// Failed cameras are always listed.
func PatrolText(pr data.PatrolResult) string {
	var b strings.Builder
	if pr.Summary != "" {
		b.WriteString(pr.Summary)
		for _, e := range pr.Entries {
			if e.OK() {
				continue
			}
			b.WriteString("\n• ")
			b.WriteString(e.CameraName)
			b.WriteString(": ")
			b.WriteString(failurePhrase(e.Status))
		}
	} else {
		for i, e := range pr.Entries {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("• ")
			b.WriteString(e.CameraName)
			b.WriteString(": ")
			if e.OK() {
				b.WriteString(e.NotificationText)
			} else {
				b.WriteString(failurePhrase(e.Status))
			}
		}
	}
	if pr.SummaryNote != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("_")
		b.WriteString(pr.SummaryNote)
		b.WriteString("_")
	}
	return b.String()
}
