package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/middleware"
	"github.com/technosupport/ts-vigil/internal/triggers"
)

const maxBodyBytes = 1 << 20

type Ingestion interface {
	SubmitWebhookTrigger(cameraID string, payload map[string]any, idempotencyKey string) triggers.Ack
	SubmitMotionSignal(cameraID string, score float64) triggers.Ack
	SubmitMessageTrigger(text string, source data.Recipient) triggers.Ack
	RequestPatrol(scope string) triggers.Ack
}

type CameraLister interface {
	Camera(id string) (data.Camera, bool)
	Cameras() []data.Camera
}

type TriggerHandler struct {
	Ingest  Ingestion
	Cameras CameraLister
}

func NewTriggerHandler(ingest Ingestion, cameras CameraLister) *TriggerHandler {
	return &TriggerHandler{Ingest: ingest, Cameras: cameras}
}

// decodeBody reads an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *TriggerHandler) knownCamera(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "camera_id")
	if _, ok := h.Cameras.Camera(id); !ok {
		respondError(w, http.StatusNotFound, "camera not found")
		return "", false
	}
	return id, true
}

// POST /api/v1/cameras/{camera_id}/webhook
func (h *TriggerHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	cameraID, ok := h.knownCamera(w, r)
	if !ok {
		return
	}

	payload := map[string]any{}
	if err := decodeBody(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	if _, ok := payload["source"]; !ok {
		if c, ok := middleware.GetCaller(r.Context()); ok {
			payload["source"] = c.Service
		}
	}

	respondAck(w, h.Ingest.SubmitWebhookTrigger(cameraID, payload, r.Header.Get("Idempotency-Key")))
}

// POST /api/v1/cameras/{camera_id}/motion
func (h *TriggerHandler) Motion(w http.ResponseWriter, r *http.Request) {
	cameraID, ok := h.knownCamera(w, r)
	if !ok {
		return
	}

	var req struct {
		Score *float64 `json:"score"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	score := 1.0
	if req.Score != nil {
		score = *req.Score
	}
	if score < 0 || score > 1 {
		respondError(w, http.StatusBadRequest, "score must be between 0 and 1")
		return
	}

	respondAck(w, h.Ingest.SubmitMotionSignal(cameraID, score))
}

// POST /api/v1/messages
func (h *TriggerHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text   string         `json:"text"`
		Sender data.Recipient `json:"sender"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	respondAck(w, h.Ingest.SubmitMessageTrigger(req.Text, req.Sender))
}

// POST /api/v1/patrols
func (h *TriggerHandler) Patrol(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID string `json:"camera_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CameraID != "" {
		if _, ok := h.Cameras.Camera(req.CameraID); !ok {
			respondError(w, http.StatusNotFound, "camera not found")
			return
		}
	}

	respondAck(w, h.Ingest.RequestPatrol(req.CameraID))
}

type cameraView struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	SnapshotURL      string             `json:"snapshot_url,omitempty"`
	Cooldown         string             `json:"cooldown"`
	ScheduleInterval string             `json:"schedule_interval,omitempty"`
	Triggers         []data.TriggerKind `json:"triggers"`
	Recipients       int                `json:"recipients"`
}

// GET /api/v1/cameras
func (h *TriggerHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	cams := h.Cameras.Cameras()
	out := make([]cameraView, 0, len(cams))
	for _, c := range cams {
		v := cameraView{
			ID:          c.ID,
			Name:        c.DisplayName(),
			SnapshotURL: redact(c.SnapshotURL),
			Cooldown:    c.Cooldown.String(),
			Triggers:    c.Triggers,
			Recipients:  len(c.Recipients),
		}
		if c.ScheduleInterval > 0 {
			v.ScheduleInterval = c.ScheduleInterval.String()
		}
		out = append(out, v)
	}
	respondJSON(w, http.StatusOK, map[string]any{"cameras": out})
}

// redact hides credentials embedded in camera URLs.
func redact(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Redacted()
}
