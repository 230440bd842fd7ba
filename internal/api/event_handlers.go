package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/data"
)

type EventHandler struct {
	Events data.EventRepository
}

func NewEventHandler(events data.EventRepository) *EventHandler {
	return &EventHandler{Events: events}
}

// GET /api/v1/events?camera_id&kind&from&to&limit
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := data.EventFilter{
		CameraID: q.Get("camera_id"),
		Kind:     data.EventKind(q.Get("kind")),
		Limit:    50,
	}

	if filter.Kind != "" && filter.Kind != data.EventAnalysis && filter.Kind != data.EventPatrol {
		respondError(w, http.StatusBadRequest, "kind must be analysis or patrol")
		return
	}
	if s := q.Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = min(l, 500)
	}
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		filter.From = &t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		filter.To = &t
	}

	events, err := h.Events.List(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("list events failed")
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*data.EventRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GET /api/v1/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	ev, err := h.Events.GetByID(r.Context(), id)
	if errors.Is(err, data.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("get event failed")
		respondError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	respondJSON(w, http.StatusOK, ev)
}
