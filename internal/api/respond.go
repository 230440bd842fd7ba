// Package api exposes the ingestion calls and the event history over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/technosupport/ts-vigil/internal/triggers"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAck maps an admission decision onto the status code: 202 when
// admitted, 200 with the reason when suppressed.
func respondAck(w http.ResponseWriter, ack triggers.Ack) {
	if ack.IsAdmitted() {
		respondJSON(w, http.StatusAccepted, ack)
		return
	}
	respondJSON(w, http.StatusOK, ack)
}
