// Package bus turns trigger commands arriving on NATS and MQTT into
// ingestion calls.
package bus

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/triggers"
)

// Ingestion is the subset of the pipeline the listeners drive.
type Ingestion interface {
	SubmitWebhookTrigger(cameraID string, payload map[string]any, idempotencyKey string) triggers.Ack
	SubmitMessageTrigger(text string, source data.Recipient) triggers.Ack
	RequestPatrol(scope string) triggers.Ack
}

var ErrUnknownCommand = errors.New("unknown command")

type patrolCommand struct {
	CameraID string `json:"camera_id"`
}

type messageCommand struct {
	Text   string         `json:"text"`
	Name   string         `json:"name"`
	Sender data.Recipient `json:"sender"`
}

// decodePatrol accepts an empty body, a bare camera ID, or {"camera_id": ...}.
func decodePatrol(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var cmd patrolCommand
	if err := json.Unmarshal(body, &cmd); err == nil {
		return cmd.CameraID
	}
	return trimmed
}

// decodeMessage accepts plain text or a JSON object.
func decodeMessage(body []byte) messageCommand {
	var cmd messageCommand
	if err := json.Unmarshal(body, &cmd); err == nil && (cmd.Text != "" || cmd.Name != "") {
		return cmd
	}
	return messageCommand{Text: strings.TrimSpace(string(body))}
}

// decodeAnalyze keeps any JSON object as the webhook payload; other bodies
// are carried under "body".
func decodeAnalyze(body []byte, source string) (map[string]any, string) {
	payload := map[string]any{}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = map[string]any{"body": string(body)}
		}
	}
	if _, ok := payload["source"]; !ok {
		payload["source"] = source
	}
	key, _ := payload["idempotency_key"].(string)
	return payload, key
}

func rejected(err error) triggers.Ack {
	return triggers.SuppressedAck(err)
}
