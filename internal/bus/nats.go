package bus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/triggers"
)

const (
	NATSTriggerWildcard = "vigil.trigger.>"
	natsPatrol          = "vigil.trigger.patrol"
	natsMessage         = "vigil.trigger.message"
	natsAnalyzePrefix   = "vigil.trigger.analyze."
)

// NATSListener subscribes to vigil.trigger.* and answers request-reply
// callers with the JSON ack.
type NATSListener struct {
	conn   *nats.Conn
	ingest Ingestion
	sub    *nats.Subscription
}

func NewNATSListener(conn *nats.Conn, ingest Ingestion) *NATSListener {
	return &NATSListener{conn: conn, ingest: ingest}
}

func (l *NATSListener) Start() error {
	sub, err := l.conn.Subscribe(NATSTriggerWildcard, func(msg *nats.Msg) {
		ack := l.Handle(msg.Subject, msg.Data)
		if msg.Reply == "" {
			return
		}
		body, _ := json.Marshal(ack)
		if err := msg.Respond(body); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("nats reply failed")
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", NATSTriggerWildcard, err)
	}
	l.sub = sub
	log.Info().Str("subject", NATSTriggerWildcard).Msg("nats trigger listener started")
	return nil
}

func (l *NATSListener) Stop() {
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
	}
}

// Handle dispatches one command by subject.
func (l *NATSListener) Handle(subject string, body []byte) triggers.Ack {
	var ack triggers.Ack
	switch {
	case subject == natsPatrol:
		ack = l.ingest.RequestPatrol(decodePatrol(body))
	case subject == natsMessage:
		cmd := decodeMessage(body)
		ack = l.ingest.SubmitMessageTrigger(cmd.Text, cmd.Sender)
	case strings.HasPrefix(subject, natsAnalyzePrefix):
		cameraID := strings.TrimPrefix(subject, natsAnalyzePrefix)
		payload, key := decodeAnalyze(body, "nats")
		ack = l.ingest.SubmitWebhookTrigger(cameraID, payload, key)
	default:
		ack = rejected(ErrUnknownCommand)
	}
	log.Info().Str("subject", subject).Str("decision", string(ack.Decision)).Str("reason", ack.Reason).Msg("nats command")
	return ack
}
