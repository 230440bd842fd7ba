package bus

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/triggers"
)

const (
	MQTTTriggerWildcard = "vigil/trigger/#"
	mqttPatrol          = "vigil/trigger/patrol"
	mqttPersonFinder    = "vigil/trigger/person_finder"
	mqttAnalyzePrefix   = "vigil/trigger/analyze/"
)

type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// ConnectMQTT connects with auto-reconnect on a persistent session, so the
// broker keeps trigger subscriptions across reconnects.
func ConnectMQTT(o MQTTOptions) (mqtt.Client, error) {
	broker := o.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", broker).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost, reconnecting")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return client, nil
}

type MQTTListener struct {
	ingest Ingestion
	qos    byte
}

func NewMQTTListener(ingest Ingestion, qos byte) *MQTTListener {
	return &MQTTListener{ingest: ingest, qos: qos}
}

func (l *MQTTListener) Subscribe(client mqtt.Client) {
	token := client.Subscribe(MQTTTriggerWildcard, l.qos, func(_ mqtt.Client, msg mqtt.Message) {
		l.Handle(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		log.Error().Str("topic", MQTTTriggerWildcard).Msg("mqtt subscribe timeout")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", MQTTTriggerWildcard).Msg("mqtt subscribe failed")
		return
	}
	log.Info().Str("topic", MQTTTriggerWildcard).Msg("mqtt trigger listener subscribed")
}

func (l *MQTTListener) Handle(topic string, body []byte) triggers.Ack {
	var ack triggers.Ack
	switch {
	case topic == mqttPatrol:
		ack = l.ingest.RequestPatrol(decodePatrol(body))
	case topic == mqttPersonFinder:
		cmd := decodeMessage(body)
		name := cmd.Name
		if name == "" {
			name = cmd.Text
		}
		if name == "" {
			ack = rejected(fmt.Errorf("%w: person_finder needs a name", ErrUnknownCommand))
			break
		}
		ack = l.ingest.SubmitMessageTrigger("where is "+name, cmd.Sender)
	case strings.HasPrefix(topic, mqttAnalyzePrefix):
		cameraID := strings.TrimPrefix(topic, mqttAnalyzePrefix)
		payload, key := decodeAnalyze(body, "mqtt")
		ack = l.ingest.SubmitWebhookTrigger(cameraID, payload, key)
	default:
		ack = rejected(ErrUnknownCommand)
	}
	log.Info().Str("topic", topic).Str("decision", string(ack.Decision)).Str("reason", ack.Reason).Msg("mqtt command")
	return ack
}
