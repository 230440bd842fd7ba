package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/technosupport/ts-vigil/internal/data"
)

// NATSSubject is the default subject when a recipient names none.
func NATSSubject(p Payload) string {
	if p.Kind == PayloadPatrol {
		return "vigil.patrol.result"
	}
	return fmt.Sprintf("vigil.cameras.%s.event", p.CameraID)
}

func MQTTTopic(p Payload) string {
	if p.Kind == PayloadPatrol {
		return "vigil/patrol/result"
	}
	return fmt.Sprintf("vigil/cameras/%s/event", p.CameraID)
}

// NATSPublisher is satisfied by *nats.Conn.
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

type NATSChannel struct {
	conn NATSPublisher
}

func NewNATSChannel(conn NATSPublisher) *NATSChannel {
	return &NATSChannel{conn: conn}
}

func (n *NATSChannel) Send(ctx context.Context, p Payload) error {
	body, err := encodeEvent(p)
	if err != nil {
		return err
	}
	subject := p.Recipient.Target
	if subject == "" {
		subject = NATSSubject(p)
	}

	if err := n.conn.Publish(subject, body); err != nil {
		if errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload) {
			return data.Permanent(fmt.Errorf("nats publish %s: %w", subject, err))
		}
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// NewKafkaProducer waits for all in-sync replicas so a delivered outcome is
// durable on the broker.
func NewKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 1

	return sarama.NewSyncProducer(brokers, config)
}

type KafkaChannel struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaChannel(producer sarama.SyncProducer, defaultTopic string) *KafkaChannel {
	if defaultTopic == "" {
		defaultTopic = "vigil.events"
	}
	return &KafkaChannel{producer: producer, topic: defaultTopic}
}

func (k *KafkaChannel) Send(ctx context.Context, p Payload) error {
	body, err := encodeEvent(p)
	if err != nil {
		return err
	}
	topic := p.Recipient.Target
	if topic == "" {
		topic = k.topic
	}
	key := p.CameraID
	if key == "" {
		key = string(p.Kind)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(body),
		Headers:   []sarama.RecordHeader{{Key: []byte("kind"), Value: []byte(p.Kind)}},
		Timestamp: p.OccurredAt,
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		if errors.Is(err, sarama.ErrMessageSizeTooLarge) || errors.Is(err, sarama.ErrInvalidTopic) {
			return data.Permanent(fmt.Errorf("kafka %s: %w", topic, err))
		}
		return fmt.Errorf("kafka %s: %w", topic, err)
	}
	return nil
}

// MQTTPublisher is satisfied by mqtt.Client.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTChannel struct {
	client MQTTPublisher
	qos    byte
}

func NewMQTTChannel(client MQTTPublisher, qos byte) *MQTTChannel {
	return &MQTTChannel{client: client, qos: qos}
}

func (m *MQTTChannel) Send(ctx context.Context, p Payload) error {
	body, err := encodeEvent(p)
	if err != nil {
		return err
	}
	topic := p.Recipient.Target
	if topic == "" {
		topic = MQTTTopic(p)
	}
	if strings.ContainsAny(topic, "+#") {
		return data.Permanent(fmt.Errorf("mqtt topic %q contains wildcards", topic))
	}

	token := m.client.Publish(topic, m.qos, false, body)
	wait := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}
