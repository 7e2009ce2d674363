package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"qcgate/internal/platform/kafka/producer"
	id "qcgate/pkg/domain"
)

// DefaultTopic is the topic notifications are produced to.
const DefaultTopic = "qcgate.notifications"

// MessageProducer is the part of the Kafka producer the sink needs.
type MessageProducer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaPublisher writes each delivery as a JSON record keyed by recipient,
// so one user's notifications stay ordered within a partition.
type KafkaPublisher struct {
	producer MessageProducer
	topic    string
}

func NewKafkaPublisher(p MessageProducer, topic string) *KafkaPublisher {
	if p == nil {
		panic("notification.NewKafkaPublisher: producer is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) Publish(ctx context.Context, userID id.UserID, ev Event) error {
	value, err := json.Marshal(envelope(userID, ev))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return k.producer.Produce(ctx, &producer.Message{
		Topic: k.topic,
		Key:   []byte(userID.String()),
		Value: value,
		Headers: map[string]string{
			"event_type": string(ev.Type),
		},
	})
}
