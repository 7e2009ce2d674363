package audit

import (
	"context"
	"log/slog"

	"qcgate/internal/platform/kafka/producer"
)

// Sink receives published outbox entries.
type Sink interface {
	Publish(ctx context.Context, entry *Entry) error
}

// MessageProducer is the subset of the Kafka producer the sink needs.
type MessageProducer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaSink writes entries to topic keyed by subject, so one subject's
// history stays ordered within a partition.
type KafkaSink struct {
	producer MessageProducer
	topic    string
}

func NewKafkaSink(p MessageProducer, topic string) *KafkaSink {
	if p == nil {
		panic("audit.NewKafkaSink: producer is required")
	}
	return &KafkaSink{producer: p, topic: topic}
}

func (k *KafkaSink) Publish(ctx context.Context, entry *Entry) error {
	return k.producer.Produce(ctx, &producer.Message{
		Topic: k.topic,
		Key:   []byte(entry.SubjectID.String()),
		Value: entry.Payload,
		Headers: map[string]string{
			"entry_id":   entry.ID.String(),
			"event_type": string(entry.EventType),
		},
	})
}

// LogSink writes entries to a structured logger. It serves deployments
// without a broker.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) Publish(ctx context.Context, entry *Entry) error {
	ev, err := entry.Decode()
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "audit",
		"entry_id", entry.ID.String(),
		"event_type", string(ev.Type),
		"approval_id", ev.ApprovalID.String(),
		"subject_id", ev.SubjectID.String(),
		"action", ev.Action,
		"status", ev.Status,
		"actor_id", ev.ActorID.String(),
		"request_id", ev.RequestID,
	)
	return nil
}
