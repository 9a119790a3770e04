package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by KafkaProducer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements Producer using segmentio/kafka-go. Messages are keyed by identity id so
// events for one identity stay ordered within a partition.
type KafkaProducer struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaProducer creates a Kafka producer that writes lifecycle events to the given topic.
// Returns nil when brokers or topic are empty. Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string, logger *slog.Logger) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaProducer(writer, topic, logger)
}

func newKafkaProducer(w messageWriter, topic string, logger *slog.Logger) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaProducer{writer: w, topic: topic, logger: logger}
}

// Emit serializes the event as JSON and writes it to the Kafka topic.
// Uses the caller's context with a short timeout so slow Kafka does not block sagas indefinitely.
func (p *KafkaProducer) Emit(ctx context.Context, event *Event) error {
	if p == nil || p.writer == nil || event == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.IdentityID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		p.logger.WarnContext(ctx, "events: kafka emit failed", "topic", p.topic, "type", event.Type, "error", err)
		return err
	}
	return nil
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
