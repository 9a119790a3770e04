package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// messageReader is the subset of *kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one event. A returned error is retried with backoff.
type Handler func(ctx context.Context, event *Event) error

// Consumer reads lifecycle events from Kafka and hands them to a Handler.
type Consumer struct {
	reader     messageReader
	logger     *slog.Logger
	maxTries   uint
	newBackOff func() backoff.BackOff
}

// NewKafkaConsumer returns a consumer-group reader for topic. Returns nil when brokers or topic are empty.
func NewKafkaConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *Consumer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	return newConsumer(reader, logger)
}

func newConsumer(r messageReader, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:   r,
		logger:   logger,
		maxTries: 5,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// Run consumes until ctx is cancelled. Each message is committed after the handler succeeds or its
// retries are exhausted; undecodable messages are committed and skipped.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WarnContext(ctx, "events: kafka read failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.logger.WarnContext(ctx, "events: skipping undecodable message", "offset", msg.Offset, "error", err)
		} else {
			_, err := backoff.Retry(ctx, func() (struct{}, error) {
				return struct{}{}, handle(ctx, &ev)
			},
				backoff.WithBackOff(c.newBackOff()),
				backoff.WithMaxTries(c.maxTries),
				backoff.WithNotify(func(err error, d time.Duration) {
					c.logger.WarnContext(ctx, "events: handler failed, retrying", "type", ev.Type, "identity_id", ev.IdentityID, "retry_in", d, "error", err)
				}),
			)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.ErrorContext(ctx, "events: handler gave up", "type", ev.Type, "identity_id", ev.IdentityID, "error", err)
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WarnContext(ctx, "events: commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
