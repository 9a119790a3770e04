package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight async emits. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// AsyncProducer runs each Emit in a goroutine so sagas are not blocked by the broker.
// Request cancellation does not abort an in-flight emit.
type AsyncProducer struct {
	next   Producer
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAsyncProducer wraps next. A nil next drops every event.
func NewAsyncProducer(next Producer, logger *slog.Logger) *AsyncProducer {
	if next == nil {
		next = NopProducer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncProducer{next: next, logger: logger}
}

// Emit schedules the event and returns immediately.
func (a *AsyncProducer) Emit(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := a.next.Emit(emitCtx, event); err != nil {
			a.logger.Warn("events: async emit failed", "type", event.Type, "identity_id", event.IdentityID, "error", err)
		}
	}()
	return nil
}

// Drain waits for in-flight emits or until ctx is done.
func (a *AsyncProducer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains for up to ShutdownDrainDuration, then closes the wrapped producer.
func (a *AsyncProducer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownDrainDuration)
	defer cancel()
	if err := a.Drain(ctx); err != nil {
		a.logger.Warn("events: drain incomplete", "error", err)
	}
	return a.next.Close()
}
