package events

import "context"

// Producer emits lifecycle events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Returns an error only on write failure.
	Emit(ctx context.Context, event *Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}

// NopProducer drops every event. Used when no broker is configured.
type NopProducer struct{}

func (NopProducer) Emit(context.Context, *Event) error { return nil }
func (NopProducer) Close() error                      { return nil }
