package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"

	"identity-provisioning/internal/identity/domain"
)

// recordEmitter is the subset of otellog.Logger used by WarningEmitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// WarningEmitter sends consistency warnings as OTel log records.
type WarningEmitter struct {
	logger recordEmitter
}

// NewWarningEmitter returns a WarningEmitter that logs through provider. A nil provider yields a no-op emitter.
func NewWarningEmitter(provider otellog.LoggerProvider) *WarningEmitter {
	if provider == nil {
		provider = noop.NewLoggerProvider()
	}
	return &WarningEmitter{logger: provider.Logger("identity-provisioning.consistency")}
}

// RecordWarning emits w with severity ERROR. Empty fields are omitted.
func (e *WarningEmitter) RecordWarning(ctx context.Context, w domain.ConsistencyWarning) {
	rec := otellog.Record{}
	ts := w.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityError)
	rec.SetSeverityText("ERROR")
	rec.SetBody(otellog.StringValue("consistency warning: " + w.Action))
	rec.AddAttributes(otellog.String("event_type", "consistency_warning"))
	for _, kv := range []struct{ key, value string }{
		{"saga", w.Saga},
		{"action", w.Action},
		{"identity_id", w.IdentityID},
		{"username", w.Username},
		{"remote_id", w.RemoteID},
		{"cause", w.CauseText()},
	} {
		if kv.value != "" {
			rec.AddAttributes(otellog.String(kv.key, kv.value))
		}
	}
	e.logger.Emit(ctx, rec)
}
