package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "identity-provisioning/internal/errors"
)

// Saga names used in spans, metrics, events and warnings.
const (
	sagaRegister       = "register"
	sagaUpdate         = "update"
	sagaChangePassword = "change_password"
	sagaChangeRole     = "change_role"
	sagaDelete         = "delete"
)

type sagaTelemetry struct {
	tracer        trace.Tracer
	outcomes      metric.Int64Counter
	compensations metric.Int64Counter
}

func newSagaTelemetry(tracer trace.Tracer, meter metric.Meter) (*sagaTelemetry, error) {
	outcomes, err := meter.Int64Counter("identity.saga.outcomes",
		metric.WithDescription("Completed identity sagas by saga and outcome"))
	if err != nil {
		return nil, err
	}
	compensations, err := meter.Int64Counter("identity.saga.compensations",
		metric.WithDescription("Compensating actions by result"))
	if err != nil {
		return nil, err
	}
	return &sagaTelemetry{tracer: tracer, outcomes: outcomes, compensations: compensations}, nil
}

// start opens a span for saga. The returned func ends it and counts the outcome: "success" when
// err is nil, otherwise the lowercased error kind.
func (t *sagaTelemetry) start(ctx context.Context, saga string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "identity."+saga, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = outcomeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, apperrors.SafeMessage(err))
		}
		span.SetAttributes(attribute.String("saga.outcome", outcome))
		span.End()
		t.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("saga", saga),
			attribute.String("outcome", outcome),
		))
	}
}

func (t *sagaTelemetry) compensated(ctx context.Context, saga string, ok bool) {
	result := "succeeded"
	if !ok {
		result = "failed"
	}
	t.compensations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga", saga),
		attribute.String("result", result),
	))
}

func outcomeOf(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return "validation"
	case apperrors.KindCredentialPolicyRejected:
		return "credential_policy_rejected"
	case apperrors.KindRemoteProvisioning:
		return "remote_provisioning"
	case apperrors.KindLocalPersistence:
		return "local_persistence"
	case apperrors.KindRoleTransition:
		return "role_transition"
	case apperrors.KindNotFound:
		return "not_found"
	case apperrors.KindAuthentication:
		return "authentication"
	}
	return "unknown"
}
