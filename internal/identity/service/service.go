// Package service coordinates the identity provider and the local identity store. Registration,
// profile update, password change, role change and deletion each run as a saga with explicit ordering
// and compensation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"identity-provisioning/internal/events"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/repository"
	"identity-provisioning/internal/idp"
	"identity-provisioning/internal/policy"
)

// defaultCompensationTimeout bounds a compensating remote call once the request context is detached.
const defaultCompensationTimeout = 10 * time.Second

// Gateway is the identity provider surface used by the sagas.
type Gateway interface {
	CreateRemoteIdentity(ctx context.Context, candidate *domain.Identity, plaintextPassword string) (string, error)
	UpdateRemoteIdentity(ctx context.Context, identity *domain.Identity) error
	SetRemotePassword(ctx context.Context, remoteID, plaintext string) error
	AssignRole(ctx context.Context, remoteID string, tag domain.RoleTag) error
	AssignGroup(ctx context.Context, remoteID string, tag domain.RoleTag) error
	// DeleteRemoteIdentity reports a missing remote identity as an error wrapping idp.ErrNotFound.
	DeleteRemoteIdentity(ctx context.Context, remoteID string) error
	Login(ctx context.Context, username, password string) (*idp.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*idp.TokenPair, error)
	ListRealmRoles(ctx context.Context) ([]string, error)
}

// CredentialEncoder hashes and verifies plaintext passwords.
type CredentialEncoder interface {
	Encode(plaintext string) (string, error)
	Matches(plaintext, hash string) bool
}

// WarningSink receives consistency warnings.
type WarningSink interface {
	RecordWarning(ctx context.Context, w domain.ConsistencyWarning)
}

// Deps are the collaborators of a ProvisioningService. Store, Gateway, Encoder and Roles are required.
type Deps struct {
	Store    repository.Repository
	Gateway  Gateway
	Encoder  CredentialEncoder
	Roles    policy.RoleEvaluator
	Events   events.Producer
	Warnings WarningSink
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Meter    metric.Meter
	Now      func() time.Time
	NewID    func() string
	// CompensationTimeout bounds compensating remote calls; defaults to 10s.
	CompensationTimeout time.Duration
}

// ProvisioningService runs the identity lifecycle sagas. It holds no mutable state of its own;
// the store's uniqueness constraints linearize concurrent registrations.
type ProvisioningService struct {
	store               repository.Repository
	gateway             Gateway
	encoder             CredentialEncoder
	roles               *RoleTransitionEngine
	events              events.Producer
	warnings            WarningSink
	logger              *slog.Logger
	tel                 *sagaTelemetry
	now                 func() time.Time
	newID               func() string
	compensationTimeout time.Duration
}

// New returns a ProvisioningService with the given dependencies.
func New(d Deps) (*ProvisioningService, error) {
	if d.Store == nil || d.Gateway == nil || d.Encoder == nil || d.Roles == nil {
		return nil, errors.New("service: store, gateway, encoder and role policy are required")
	}
	if d.Events == nil {
		d.Events = events.NopProducer{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if d.Meter == nil {
		d.Meter = metricnoop.NewMeterProvider().Meter("")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.CompensationTimeout <= 0 {
		d.CompensationTimeout = defaultCompensationTimeout
	}
	tel, err := newSagaTelemetry(d.Tracer, d.Meter)
	if err != nil {
		return nil, err
	}
	now := func() time.Time { return d.Now().UTC() }
	return &ProvisioningService{
		store:               d.Store,
		gateway:             d.Gateway,
		encoder:             d.Encoder,
		roles:               NewRoleTransitionEngine(d.Store, d.Roles, now),
		events:              d.Events,
		warnings:            d.Warnings,
		logger:              d.Logger,
		tel:                 tel,
		now:                 now,
		newID:               d.NewID,
		compensationTimeout: d.CompensationTimeout,
	}, nil
}

// Result is the caller-facing outcome of an operation. It never carries plaintext passwords or the
// admin token.
type Result struct {
	Success  bool
	Message  string
	Identity *domain.Summary
	Tokens   *idp.TokenPair
	// RemoteSynced is false when best-effort propagation to the identity provider failed.
	RemoteSynced bool
}

// emit publishes a lifecycle event. Failures are logged and never affect the saga outcome.
func (s *ProvisioningService) emit(ctx context.Context, ev *events.Event) {
	if err := s.events.Emit(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "lifecycle event not published", "type", ev.Type, "identity_id", ev.IdentityID, "error", err)
	}
}

// warn reports a consistency warning through every channel. It never returns an error.
func (s *ProvisioningService) warn(ctx context.Context, w domain.ConsistencyWarning) {
	if w.At.IsZero() {
		w.At = s.now()
	}
	s.logger.ErrorContext(ctx, "consistency warning",
		"warning", "consistency",
		"saga", w.Saga,
		"action", w.Action,
		"identity_id", w.IdentityID,
		"remote_id", w.RemoteID,
		"error", w.Cause,
	)
	if s.warnings != nil {
		s.warnings.RecordWarning(ctx, w)
	}
	s.emit(ctx, events.ForWarning(w))
}

// detached returns a context that survives caller cancellation, bounded by the compensation timeout.
func (s *ProvisioningService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
}

// syncRole pushes the role and group for tag to the identity provider. Returns false if either failed.
func (s *ProvisioningService) syncRole(ctx context.Context, i *domain.Identity) bool {
	if i.RemoteID == "" {
		return false
	}
	ok := true
	if err := s.gateway.AssignRole(ctx, i.RemoteID, i.Role); err != nil {
		s.logger.WarnContext(ctx, "remote role assignment failed", "identity_id", i.ID, "remote_id", i.RemoteID, "role", i.Role, "error", err)
		ok = false
	}
	if err := s.gateway.AssignGroup(ctx, i.RemoteID, i.Role); err != nil {
		s.logger.WarnContext(ctx, "remote group assignment failed", "identity_id", i.ID, "remote_id", i.RemoteID, "role", i.Role, "error", err)
		ok = false
	}
	return ok
}
