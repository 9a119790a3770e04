package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"identity-provisioning/internal/events"
	apperrors "identity-provisioning/internal/errors"
)

// ChangeRole moves the identity to the named role, then assigns the matching remote role and group.
// Changing to the current role is a successful no-op.
func (s *ProvisioningService) ChangeRole(ctx context.Context, id, role string, in AuthorInput) (res *Result, err error) {
	ctx, finish := s.tel.start(ctx, sagaChangeRole, attribute.String("identity.id", id), attribute.String("role.target", role))
	defer func() { finish(err) }()

	if id == "" {
		return nil, apperrors.Validation("identity id is required")
	}
	updated, previous, err := s.roles.Transition(ctx, id, role, in)
	if err != nil {
		return nil, err
	}
	if updated.Role == previous {
		return &Result{Success: true, Message: "Identity already has role " + string(previous), Identity: updated.Summary(), RemoteSynced: true}, nil
	}

	synced := s.syncRole(ctx, updated)
	s.logger.InfoContext(ctx, "identity role changed", "identity_id", updated.ID, "from", previous, "to", updated.Role, "remote_synced", synced)
	ev := events.ForIdentity(events.TypeRoleChanged, updated, s.now())
	ev.PreviousRole = string(previous)
	ev.RemoteSynced = &synced
	s.emit(ctx, ev)

	msg := "Role changed successfully"
	if !synced {
		msg = "Role changed locally; identity provider sync failed"
	}
	return &Result{Success: true, Message: msg, Identity: updated.Summary(), RemoteSynced: synced}, nil
}
