package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"identity-provisioning/internal/events"
	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/repository"
)

// UpdateRequest is a partial profile update with an optional role change.
type UpdateRequest struct {
	Patch domain.Patch
	// Role, when set, moves the identity to that role in the same local write.
	Role *string
}

// UpdateProfile writes the local record first, then propagates profile and role changes to the
// identity provider. Remote propagation is best-effort and reported through Result.RemoteSynced.
func (s *ProvisioningService) UpdateProfile(ctx context.Context, id string, req UpdateRequest) (res *Result, err error) {
	ctx, finish := s.tel.start(ctx, sagaUpdate, attribute.String("identity.id", id))
	defer func() { finish(err) }()

	patch := req.Patch.Normalize()
	if patch.IsEmpty() && req.Role == nil {
		return nil, apperrors.Validation("nothing to update")
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkUniqueFields(ctx, current, patch); err != nil {
		return nil, err
	}

	working := current.Clone()
	changed := patch.ApplyTo(working)

	var target domain.RoleTag
	roleChanged := false
	if req.Role != nil {
		target, err = s.roles.ResolveTarget(ctx, *req.Role)
		if err != nil {
			return nil, err
		}
		in := AuthorInput{}
		if patch.AuthorDisplayName != nil {
			in.DisplayName = *patch.AuthorDisplayName
		}
		if patch.AvatarURL != nil {
			in.AvatarURL = *patch.AvatarURL
		}
		roleChanged, err = s.roles.Apply(ctx, working, target, in)
		if err != nil {
			return nil, err
		}
	}

	if len(changed) == 0 && !roleChanged {
		return &Result{Success: true, Message: "No changes", Identity: current.Summary(), RemoteSynced: true}, nil
	}

	working.UpdatedAt = s.now()
	if err := working.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err.Error(), err)
	}
	if err := s.store.Update(ctx, working); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.Wrap(apperrors.KindNotFound, "identity not found", err)
		case errors.Is(err, repository.ErrDuplicate):
			return nil, apperrors.Wrap(apperrors.KindValidation, "username or email already exists", err)
		case roleChanged:
			return nil, apperrors.Wrap(apperrors.KindRoleTransition, "failed to persist role change", err)
		}
		return nil, apperrors.Wrap(apperrors.KindLocalPersistence, "failed to save identity", err)
	}

	synced := true
	if domain.TouchesRemoteProfile(changed) {
		synced = s.pushProfile(ctx, working)
	}
	if roleChanged {
		synced = s.syncRole(ctx, working) && synced
	}

	ev := events.ForIdentity(events.TypeUpdated, working, s.now())
	ev.RemoteSynced = &synced
	s.emit(ctx, ev)
	if roleChanged {
		rev := events.ForIdentity(events.TypeRoleChanged, working, s.now())
		rev.PreviousRole = string(current.Role)
		rev.RemoteSynced = &synced
		s.emit(ctx, rev)
	}

	msg := "Profile updated successfully"
	if !synced {
		msg = "Profile updated locally; identity provider sync failed"
	}
	return &Result{Success: true, Message: msg, Identity: working.Summary(), RemoteSynced: synced}, nil
}

func (s *ProvisioningService) pushProfile(ctx context.Context, i *domain.Identity) bool {
	if i.RemoteID == "" {
		s.logger.WarnContext(ctx, "identity has no remote id; profile not propagated", "identity_id", i.ID)
		return false
	}
	if err := s.gateway.UpdateRemoteIdentity(ctx, i); err != nil {
		s.logger.WarnContext(ctx, "remote profile update failed", "identity_id", i.ID, "remote_id", i.RemoteID, "error", err)
		return false
	}
	return true
}

// checkUniqueFields rejects a username or email that belongs to another identity.
func (s *ProvisioningService) checkUniqueFields(ctx context.Context, current *domain.Identity, p domain.Patch) error {
	if p.Username != nil && *p.Username != current.Username {
		if err := validateUsername(*p.Username); err != nil {
			return err
		}
		other, err := s.store.GetByUsername(ctx, *p.Username)
		if err != nil {
			return apperrors.Wrap(apperrors.KindUnknown, "failed to check username", err)
		}
		if other != nil && other.ID != current.ID {
			return apperrors.Validation("Username already exists")
		}
	}
	if p.Email != nil && *p.Email != current.Email {
		if err := validateEmail(*p.Email); err != nil {
			return err
		}
		other, err := s.store.GetByEmail(ctx, *p.Email)
		if err != nil {
			return apperrors.Wrap(apperrors.KindUnknown, "failed to check email", err)
		}
		if other != nil && other.ID != current.ID {
			return apperrors.Validation("Email already exists")
		}
	}
	return nil
}

// load returns the identity for id or a NOT_FOUND error.
func (s *ProvisioningService) load(ctx context.Context, id string) (*domain.Identity, error) {
	if id == "" {
		return nil, apperrors.Validation("identity id is required")
	}
	i, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnknown, "failed to load identity", err)
	}
	if i == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "identity not found")
	}
	return i, nil
}
