package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"identity-provisioning/internal/events"
	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/repository"
)

// ChangePasswordRequest is the input to ChangePassword. Confirm is checked only when non-empty.
type ChangePasswordRequest struct {
	Current string
	New     string
	Confirm string
}

// ChangePassword verifies the current password, stores the new hash locally, then sets the new
// password at the identity provider. A remote failure does not roll back the local change.
func (s *ProvisioningService) ChangePassword(ctx context.Context, id string, req ChangePasswordRequest) (res *Result, err error) {
	ctx, finish := s.tel.start(ctx, sagaChangePassword, attribute.String("identity.id", id))
	defer func() { finish(err) }()

	if req.Current == "" || req.New == "" {
		return nil, apperrors.Validation("current and new password are required")
	}
	if req.Confirm != "" && req.Confirm != req.New {
		return nil, apperrors.Validation("New password and confirmation do not match")
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.encoder.Matches(req.Current, current.PasswordHash) {
		return nil, apperrors.Validation("Current password is incorrect")
	}
	if req.New == req.Current {
		return nil, apperrors.Validation("New password must be different from the current password")
	}
	hash, err := s.encoder.Encode(req.New)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "invalid password", err)
	}

	working := current.Clone()
	working.PasswordHash = hash
	working.UpdatedAt = s.now()
	if err := s.store.Update(ctx, working); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.KindNotFound, "identity not found", err)
		}
		return nil, apperrors.Wrap(apperrors.KindLocalPersistence, "failed to save password", err)
	}

	res = &Result{Success: true, Message: "Password changed successfully", Identity: working.Summary(), RemoteSynced: true}
	switch {
	case working.RemoteID == "":
		s.logger.WarnContext(ctx, "identity has no remote id; password not propagated", "identity_id", working.ID)
		res.RemoteSynced = false
		res.Message = "Password changed locally; identity provider sync failed"
	default:
		if perr := s.gateway.SetRemotePassword(ctx, working.RemoteID, req.New); perr != nil {
			s.logger.WarnContext(ctx, "remote password update failed", "identity_id", working.ID, "remote_id", working.RemoteID, "error", perr)
			res.RemoteSynced = false
			res.Message = "Password changed locally; identity provider sync failed"
			if apperrors.IsKind(perr, apperrors.KindCredentialPolicyRejected) {
				res.Message = "Password changed locally but rejected by the identity provider. " + apperrors.CredentialPolicyMessage
			}
		}
	}

	synced := res.RemoteSynced
	ev := events.ForIdentity(events.TypePasswordChanged, working, s.now())
	ev.RemoteSynced = &synced
	s.emit(ctx, ev)
	return res, nil
}
