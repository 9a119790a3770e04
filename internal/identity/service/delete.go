package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"identity-provisioning/internal/events"
	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/repository"
	"identity-provisioning/internal/idp"
)

// Delete removes the remote identity first and the local record second. If the remote deletion
// fails the local record is kept. A remote identity that is already gone counts as deleted.
func (s *ProvisioningService) Delete(ctx context.Context, id string) (res *Result, err error) {
	ctx, finish := s.tel.start(ctx, sagaDelete, attribute.String("identity.id", id))
	defer func() { finish(err) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.RemoteID == "" {
		s.logger.WarnContext(ctx, "identity has no remote id; deleting local record only", "identity_id", current.ID)
	} else if rerr := s.gateway.DeleteRemoteIdentity(ctx, current.RemoteID); rerr != nil {
		if !errors.Is(rerr, idp.ErrNotFound) {
			s.logger.WarnContext(ctx, "remote identity deletion failed; local record kept", "identity_id", current.ID, "remote_id", current.RemoteID, "error", rerr)
			return nil, asRemoteError("failed to delete identity at the identity provider", rerr)
		}
		s.logger.InfoContext(ctx, "remote identity already absent", "identity_id", current.ID, "remote_id", current.RemoteID)
	}

	if err := s.store.Delete(ctx, current.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.InfoContext(ctx, "local identity already deleted", "identity_id", current.ID)
		} else {
			s.warn(ctx, domain.ConsistencyWarning{
				Saga:       sagaDelete,
				Action:     "delete local identity after remote deletion",
				IdentityID: current.ID,
				Username:   current.Username,
				RemoteID:   current.RemoteID,
				Cause:      err,
			})
			return nil, apperrors.Wrap(apperrors.KindLocalPersistence, "failed to delete identity", err)
		}
	}

	s.logger.InfoContext(ctx, "identity deleted", "identity_id", current.ID, "username", current.Username)
	s.emit(ctx, events.ForIdentity(events.TypeDeleted, current, s.now()))
	return &Result{Success: true, Message: "User deleted successfully", Identity: current.Summary(), RemoteSynced: true}, nil
}
