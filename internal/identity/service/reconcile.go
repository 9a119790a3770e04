package service

import (
	"context"
	"errors"

	"identity-provisioning/internal/events"
	"identity-provisioning/internal/identity/repository"
	"identity-provisioning/internal/idp"
)

// Reconcile retries the compensation described by a consistency_warning event. It returns nil when
// the two stores agree afterwards, and ignores events of other types.
//
// For a failed registration rollback the remote identity is deleted unless a local record now owns
// it. For a failed local deletion the local record is deleted.
func (s *ProvisioningService) Reconcile(ctx context.Context, ev *events.Event) error {
	if ev == nil || ev.Type != events.TypeConsistencyWarning {
		return nil
	}
	switch ev.Saga {
	case sagaRegister:
		if ev.RemoteID == "" {
			return nil
		}
		if ev.IdentityID != "" {
			local, err := s.store.GetByID(ctx, ev.IdentityID)
			if err != nil {
				return err
			}
			if local != nil && local.RemoteID == ev.RemoteID {
				return nil
			}
		}
		err := s.gateway.DeleteRemoteIdentity(ctx, ev.RemoteID)
		if err != nil && !errors.Is(err, idp.ErrNotFound) {
			s.tel.compensated(ctx, sagaRegister, false)
			return err
		}
		s.tel.compensated(ctx, sagaRegister, true)
		s.logger.InfoContext(ctx, "orphaned remote identity removed", "username", ev.Username, "remote_id", ev.RemoteID)
		return nil

	case sagaDelete:
		if ev.IdentityID == "" {
			return nil
		}
		err := s.store.Delete(ctx, ev.IdentityID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.tel.compensated(ctx, sagaDelete, false)
			return err
		}
		s.tel.compensated(ctx, sagaDelete, true)
		s.logger.InfoContext(ctx, "stale local identity removed", "identity_id", ev.IdentityID, "remote_id", ev.RemoteID)
		return nil
	}
	s.logger.WarnContext(ctx, "no reconciliation for saga", "saga", ev.Saga, "identity_id", ev.IdentityID)
	return nil
}
