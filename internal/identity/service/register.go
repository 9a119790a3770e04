package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"identity-provisioning/internal/events"
	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/repository"
	"identity-provisioning/internal/idp"
	"identity-provisioning/internal/policy"
	"identity-provisioning/internal/security"
)

// RegisterRequest is the input to Register. Role may be empty; the role policy then picks the default.
type RegisterRequest struct {
	Username          string
	Email             string
	Password          string
	FirstName         string
	LastName          string
	Role              string
	AuthorDisplayName string
	AvatarURL         string
}

// Register creates the remote identity first, then the local record. If the local write fails the
// remote identity is deleted again; a failed deletion is reported as a consistency warning.
func (s *ProvisioningService) Register(ctx context.Context, req RegisterRequest) (res *Result, err error) {
	ctx, finish := s.tel.start(ctx, sagaRegister, attribute.String("identity.username", strings.TrimSpace(req.Username)))
	defer func() { finish(err) }()

	candidate, err := s.prepareCandidate(ctx, req)
	if err != nil {
		return nil, err
	}

	remoteID, err := s.gateway.CreateRemoteIdentity(ctx, candidate, req.Password)
	if err != nil {
		s.logger.WarnContext(ctx, "remote identity creation failed", "username", candidate.Username, "error", err)
		return nil, asRemoteError("failed to create identity at the identity provider", err)
	}
	if err := candidate.AttachRemoteID(remoteID); err != nil {
		return nil, apperrors.Wrap(apperrors.KindRemoteProvisioning, "identity provider returned no id", err)
	}

	if err := s.store.Create(ctx, candidate); err != nil {
		s.logger.ErrorContext(ctx, "local identity write failed after remote creation", "username", candidate.Username, "remote_id", remoteID, "error", err)
		s.compensateRemoteCreate(ctx, candidate, err)
		msg := "failed to save identity"
		if errors.Is(err, repository.ErrDuplicate) {
			msg = "username or email already exists"
		}
		return nil, apperrors.Wrap(apperrors.KindLocalPersistence, msg, err)
	}

	synced := s.syncRole(ctx, candidate)
	s.logger.InfoContext(ctx, "identity registered", "identity_id", candidate.ID, "username", candidate.Username, "role", candidate.Role, "remote_synced", synced)
	ev := events.ForIdentity(events.TypeRegistered, candidate, s.now())
	ev.RemoteSynced = &synced
	s.emit(ctx, ev)

	return &Result{
		Success:      true,
		Message:      "User registered successfully",
		Identity:     candidate.Summary(),
		RemoteSynced: synced,
	}, nil
}

// prepareCandidate validates the request and builds the identity to provision. No external call is
// made before it succeeds.
func (s *ProvisioningService) prepareCandidate(ctx context.Context, req RegisterRequest) (*domain.Identity, error) {
	username := strings.TrimSpace(req.Username)
	email := normalizeEmail(req.Email)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, apperrors.Validation("password is required")
	}

	role, err := s.roles.policy.RegistrationRole(ctx, req.Role)
	if err != nil {
		if errors.Is(err, policy.ErrRoleRejected) {
			return nil, apperrors.Wrap(apperrors.KindValidation, "invalid role: "+strings.TrimSpace(req.Role), err)
		}
		return nil, apperrors.Wrap(apperrors.KindUnknown, "role policy unavailable", err)
	}

	taken, err := s.store.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnknown, "failed to check username", err)
	}
	if taken {
		return nil, apperrors.Validation("Username already exists")
	}
	taken, err = s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnknown, "failed to check email", err)
	}
	if taken {
		return nil, apperrors.Validation("Email already exists")
	}

	hash, err := s.encoder.Encode(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) || errors.Is(err, security.ErrEmptyPassword) {
			return nil, apperrors.Wrap(apperrors.KindValidation, "invalid password", err)
		}
		return nil, apperrors.Wrap(apperrors.KindUnknown, "failed to encode password", err)
	}

	now := s.now()
	candidate := &domain.Identity{
		ID:           s.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         role,
		Provider:     domain.ProviderLocal,
		ProviderID:   username,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if role == domain.RoleAuthor {
		name := strings.TrimSpace(req.AuthorDisplayName)
		if name == "" {
			name = domain.DeriveDisplayName(candidate.FirstName, candidate.LastName, candidate.Username)
		}
		candidate.Author = &domain.AuthorProfile{DisplayName: name, AvatarURL: strings.TrimSpace(req.AvatarURL)}
	}
	if err := candidate.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err.Error(), err)
	}
	return candidate, nil
}

// compensateRemoteCreate deletes the remote identity created for candidate. It runs on a detached
// context so a cancelled request still rolls back. It never returns an error.
func (s *ProvisioningService) compensateRemoteCreate(ctx context.Context, candidate *domain.Identity, localErr error) {
	cctx, cancel := s.detached(ctx)
	defer cancel()

	err := s.gateway.DeleteRemoteIdentity(cctx, candidate.RemoteID)
	if err != nil && errors.Is(err, idp.ErrNotFound) {
		err = nil
	}
	s.tel.compensated(cctx, sagaRegister, err == nil)
	if err == nil {
		s.logger.InfoContext(cctx, "remote identity rolled back", "username", candidate.Username, "remote_id", candidate.RemoteID)
		return
	}
	s.warn(cctx, domain.ConsistencyWarning{
		Saga:       sagaRegister,
		Action:     "delete remote identity after local write failure",
		IdentityID: candidate.ID,
		Username:   candidate.Username,
		RemoteID:   candidate.RemoteID,
		Cause:      errors.Join(err, localErr),
	})
}
