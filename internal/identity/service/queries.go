package service

import (
	"context"
	"errors"
	"strings"

	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/policy"
)

// Login authenticates against the identity provider. The login name may be a username or an email;
// an email match wins over a username match. It must belong to a known, active local identity.
func (s *ProvisioningService) Login(ctx context.Context, login, password string) (*Result, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperrors.Validation("username and password are required")
	}
	var (
		i   *domain.Identity
		err error
	)
	if strings.Contains(login, "@") {
		i, err = s.store.GetByEmail(ctx, normalizeEmail(login))
	}
	// Usernames may contain "@" too.
	if err == nil && i == nil {
		i, err = s.store.GetByUsername(ctx, login)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnknown, "failed to load identity", err)
	}
	if i == nil {
		return nil, apperrors.New(apperrors.KindAuthentication, "Invalid username or password")
	}
	if !i.Active {
		return nil, apperrors.New(apperrors.KindAuthentication, "Account is disabled")
	}
	tokens, err := s.gateway.Login(ctx, i.Username, password)
	if err != nil {
		s.logger.InfoContext(ctx, "login refused", "identity_id", i.ID, "error", err)
		return nil, asRemoteError("login failed", err)
	}
	return &Result{Success: true, Message: "Login successful", Identity: i.Summary(), Tokens: tokens, RemoteSynced: true}, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (s *ProvisioningService) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperrors.Validation("refresh token is required")
	}
	tokens, err := s.gateway.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, asRemoteError("token refresh failed", err)
	}
	return &Result{Success: true, Message: "Token refreshed", Tokens: tokens, RemoteSynced: true}, nil
}

// Get returns the summary of the identity with the given id.
func (s *ProvisioningService) Get(ctx context.Context, id string) (*domain.Summary, error) {
	i, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return i.Summary(), nil
}

// GetByUsername returns the summary of the identity with the given username.
func (s *ProvisioningService) GetByUsername(ctx context.Context, username string) (*domain.Summary, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.Validation("username is required")
	}
	i, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnknown, "failed to load identity", err)
	}
	if i == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "identity not found")
	}
	return i.Summary(), nil
}

// List returns identity summaries oldest first. A non-empty role keeps only identities with that role,
// so "AUTHOR" lists the authors.
func (s *ProvisioningService) List(ctx context.Context, role string) ([]*domain.Summary, error) {
	var filter *domain.RoleTag
	if role = strings.TrimSpace(role); role != "" {
		tag, err := s.roles.policy.TargetRole(ctx, role)
		if err != nil {
			if errors.Is(err, policy.ErrRoleRejected) {
				return nil, apperrors.Wrap(apperrors.KindValidation, "invalid role: "+role, err)
			}
			return nil, apperrors.Wrap(apperrors.KindUnknown, "role policy unavailable", err)
		}
		filter = &tag
	}
	identities, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnknown, "failed to list identities", err)
	}
	out := make([]*domain.Summary, 0, len(identities))
	for _, i := range identities {
		out = append(out, i.Summary())
	}
	return out, nil
}

// ListRemoteRoles returns the realm role names known to the identity provider.
func (s *ProvisioningService) ListRemoteRoles(ctx context.Context) ([]string, error) {
	roles, err := s.gateway.ListRealmRoles(ctx)
	if err != nil {
		return nil, asRemoteError("failed to list roles", err)
	}
	return roles, nil
}
