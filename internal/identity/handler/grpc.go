package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/service"
)

// Provisioner is the service surface used by the gRPC handler.
type Provisioner interface {
	Register(ctx context.Context, req service.RegisterRequest) (*service.Result, error)
	Login(ctx context.Context, login, password string) (*service.Result, error)
	Refresh(ctx context.Context, refreshToken string) (*service.Result, error)
	Get(ctx context.Context, id string) (*domain.Summary, error)
	GetByUsername(ctx context.Context, username string) (*domain.Summary, error)
	UpdateProfile(ctx context.Context, id string, req service.UpdateRequest) (*service.Result, error)
	ChangePassword(ctx context.Context, id string, req service.ChangePasswordRequest) (*service.Result, error)
	ChangeRole(ctx context.Context, id, role string, in service.AuthorInput) (*service.Result, error)
	Delete(ctx context.Context, id string) (*service.Result, error)
	ListRemoteRoles(ctx context.Context) ([]string, error)
	List(ctx context.Context, role string) ([]*domain.Summary, error)
}

// IdentityServer implements identity.v1.IdentityService.
type IdentityServer struct {
	svc Provisioner
}

// NewIdentityServer returns a new Identity gRPC server. svc may be nil; then every RPC returns Unimplemented.
func NewIdentityServer(svc Provisioner) *IdentityServer {
	return &IdentityServer{svc: svc}
}

var _ IdentityServiceServer = (*IdentityServer)(nil)

func (s *IdentityServer) unavailable() error {
	if s.svc == nil {
		return status.Error(codes.Unimplemented, "identity service not configured")
	}
	return nil
}

// Register provisions a new identity.
func (s *IdentityServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	res, err := s.svc.Register(ctx, service.RegisterRequest{
		Username:          str(req, "username"),
		Email:             str(req, "email"),
		Password:          str(req, "password"),
		FirstName:         str(req, "first_name"),
		LastName:          str(req, "last_name"),
		Role:              str(req, "role"),
		AuthorDisplayName: str(req, "display_name"),
		AvatarURL:         str(req, "avatar_url"),
	})
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	return resultStruct(res)
}

// Login exchanges user credentials for tokens.
func (s *IdentityServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	res, err := s.svc.Login(ctx, str(req, "username"), str(req, "password"))
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	return resultStruct(res)
}

func (s *IdentityServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	res, err := s.svc.Refresh(ctx, str(req, "refresh_token"))
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	return resultStruct(res)
}

// GetIdentity looks an identity up by id, or by username when id is empty.
func (s *IdentityServer) GetIdentity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	var (
		sum *domain.Summary
		err error
	)
	if id := str(req, "id"); id != "" {
		sum, err = s.svc.Get(ctx, id)
	} else {
		sum, err = s.svc.GetByUsername(ctx, str(req, "username"))
	}
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"success":  true,
		"identity": summaryMap(sum),
	})
}

// UpdateIdentity applies a partial update. Absent fields are left unchanged.
func (s *IdentityServer) UpdateIdentity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	res, err := s.svc.UpdateProfile(ctx, str(req, "id"), service.UpdateRequest{
		Patch: domain.Patch{
			Username:          optStr(req, "username"),
			Email:             optStr(req, "email"),
			FirstName:         optStr(req, "first_name"),
			LastName:          optStr(req, "last_name"),
			Active:            optBool(req, "is_active"),
			AuthorDisplayName: optStr(req, "display_name"),
			AvatarURL:         optStr(req, "avatar_url"),
		},
		Role: optStr(req, "role"),
	})
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	return resultStruct(res)
}

func (s *IdentityServer) ChangePassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	res, err := s.svc.ChangePassword(ctx, str(req, "id"), service.ChangePasswordRequest{
		Current: str(req, "current_password"),
		New:     str(req, "new_password"),
		Confirm: str(req, "confirm_password"),
	})
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	return resultStruct(res)
}

func (s *IdentityServer) ChangeRole(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	res, err := s.svc.ChangeRole(ctx, str(req, "id"), str(req, "role"), service.AuthorInput{
		DisplayName: str(req, "display_name"),
		AvatarURL:   str(req, "avatar_url"),
	})
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	return resultStruct(res)
}

func (s *IdentityServer) DeleteIdentity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	res, err := s.svc.Delete(ctx, str(req, "id"))
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	return resultStruct(res)
}

// ListRemoteRoles returns the realm role names known to the identity provider.
func (s *IdentityServer) ListRemoteRoles(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	roles, err := s.svc.ListRemoteRoles(ctx)
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	list := make([]interface{}, len(roles))
	for i, r := range roles {
		list[i] = r
	}
	return structpb.NewStruct(map[string]interface{}{"success": true, "roles": list})
}

// ListIdentities returns identity summaries, optionally only those with the requested role.
func (s *IdentityServer) ListIdentities(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.unavailable(); err != nil {
		return nil, err
	}
	summaries, err := s.svc.List(ctx, str(req, "role"))
	if err != nil {
		return nil, apperrors.HandleError(err)
	}
	list := make([]interface{}, len(summaries))
	for i, sum := range summaries {
		list[i] = summaryMap(sum)
	}
	return structpb.NewStruct(map[string]interface{}{"success": true, "identities": list})
}
