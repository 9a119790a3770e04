package handler

import (
	"google.golang.org/protobuf/types/known/structpb"

	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/service"
)

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// optStr returns nil when key is absent or null.
func optStr(s *structpb.Struct, key string) *string {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isStr := v.GetKind().(*structpb.Value_StringValue); !isStr {
		return nil
	}
	out := v.GetStringValue()
	return &out
}

func optBool(s *structpb.Struct, key string) *bool {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return nil
	}
	out := v.GetBoolValue()
	return &out
}

func summaryMap(s *domain.Summary) map[string]interface{} {
	m := map[string]interface{}{
		"id":        s.ID,
		"username":  s.Username,
		"email":     s.Email,
		"role":      string(s.Role),
		"is_active": s.Active,
	}
	if s.Role == domain.RoleAuthor {
		m["display_name"] = s.DisplayName
		m["avatar_url"] = s.AvatarURL
	}
	return m
}

// resultStruct renders a service result. Plaintext passwords are never part of a Result.
func resultStruct(res *service.Result) (*structpb.Struct, error) {
	m := map[string]interface{}{
		"success":       res.Success,
		"message":       res.Message,
		"remote_synced": res.RemoteSynced,
	}
	if res.Identity != nil {
		m["identity"] = summaryMap(res.Identity)
	}
	if t := res.Tokens; t != nil {
		m["access_token"] = t.AccessToken
		m["refresh_token"] = t.RefreshToken
		m["token_type"] = t.TokenType
		m["expires_in"] = t.ExpiresIn
		m["refresh_expires_in"] = t.RefreshExpiresIn
	}
	return structpb.NewStruct(m)
}
