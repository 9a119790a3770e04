// Package policy decides which role tags registrations and role changes may use.
package policy

import (
	"context"
	"errors"

	"identity-provisioning/internal/identity/domain"
)

// ErrRoleRejected is returned when the policy yields no role for a request.
var ErrRoleRejected = errors.New("role rejected by policy")

// RoleEvaluator evaluates role policies using OPA or other engines.
type RoleEvaluator interface {
	// RegistrationRole resolves the role tag for a registration's raw role string.
	RegistrationRole(ctx context.Context, requested string) (domain.RoleTag, error)
	// TargetRole resolves a raw role-change target. Unknown names return ErrRoleRejected.
	TargetRole(ctx context.Context, requested string) (domain.RoleTag, error)
	// AllowTransition reports whether an identity may move from one tag to another.
	AllowTransition(ctx context.Context, from, to domain.RoleTag) (bool, error)
}
