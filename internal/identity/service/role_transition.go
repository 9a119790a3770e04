package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/repository"
	"identity-provisioning/internal/policy"
)

// AuthorInput carries the optional author fields used when an identity becomes AUTHOR.
// An empty DisplayName is derived from the identity's names.
type AuthorInput struct {
	DisplayName string
	AvatarURL   string
}

// RoleTransitionEngine moves identities between PLAIN and AUTHOR. The identity id, remote id,
// credentials and creation time survive every transition.
type RoleTransitionEngine struct {
	store  repository.Repository
	policy policy.RoleEvaluator
	now    func() time.Time
}

// NewRoleTransitionEngine returns an engine that persists through store.
func NewRoleTransitionEngine(store repository.Repository, evaluator policy.RoleEvaluator, now func() time.Time) *RoleTransitionEngine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RoleTransitionEngine{store: store, policy: evaluator, now: now}
}

// ResolveTarget parses a raw target role name.
func (e *RoleTransitionEngine) ResolveTarget(ctx context.Context, raw string) (domain.RoleTag, error) {
	tag, err := e.policy.TargetRole(ctx, raw)
	if err != nil {
		if errors.Is(err, policy.ErrRoleRejected) {
			return "", apperrors.Wrap(apperrors.KindRoleTransition, fmt.Sprintf("invalid role: %q", raw), err)
		}
		return "", apperrors.Wrap(apperrors.KindUnknown, "role policy unavailable", err)
	}
	return tag, nil
}

// Apply reshapes i in memory to target. It returns false when i already has the target role.
func (e *RoleTransitionEngine) Apply(ctx context.Context, i *domain.Identity, target domain.RoleTag, in AuthorInput) (bool, error) {
	if i.Role == target {
		return false, nil
	}
	allowed, err := e.policy.AllowTransition(ctx, i.Role, target)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindUnknown, "role policy unavailable", err)
	}
	if !allowed {
		return false, apperrors.New(apperrors.KindRoleTransition,
			fmt.Sprintf("transition from %s to %s is not allowed", i.Role, target))
	}
	now := e.now()
	switch target {
	case domain.RoleAuthor:
		name := in.DisplayName
		if name == "" {
			name = domain.DeriveDisplayName(i.FirstName, i.LastName, i.Username)
		}
		i.BecomeAuthor(domain.AuthorProfile{DisplayName: name, AvatarURL: in.AvatarURL}, now)
	case domain.RolePlain:
		i.BecomePlain(now)
	default:
		return false, apperrors.New(apperrors.KindRoleTransition, fmt.Sprintf("invalid role: %q", target))
	}
	return true, nil
}

// Transition loads the identity, reshapes it and persists the new shape in a single row update.
// It returns the stored identity and its previous role. A failed write leaves the stored shape untouched.
func (e *RoleTransitionEngine) Transition(ctx context.Context, id, rawTarget string, in AuthorInput) (*domain.Identity, domain.RoleTag, error) {
	target, err := e.ResolveTarget(ctx, rawTarget)
	if err != nil {
		return nil, "", err
	}
	current, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindUnknown, "failed to load identity", err)
	}
	if current == nil {
		return nil, "", apperrors.New(apperrors.KindNotFound, "identity not found")
	}
	previous := current.Role
	working := current.Clone()
	changed, err := e.Apply(ctx, working, target, in)
	if err != nil {
		return nil, previous, err
	}
	if !changed {
		return current, previous, nil
	}
	if err := working.Validate(); err != nil {
		return nil, previous, apperrors.Wrap(apperrors.KindRoleTransition, "invalid identity shape", err)
	}
	if err := e.store.Update(ctx, working); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, previous, apperrors.Wrap(apperrors.KindNotFound, "identity not found", err)
		}
		return nil, previous, apperrors.Wrap(apperrors.KindRoleTransition, "failed to persist role change", err)
	}
	return working, previous, nil
}
