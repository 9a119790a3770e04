package repository

import (
	"context"
	"errors"

	"identity-provisioning/internal/identity/domain"
)

var (
	// ErrDuplicate is returned by Create and Update when a username, email, or remote id is already taken.
	ErrDuplicate = errors.New("identity already exists")
	// ErrNotFound is returned by Update and Delete when no row has the given id.
	ErrNotFound = errors.New("identity not found")
)

// Repository defines persistence for identities. Plain and author identities share one id space.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByUsername(ctx context.Context, username string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// List returns identities oldest first. A non-nil role keeps only identities with that role tag.
	List(ctx context.Context, role *domain.RoleTag) ([]*domain.Identity, error)
	// Create inserts the identity, including its author profile when present.
	Create(ctx context.Context, i *domain.Identity) error
	// Update rewrites the mutable columns and the author profile in a single statement.
	// RemoteID and CreatedAt are never written.
	Update(ctx context.Context, i *domain.Identity) error
	Delete(ctx context.Context, id string) error
}
