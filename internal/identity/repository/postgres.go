package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"identity-provisioning/internal/identity/domain"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const identityColumns = `id, username, email, password_hash, first_name, last_name, role,
	author_display_name, author_avatar_url, provider, provider_id, remote_id, is_active, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the identity for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

// GetByUsername returns the identity with the given username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE username = $1`, username)
}

// GetByEmail returns the identity with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
}

// List returns all identities, or only those with the given role, ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context, role *domain.RoleTag) ([]*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities`
	var args []interface{}
	if role != nil {
		query += ` WHERE role = $1`
		args = append(args, string(*role))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE username = $1)`, username)
}

func (r *PostgresRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE email = $1)`, email)
}

// Create persists the identity. The identity must have ID set; it is not assigned by this method.
// Returns ErrDuplicate when a unique constraint rejects the row.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	displayName, avatar := authorColumns(i)
	_, err := r.db.ExecContext(ctx, `INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		i.ID, i.Username, i.Email, i.PasswordHash,
		nullString(i.FirstName), nullString(i.LastName), string(i.Role),
		displayName, avatar,
		i.Provider, nullString(i.ProviderID), nullString(i.RemoteID),
		i.Active, i.CreatedAt, i.UpdatedAt,
	)
	return mapWriteError(err)
}

// Update rewrites the mutable columns, role tag and author profile of the row in one statement,
// so a role transition never passes through a state where the row is missing.
func (r *PostgresRepository) Update(ctx context.Context, i *domain.Identity) error {
	displayName, avatar := authorColumns(i)
	res, err := r.db.ExecContext(ctx, `UPDATE identities SET
			username = $2, email = $3, password_hash = $4, first_name = $5, last_name = $6,
			role = $7, author_display_name = $8, author_avatar_url = $9, is_active = $10, updated_at = $11
		WHERE id = $1`,
		i.ID, i.Username, i.Email, i.PasswordHash,
		nullString(i.FirstName), nullString(i.LastName), string(i.Role),
		displayName, avatar, i.Active, i.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return requireOneRow(res)
}

// Delete removes the row for id, whatever its shape.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	i, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return i, nil
}

func (r *PostgresRepository) exists(ctx context.Context, query string, arg string) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdentity(row rowScanner) (*domain.Identity, error) {
	var (
		i                    domain.Identity
		role                 string
		firstName, lastName  sql.NullString
		displayName, avatar  sql.NullString
		providerID, remoteID sql.NullString
	)
	err := row.Scan(
		&i.ID, &i.Username, &i.Email, &i.PasswordHash, &firstName, &lastName, &role,
		&displayName, &avatar, &i.Provider, &providerID, &remoteID, &i.Active, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	i.Role = domain.RoleTag(role)
	i.FirstName = firstName.String
	i.LastName = lastName.String
	i.ProviderID = providerID.String
	i.RemoteID = remoteID.String
	if i.Role == domain.RoleAuthor {
		i.Author = &domain.AuthorProfile{DisplayName: displayName.String, AvatarURL: avatar.String}
	}
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return &i, nil
}

func authorColumns(i *domain.Identity) (sql.NullString, sql.NullString) {
	if i.Author == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: i.Author.DisplayName, Valid: true}, nullString(i.Author.AvatarURL)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
