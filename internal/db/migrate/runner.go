// Package migrate applies the embedded identities schema using golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"identity-provisioning/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Status is the schema version after a run.
type Status struct {
	Version uint
	Dirty   bool
}

// Run applies migrations in the given direction using the provided DSN.
// direction must be "up", "down", or "version" (report only). Returns ErrNoChange when there is
// nothing to apply.
func Run(dsn string, direction string) (Status, error) {
	if strings.TrimSpace(dsn) == "" {
		return Status{}, errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if direction != "up" && direction != "down" && direction != "version" {
		return Status{}, fmt.Errorf("direction must be up, down or version, got %q", direction)
	}

	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return Status{}, fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return Status{}, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	var runErr error
	switch direction {
	case "up":
		runErr = m.Up()
	case "down":
		runErr = m.Down()
	}
	if runErr != nil && !errors.Is(runErr, migrate.ErrNoChange) {
		return Status{}, runErr
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("migrate version: %w", err)
	}
	return Status{Version: version, Dirty: dirty}, runErr
}
