package db

import "embed"

// MigrationFS embeds the identities schema migrations from internal/db/migrations.
// Used by the migrate runner (cmd/migrate) and by repository integration tests.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
