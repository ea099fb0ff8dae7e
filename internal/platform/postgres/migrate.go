// Package postgres owns the database schema. The schema is embedded and
// idempotent so a fresh instance bootstraps itself on startup.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// EnsureSchema applies the embedded schema. Every statement is IF NOT EXISTS,
// so running it against an initialized database is a no-op.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
