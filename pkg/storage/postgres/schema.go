package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// The schema only uses types and clauses understood by both PostgreSQL and
// SQLite, so the same stores back the server and the CLI's local ledger.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS prices (
		id          TEXT PRIMARY KEY,
		charge_type TEXT NOT NULL,
		currency    TEXT NOT NULL,
		flat_amount BIGINT,
		tiers       TEXT,
		package     TEXT,
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS commit_results (
		descriptor      TEXT PRIMARY KEY,
		operations_hash TEXT NOT NULL,
		status          TEXT NOT NULL,
		result          TEXT NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS commit_results_status_updated_at
		ON commit_results (status, updated_at)`,
}

// Migrate creates the prices and commit_results tables if they are missing
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
