package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current ledger schema version.
const SchemaVersion = 1

// Migrate creates the ledger schema in place. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS ledger_scopes (
			scope_id INTEGER PRIMARY KEY AUTOINCREMENT,
			cloud TEXT NOT NULL,
			bucket TEXT NOT NULL,
			prefix TEXT NOT NULL DEFAULT '',
			-- watermark_ns is unix nanoseconds; NULL until the first batch with objects.
			watermark_ns INTEGER,
			updated_at TEXT NOT NULL,
			UNIQUE (cloud, bucket, prefix)
		);`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			scope_id INTEGER NOT NULL REFERENCES ledger_scopes(scope_id) ON DELETE CASCADE,
			identifier TEXT NOT NULL,
			run_id TEXT NOT NULL,
			ingested_at TEXT NOT NULL,
			PRIMARY KEY (scope_id, identifier)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_run ON ledger_entries(run_id);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version = ? WHERE id = 1`, SchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	return tx.Commit()
}

// Version returns the schema version recorded in db.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
