// Package ledger persists what has been ingested between discovery passes.
//
// Discovery itself is stateless: callers supply the ingested identifiers
// and the watermark. The ledger keeps both per scope (cloud, bucket,
// prefix) in a local SQLite database so the CLI and server can run
// incremental passes across restarts.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/q99/cloudservices/pkg/discovery"
)

const driverName = "sqlite"

// Scope identifies one incremental feed.
type Scope struct {
	Cloud  string
	Bucket string
	Prefix string
}

func (s Scope) validate() error {
	if strings.TrimSpace(s.Cloud) == "" || strings.TrimSpace(s.Bucket) == "" {
		return errors.New("ledger scope requires cloud and bucket")
	}
	return nil
}

// State is what the next discovery pass for a scope should start from.
type State struct {
	Ingested  discovery.IdentifierSet
	Watermark time.Time
}

// Batch is the outcome of one pass to be recorded.
type Batch struct {
	RunID       string
	Identifiers []string

	// Watermark is the newest LastModified among the identifiers. The
	// stored watermark only ever moves forward.
	Watermark time.Time
}

// BatchFromResult builds a Batch from a discovery result.
func BatchFromResult(res *discovery.Result) Batch {
	return Batch{RunID: res.RunID, Identifiers: res.Identifiers, Watermark: res.MaxLastModified}
}

// Store is a SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path and migrates it.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// One connection keeps :memory: databases shared and avoids lock
	// contention on files.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if err := configure(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// State loads the ingested set and watermark for scope. An unknown scope
// yields an empty set and zero watermark.
func (s *Store) State(ctx context.Context, scope Scope) (*State, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}

	state := &State{Ingested: discovery.NewIdentifierSet()}

	var scopeID int64
	var watermark sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT scope_id, watermark_ns FROM ledger_scopes WHERE cloud = ? AND bucket = ? AND prefix = ?`,
		scope.Cloud, scope.Bucket, scope.Prefix,
	).Scan(&scopeID, &watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load scope: %w", err)
	}
	if watermark.Valid {
		state.Watermark = time.Unix(0, watermark.Int64).UTC()
	}

	rows, err := s.db.QueryContext(ctx, `SELECT identifier FROM ledger_entries WHERE scope_id = ?`, scopeID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		state.Ingested.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return state, nil
}

// Commit records a batch for scope in one transaction. Identifiers already
// present are ignored, and the watermark never moves backwards.
func (s *Store) Commit(ctx context.Context, scope Scope, batch Batch) error {
	if err := scope.validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_scopes (cloud, bucket, prefix, watermark_ns, updated_at)
			VALUES (?, ?, ?, NULL, ?)
			ON CONFLICT(cloud, bucket, prefix) DO NOTHING`,
		scope.Cloud, scope.Bucket, scope.Prefix, now,
	); err != nil {
		return fmt.Errorf("ensure scope: %w", err)
	}

	var scopeID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT scope_id FROM ledger_scopes WHERE cloud = ? AND bucket = ? AND prefix = ?`,
		scope.Cloud, scope.Bucket, scope.Prefix,
	).Scan(&scopeID); err != nil {
		return fmt.Errorf("load scope: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ledger_entries (scope_id, identifier, run_id, ingested_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(scope_id, identifier) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range batch.Identifiers {
		if _, err := stmt.ExecContext(ctx, scopeID, id, batch.RunID, now); err != nil {
			return fmt.Errorf("insert %s: %w", id, err)
		}
	}

	if !batch.Watermark.IsZero() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE ledger_scopes
				SET watermark_ns = MAX(COALESCE(watermark_ns, ?), ?), updated_at = ?
				WHERE scope_id = ?`,
			batch.Watermark.UnixNano(), batch.Watermark.UnixNano(), now, scopeID,
		); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("ledger path is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir != "." && dir != string(filepath.Separator) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create ledger directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func configure(ctx context.Context, db *sql.DB, dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}
