// Package sqlite provides SQLite-backed persistence for runs and task nodes.
// WAL journaling plus transactional compare-and-set updates give the durable
// state the crash-at-any-point guarantees the engines rely on.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cadenza-io/cadenza/pkg/persistence"
)

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	runs  *runRepository
	nodes *nodeRepository
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the run database and applies migrations.
func Open(url string) (*Store, error) {
	dbPath := strings.Replace(url, "sqlite://", "", 1)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()

			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	store.runs = &runRepository{store: store}
	store.nodes = &nodeRepository{store: store}

	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

func (s *Store) Runs() persistence.RunRepository   { return s.runs }
func (s *Store) Nodes() persistence.NodeRepository { return s.nodes }

func (s *Store) Close(_ context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) applyMigrations(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    input_reference TEXT NOT NULL,
    provider        TEXT NOT NULL,
    status          TEXT NOT NULL,
    metadata_json   TEXT,
    result_json     TEXT,
    error           TEXT,
    created_at      TEXT NOT NULL,
    started_at      TEXT,
    finished_at     TEXT,
    archived_at     TEXT
);

CREATE TABLE IF NOT EXISTS task_nodes (
    run_id        TEXT NOT NULL,
    id            TEXT NOT NULL,
    type          TEXT NOT NULL,
    parents_json  TEXT NOT NULL,
    join_policy   TEXT NOT NULL,
    best_effort   INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    attempts      INTEGER NOT NULL DEFAULT 0,
    input_json    TEXT,
    output_json   TEXT,
    error         TEXT,
    next_retry_at TEXT,
    created_at    TEXT NOT NULL,
    started_at    TEXT,
    finished_at   TEXT,
    ord           INTEGER NOT NULL,
    PRIMARY KEY (run_id, id),
    FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE INDEX IF NOT EXISTS idx_task_nodes_run_status ON task_nodes(run_id, status);
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}

	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff

	var lastErr error

	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}

	return lastErr
}

// withTx runs op inside a transaction, retrying the whole transaction on
// SQLITE_BUSY.
func (s *Store) withTx(ctx context.Context, op func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}

		if err := op(tx); err != nil {
			_ = tx.Rollback()

			return err
		}

		return tx.Commit()
	})
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}

	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", value.String, err)
	}

	return &parsed, nil
}
