package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/tokligence-relay/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; WAL lets readers proceed alongside it
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS relay_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL UNIQUE,
	request_id TEXT,
	mode TEXT NOT NULL CHECK(mode IN ('stream','once')),
	model TEXT NOT NULL,
	backend TEXT NOT NULL,
	outcome TEXT NOT NULL,
	chunks_forwarded INTEGER NOT NULL DEFAULT 0,
	chunks_skipped INTEGER NOT NULL DEFAULT 0,
	backend_pulls INTEGER NOT NULL DEFAULT 0,
	prompt_chars INTEGER NOT NULL DEFAULT 0,
	response_chars INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_relay_sessions_model_created ON relay_sessions(model, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a session entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.SessionID == "" {
		return errors.New("ledger record requires session id")
	}
	if entry.Mode != "stream" && entry.Mode != "once" {
		return fmt.Errorf("invalid mode %q", entry.Mode)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO relay_sessions(session_id, request_id, mode, model, backend, outcome, chunks_forwarded, chunks_skipped, backend_pulls, prompt_chars, response_chars, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		entry.RequestID,
		entry.Mode,
		entry.Model,
		entry.Backend,
		entry.Outcome,
		entry.ChunksForwarded,
		entry.ChunksSkipped,
		entry.BackendPulls,
		entry.PromptChars,
		entry.ResponseChars,
		entry.DurationMS,
		created,
	)
	return err
}

// Summary returns aggregated session counters.
func (s *Store) Summary(ctx context.Context, model string) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN outcome='completed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome IN ('call_start_failed','mid_stream_failed') THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='client_gone' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(chunks_forwarded), 0),
	COALESCE(SUM(response_chars), 0),
	COALESCE(SUM(duration_ms), 0)
FROM relay_sessions
WHERE (? = '' OR model = ?)`, model, model)

	var sum ledger.Summary
	if err := row.Scan(&sum.Sessions, &sum.Completed, &sum.Failed, &sum.ClientGone,
		&sum.ChunksForwarded, &sum.ResponseChars, &sum.TotalDurationMS); err != nil {
		return ledger.Summary{}, err
	}
	return sum, nil
}

// ListRecent returns the latest entries.
func (s *Store) ListRecent(ctx context.Context, model string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, COALESCE(request_id, ''), mode, model, backend, outcome, chunks_forwarded, chunks_skipped, backend_pulls, prompt_chars, response_chars, duration_ms, created_at
FROM relay_sessions
WHERE (? = '' OR model = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?`, model, model, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.RequestID, &e.Mode, &e.Model, &e.Backend, &e.Outcome,
			&e.ChunksForwarded, &e.ChunksSkipped, &e.BackendPulls, &e.PromptChars, &e.ResponseChars,
			&e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
