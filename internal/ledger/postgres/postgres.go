package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/tokligence-relay/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
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
	id BIGSERIAL PRIMARY KEY,
	session_id UUID NOT NULL,
	request_id TEXT,
	mode TEXT NOT NULL CHECK(mode IN ('stream','once')),
	model TEXT NOT NULL,
	backend TEXT NOT NULL,
	outcome TEXT NOT NULL,
	chunks_forwarded BIGINT NOT NULL DEFAULT 0,
	chunks_skipped BIGINT NOT NULL DEFAULT 0,
	backend_pulls BIGINT NOT NULL DEFAULT 0,
	prompt_chars BIGINT NOT NULL DEFAULT 0,
	response_chars BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_relay_sessions_session_id ON relay_sessions(session_id);
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
	var requestID any
	if entry.RequestID != "" {
		requestID = entry.RequestID
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO relay_sessions(session_id, request_id, mode, model, backend, outcome, chunks_forwarded, chunks_skipped, backend_pulls, prompt_chars, response_chars, duration_ms, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.SessionID,
		requestID,
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
WHERE ($1 = '' OR model = $1)`, model)

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
SELECT id, session_id::text, COALESCE(request_id, ''), mode, model, backend, outcome, chunks_forwarded, chunks_skipped, backend_pulls, prompt_chars, response_chars, duration_ms, created_at
FROM relay_sessions
WHERE ($1 = '' OR model = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2`, model, limit)
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
