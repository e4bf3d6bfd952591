package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/tokligence/tokligence-relay/internal/relay"
)

// Entry is one relay session written to the local ledger. Only sizes and
// counters are kept; prompt and response text never reach the store.
type Entry struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	RequestID       string    `json:"request_id,omitempty"`
	Mode            string    `json:"mode"`
	Model           string    `json:"model"`
	Backend         string    `json:"backend"`
	Outcome         string    `json:"outcome"`
	ChunksForwarded int64     `json:"chunks_forwarded"`
	ChunksSkipped   int64     `json:"chunks_skipped"`
	BackendPulls    int64     `json:"backend_pulls"`
	PromptChars     int64     `json:"prompt_chars"`
	ResponseChars   int64     `json:"response_chars"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// Summary aggregates sessions, optionally for one model.
type Summary struct {
	Sessions        int64 `json:"sessions"`
	Completed       int64 `json:"completed"`
	Failed          int64 `json:"failed"`
	ClientGone      int64 `json:"client_gone"`
	ChunksForwarded int64 `json:"chunks_forwarded"`
	ResponseChars   int64 `json:"response_chars"`
	TotalDurationMS int64 `json:"total_duration_ms"`
}

// Store defines persistence behaviour for the ledger. An empty model selects
// every model.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, model string) (Summary, error)
	ListRecent(ctx context.Context, model string, limit int) ([]Entry, error)
	Close() error
}

// EntryFromOutcome builds the ledger row for a finished session.
func EntryFromOutcome(out relay.Outcome, requestID string, promptChars int) Entry {
	return Entry{
		SessionID:       out.SessionID,
		RequestID:       requestID,
		Mode:            out.Mode,
		Model:           out.Model,
		Backend:         out.Backend,
		Outcome:         out.Kind.String(),
		ChunksForwarded: int64(out.Forwarded),
		ChunksSkipped:   int64(out.Skipped),
		BackendPulls:    int64(out.Pulls),
		PromptChars:     int64(promptChars),
		ResponseChars:   int64(out.Chars),
		DurationMS:      out.Elapsed.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
}

// IsPostgresDSN reports whether a ledger path names a PostgreSQL database
// rather than a SQLite file.
func IsPostgresDSN(path string) bool {
	return strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
}
