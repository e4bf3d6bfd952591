package backend

import (
	"context"
	"io"
)

// Message follows the role/content chat schema shared by local inference servers.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single backend chat call.
type Request struct {
	Model    string
	Messages []Message
}

// UserRequest builds a one-turn request carrying the user prompt.
func UserRequest(model, prompt string) Request {
	return Request{
		Model:    model,
		Messages: []Message{{Role: "user", Content: prompt}},
	}
}

// Response is the result of a single-shot completion. Message is nil when the
// backend answered without an assistant message.
type Response struct {
	Model   string
	Message *Message
}

// Chunk is one partial-text fragment of a streamed completion.
type Chunk struct {
	Content string
}

// ChunkStream is a lazy, finite sequence of chunks. Recv returns io.EOF once the
// sequence is exhausted; any other error is terminal. Close releases the
// underlying call and may be called more than once.
type ChunkStream interface {
	Recv(ctx context.Context) (Chunk, error)
	Close() error
}

// Client is implemented by every backend adapter.
type Client interface {
	Name() string
	CompleteStream(ctx context.Context, req Request) (ChunkStream, error)
}

// OnceClient is implemented by backends exposing a single-shot completion.
// Backends without it are served through stream accumulation.
type OnceClient interface {
	CompleteOnce(ctx context.Context, req Request) (Response, error)
}

// ModelLister is implemented by backends that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// HealthChecker is implemented by backends with a cheap reachability probe.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SliceStream replays a fixed set of chunks, then an optional terminal error.
// Adapters use it to present a single-shot answer as a chunk sequence.
type SliceStream struct {
	chunks []Chunk
	err    error
	pos    int
}

// NewSliceStream returns a ChunkStream over chunks ending with err (io.EOF when nil).
func NewSliceStream(chunks []Chunk, err error) *SliceStream {
	return &SliceStream{chunks: chunks, err: err}
}

func (s *SliceStream) Recv(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return Chunk{}, s.err
	}
	return Chunk{}, io.EOF
}

func (s *SliceStream) Close() error { return nil }
