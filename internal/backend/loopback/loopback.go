package loopback

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/tokligence/tokligence-relay/internal/backend"
)

// Ensure Backend implements the backend contracts.
var (
	_ backend.Client     = (*Backend)(nil)
	_ backend.OnceClient = (*Backend)(nil)
)

// Backend echoes the last user message back to the caller, one word per chunk.
// It lets the relay run end to end without an inference server.
type Backend struct {
	// Delay is slept before each chunk to mimic token pacing.
	Delay time.Duration
}

// New creates a loopback backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string { return "loopback" }

// CompleteOnce fabricates a deterministic completion.
func (b *Backend) CompleteOnce(ctx context.Context, req backend.Request) (backend.Response, error) {
	reply, err := echo(req)
	if err != nil {
		return backend.Response{}, err
	}
	return backend.Response{
		Model:   req.Model,
		Message: &backend.Message{Role: "assistant", Content: reply},
	}, nil
}

// CompleteStream streams the same reply CompleteOnce returns, split after each space.
func (b *Backend) CompleteStream(ctx context.Context, req backend.Request) (backend.ChunkStream, error) {
	reply, err := echo(req)
	if err != nil {
		return nil, err
	}
	return &stream{parts: splitKeep(reply), delay: b.Delay}, nil
}

func echo(req backend.Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("loopback: no messages provided")
	}
	// find last user message; default to final message if none
	message := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			message = req.Messages[i]
			break
		}
	}
	return "[loopback] " + strings.TrimSpace(message.Content), nil
}

// splitKeep splits s after every space so the parts concatenate back to s.
func splitKeep(s string) []string {
	return strings.SplitAfter(s, " ")
}

type stream struct {
	parts []string
	pos   int
	delay time.Duration
}

func (s *stream) Recv(ctx context.Context) (backend.Chunk, error) {
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return backend.Chunk{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return backend.Chunk{}, err
	}
	if s.pos >= len(s.parts) {
		return backend.Chunk{}, io.EOF
	}
	part := s.parts[s.pos]
	s.pos++
	return backend.Chunk{Content: part}, nil
}

func (s *stream) Close() error { return nil }
