package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"

	"github.com/tokligence/tokligence-relay/internal/backend"
)

// Ensure Backend implements the backend contracts.
var (
	_ backend.Client        = (*Backend)(nil)
	_ backend.OnceClient    = (*Backend)(nil)
	_ backend.ModelLister   = (*Backend)(nil)
	_ backend.HealthChecker = (*Backend)(nil)
)

const defaultBaseURL = "http://localhost:11434"

// Config holds configuration for one Ollama handle.
type Config struct {
	BaseURL    string // optional, defaults to http://localhost:11434
	HTTPClient *http.Client
}

// Backend talks to the native Ollama chat API.
type Backend struct {
	client  *api.Client
	baseURL string
}

// New creates an Ollama handle.
func New(cfg Config) (*Backend, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ollama: invalid base url %q", base)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = backend.NewHTTPClient(backend.HTTPConfig{})
	}
	return &Backend{client: api.NewClient(u, hc), baseURL: base}, nil
}

func (b *Backend) Name() string { return "ollama" }

// CompleteOnce sends a non-streaming chat request.
func (b *Backend) CompleteOnce(ctx context.Context, req backend.Request) (backend.Response, error) {
	stream := false
	var (
		got  api.ChatResponse
		seen bool
	)
	err := b.client.Chat(ctx, toChatRequest(req, &stream), func(r api.ChatResponse) error {
		got = r
		seen = true
		return nil
	})
	if err != nil {
		return backend.Response{}, fmt.Errorf("ollama: chat: %w", err)
	}
	resp := backend.Response{Model: req.Model}
	if seen && (got.Message.Role != "" || got.Message.Content != "") {
		resp.Message = &backend.Message{Role: got.Message.Role, Content: got.Message.Content}
	}
	return resp, nil
}

// CompleteStream starts a streaming chat request. The HTTP call runs in its own
// goroutine and hands each response line over an unbuffered channel, so the
// next line is only read after the caller pulled the previous chunk.
func (b *Backend) CompleteStream(ctx context.Context, req backend.Request) (backend.ChunkStream, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("ollama: no messages provided")
	}
	callCtx, cancel := context.WithCancel(ctx)
	s := &chatStream{
		items:  make(chan api.ChatResponse),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	stream := true
	chatReq := toChatRequest(req, &stream)
	go func() {
		defer close(s.done)
		err := b.client.Chat(callCtx, chatReq, func(r api.ChatResponse) error {
			select {
			case s.items <- r:
				return nil
			case <-callCtx.Done():
				return callCtx.Err()
			}
		})
		if err != nil {
			s.err = fmt.Errorf("ollama: chat stream: %w", err)
		}
	}()
	return s, nil
}

// ListModels returns the names of locally available models.
func (b *Backend) ListModels(ctx context.Context) ([]string, error) {
	resp, err := b.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama: list models: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping checks that the Ollama server answers.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama: heartbeat %s: %w", b.baseURL, err)
	}
	return nil
}

func toChatRequest(req backend.Request, stream *bool) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	return &api.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   stream,
	}
}

type chatStream struct {
	items  chan api.ChatResponse
	done   chan struct{}
	err    error // written before done is closed
	cancel context.CancelFunc
	once   sync.Once
}

func (s *chatStream) Recv(ctx context.Context) (backend.Chunk, error) {
	select {
	case r := <-s.items:
		return backend.Chunk{Content: r.Message.Content}, nil
	case <-s.done:
		if s.err != nil {
			return backend.Chunk{}, s.err
		}
		return backend.Chunk{}, io.EOF
	case <-ctx.Done():
		return backend.Chunk{}, ctx.Err()
	}
}

// Close aborts the HTTP call if it is still running and waits for it to exit.
func (s *chatStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
