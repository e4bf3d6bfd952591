// Package openaicompat drives any server exposing the OpenAI chat completions
// API, including Ollama's /v1 surface, vLLM and llama.cpp server.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tokligence/tokligence-relay/internal/backend"
)

var (
	_ backend.Client      = (*Backend)(nil)
	_ backend.OnceClient  = (*Backend)(nil)
	_ backend.ModelLister = (*Backend)(nil)
)

const defaultBaseURL = "http://localhost:11434/v1"

// Config holds configuration for one OpenAI-compatible handle.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Backend is a single OpenAI-compatible client handle.
type Backend struct {
	client *openai.Client
}

// New creates a handle. The API key may be empty for local servers.
func New(cfg Config) (*Backend, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("openaicompat: invalid base url %q", base)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = base
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = backend.NewHTTPClient(backend.HTTPConfig{})
	}
	return &Backend{client: openai.NewClientWithConfig(oc)}, nil
}

func (b *Backend) Name() string { return "openai" }

// CompleteOnce issues a non-streaming chat completion.
func (b *Backend) CompleteOnce(ctx context.Context, req backend.Request) (backend.Response, error) {
	resp, err := b.client.CreateChatCompletion(ctx, toRequest(req, false))
	if err != nil {
		return backend.Response{}, fmt.Errorf("openaicompat: chat completion: %w", err)
	}
	out := backend.Response{Model: resp.Model}
	if len(resp.Choices) > 0 {
		m := resp.Choices[0].Message
		if m.Role != "" || m.Content != "" {
			out.Message = &backend.Message{Role: m.Role, Content: m.Content}
		}
	}
	return out, nil
}

// CompleteStream opens a streaming chat completion. HTTP errors surface here,
// before any chunk is produced.
func (b *Backend) CompleteStream(ctx context.Context, req backend.Request) (backend.ChunkStream, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openaicompat: no messages provided")
	}
	stream, err := b.client.CreateChatCompletionStream(ctx, toRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: open stream: %w", err)
	}
	return &chunkStream{stream: stream}, nil
}

// ListModels returns model ids reported by /models.
func (b *Backend) ListModels(ctx context.Context) ([]string, error) {
	list, err := b.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: list models: %w", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func toRequest(req backend.Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   stream,
	}
}

type chunkStream struct {
	stream *openai.ChatCompletionStream
	once   sync.Once
}

// Recv reads one SSE event from the backend. The underlying read is bound to
// the context the stream was opened with.
func (s *chunkStream) Recv(ctx context.Context) (backend.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return backend.Chunk{}, err
	}
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return backend.Chunk{}, io.EOF
	}
	if err != nil {
		return backend.Chunk{}, fmt.Errorf("openaicompat: recv: %w", err)
	}
	if len(resp.Choices) == 0 {
		return backend.Chunk{}, nil
	}
	return backend.Chunk{Content: resp.Choices[0].Delta.Content}, nil
}

func (s *chunkStream) Close() error {
	s.once.Do(func() { s.stream.Close() })
	return nil
}
