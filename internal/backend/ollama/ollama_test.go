package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tokligence/tokligence-relay/internal/backend"
	"github.com/tokligence/tokligence-relay/internal/testutil"
)

type capturedChat struct {
	Model    string            `json:"model"`
	Messages []backend.Message `json:"messages"`
	Stream   *bool             `json:"stream"`
}

func newBackend(t *testing.T, url string) *Backend {
	t.Helper()
	b, err := New(Config{BaseURL: url})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func drain(t *testing.T, s backend.ChunkStream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		c, err := s.Recv(context.Background())
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c.Content)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "localhost"}); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New default: %v", err)
	}
	if b.baseURL != defaultBaseURL {
		t.Fatalf("unexpected default base url %s", b.baseURL)
	}
}

func TestCompleteOnce(t *testing.T) {
	var got capturedChat
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"hello there"},"done":true}`)
	}))

	resp, err := newBackend(t, server.URL).CompleteOnce(context.Background(), backend.UserRequest("llama3", "hi"))
	if err != nil {
		t.Fatalf("CompleteOnce: %v", err)
	}
	if resp.Message == nil || resp.Message.Content != "hello there" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Model != "llama3" || len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hi" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Stream == nil || *got.Stream {
		t.Fatalf("expected stream=false on the wire")
	}
}

func TestCompleteOnceWithoutMessage(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"llama3","done":true}`)
	}))
	resp, err := newBackend(t, server.URL).CompleteOnce(context.Background(), backend.UserRequest("llama3", "hi"))
	if err != nil {
		t.Fatalf("CompleteOnce: %v", err)
	}
	if resp.Message != nil {
		t.Fatalf("expected nil message, got %+v", resp.Message)
	}
}

func TestCompleteOnceHTTPError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"nope\" not found"}`)
	}))
	if _, err := newBackend(t, server.URL).CompleteOnce(context.Background(), backend.UserRequest("nope", "hi")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCompleteStream(t *testing.T) {
	var got capturedChat
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/x-ndjson")
		testutil.WriteLines(w, r, []string{
			`{"model":"llama3","message":{"role":"assistant","content":"he"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":"llo"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}, "\n", 0)
	}))

	s, err := newBackend(t, server.URL).CompleteStream(context.Background(), backend.UserRequest("llama3", "hi"))
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	defer s.Close()
	chunks, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if strings.Join(chunks, "|") != "he|llo|" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
	if got.Stream == nil || !*got.Stream {
		t.Fatalf("expected stream=true on the wire")
	}
}

func TestCompleteStreamUnreachable(t *testing.T) {
	server := testutil.NewIPv4Server(t, nil)
	url := server.URL
	server.Close()

	s, err := newBackend(t, url).CompleteStream(context.Background(), backend.UserRequest("llama3", "hi"))
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	defer s.Close()
	chunks, err := drain(t, s)
	if err == nil {
		t.Fatalf("expected error from unreachable backend")
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %q", chunks)
	}
}

func TestCompleteStreamMidStreamError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteLines(w, r, []string{
			`{"model":"llama3","message":{"role":"assistant","content":"par"},"done":false}`,
			`{"error":"out of memory"}`,
		}, "\n", 0)
	}))
	s, err := newBackend(t, server.URL).CompleteStream(context.Background(), backend.UserRequest("llama3", "hi"))
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	defer s.Close()
	chunks, err := drain(t, s)
	if err == nil {
		t.Fatalf("expected mid-stream error")
	}
	if len(chunks) != 1 || chunks[0] != "par" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}

func TestCompleteStreamCloseStopsReading(t *testing.T) {
	var written atomic.Int64
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = `{"model":"llama3","message":{"role":"assistant","content":"x"},"done":false}`
	}
	finished := make(chan struct{})
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(finished)
		written.Store(int64(testutil.WriteLines(w, r, lines, "\n", 5*time.Millisecond)))
	}))

	s, err := newBackend(t, server.URL).CompleteStream(context.Background(), backend.UserRequest("llama3", "hi"))
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Recv(context.Background()); err != nil {
			t.Fatalf("Recv: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = s.Close()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("server handler still writing after Close")
	}
	if written.Load() >= int64(len(lines)) {
		t.Fatalf("expected the backend call to be aborted, server wrote all %d lines", written.Load())
	}
}

func TestListModelsAndPing(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = io.WriteString(w, `{"models":[{"name":"llama3:latest","model":"llama3:latest"},{"name":"qwen2:7b","model":"qwen2:7b"}]}`)
		case "/":
			_, _ = io.WriteString(w, "Ollama is running")
		default:
			http.NotFound(w, r)
		}
	}))
	b := newBackend(t, server.URL)
	models, err := b.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if strings.Join(models, ",") != "llama3:latest,qwen2:7b" {
		t.Fatalf("unexpected models %v", models)
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
