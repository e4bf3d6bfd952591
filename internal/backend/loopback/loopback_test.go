package loopback

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/tokligence/tokligence-relay/internal/backend"
)

func TestLoopbackCompleteOnce(t *testing.T) {
	b := New()
	resp, err := b.CompleteOnce(context.Background(), backend.Request{
		Model: "loopback",
		Messages: []backend.Message{
			{Role: "system", Content: "echo"},
			{Role: "user", Content: "Hello"},
		},
	})
	if err != nil {
		t.Fatalf("CompleteOnce: %v", err)
	}
	if resp.Message == nil || resp.Message.Role != "assistant" {
		t.Fatalf("unexpected message %+v", resp.Message)
	}
	if resp.Message.Content != "[loopback] Hello" {
		t.Fatalf("unexpected content %q", resp.Message.Content)
	}
}

func TestLoopbackNoMessages(t *testing.T) {
	b := New()
	if _, err := b.CompleteOnce(context.Background(), backend.Request{}); err == nil {
		t.Fatalf("expected error for missing messages")
	}
	if _, err := b.CompleteStream(context.Background(), backend.Request{}); err == nil {
		t.Fatalf("expected stream error for missing messages")
	}
}

func TestLoopbackStreamConcatenatesToOnce(t *testing.T) {
	b := New()
	req := backend.UserRequest("loopback", "the quick brown fox")
	once, err := b.CompleteOnce(context.Background(), req)
	if err != nil {
		t.Fatalf("CompleteOnce: %v", err)
	}
	s, err := b.CompleteStream(context.Background(), req)
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	defer s.Close()
	var got string
	chunks := 0
	for {
		c, err := s.Recv(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		chunks++
		got += c.Content
	}
	if got != once.Message.Content {
		t.Fatalf("stream %q != once %q", got, once.Message.Content)
	}
	if chunks != 5 {
		t.Fatalf("expected 5 chunks, got %d", chunks)
	}
}

func TestLoopbackStreamHonoursCancel(t *testing.T) {
	b := &Backend{Delay: time.Second}
	s, err := b.CompleteStream(context.Background(), backend.UserRequest("loopback", "hi"))
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
