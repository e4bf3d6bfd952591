package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

// IPv4Server is a loopback HTTP server standing in for an inference backend.
type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
}

// NewIPv4Server starts an HTTP server bound to the IPv4 loopback interface.
// The server is shut down automatically when the test ends.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts down the underlying server and frees resources. Safe to call twice.
func (s *IPv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
	s.transport.CloseIdleConnections()
}

// WriteLines writes each line followed by sep and flushes after every write,
// pausing delay between lines. It stops early when the client goes away and
// reports how many lines were written.
func WriteLines(w http.ResponseWriter, r *http.Request, lines []string, sep string, delay time.Duration) int {
	flusher, _ := w.(http.Flusher)
	for i, line := range lines {
		if i > 0 && delay > 0 {
			select {
			case <-r.Context().Done():
				return i
			case <-time.After(delay):
			}
		}
		if _, err := fmt.Fprintf(w, "%s%s", line, sep); err != nil {
			return i
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return len(lines)
}
