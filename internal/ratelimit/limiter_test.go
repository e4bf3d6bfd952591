package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 5})
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if !limiter.Allow(ctx, "10.0.0.1") {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if limiter.Allow(ctx, "10.0.0.1") {
		t.Error("6th request should be denied")
	}
	if !limiter.Allow(ctx, "10.0.0.2") {
		t.Error("different client should be allowed")
	}
}

func TestLimiter_EmptyKeyAlwaysAllowed(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	defer limiter.Close()
	for i := 0; i < 10; i++ {
		if !limiter.Allow(context.Background(), "") {
			t.Fatalf("empty key must not be limited")
		}
	}
	if limiter.Remaining("") != 1 {
		t.Fatalf("empty key should report full capacity")
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.1, BurstSize: 2})
	defer limiter.Close()
	ctx := context.Background()
	limiter.Allow(ctx, "c")
	limiter.Allow(ctx, "c")
	if limiter.Allow(ctx, "c") {
		t.Fatalf("expected denial before reset")
	}
	if err := limiter.Reset("c"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !limiter.Allow(ctx, "c") {
		t.Fatalf("expected allow after reset")
	}
}

func TestLimiter_Remaining(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.01, BurstSize: 10})
	defer limiter.Close()
	for i := 0; i < 3; i++ {
		limiter.Allow(context.Background(), "c")
	}
	if got := limiter.Remaining("c"); got < 6.9 || got > 7.1 {
		t.Fatalf("expected ~7 tokens, got %f", got)
	}
}

func TestNewLimiterDefaults(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 3})
	defer limiter.Close()
	burst, rps := limiter.Limit()
	if burst != 6 || rps != 3 {
		t.Fatalf("unexpected limit burst=%d rps=%f", burst, rps)
	}
	def := NewLimiter(Config{})
	defer def.Close()
	if burst, rps := def.Limit(); burst != 20 || rps != 10 {
		t.Fatalf("unexpected defaults burst=%d rps=%f", burst, rps)
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store := NewMemoryStoreWithCleanup(0, time.Minute)
	defer store.Close()
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		store.Allow(ctx, k, 1, 1)
	}
	if got := store.GetStats().ActiveBuckets; got != 3 {
		t.Fatalf("expected 3 buckets, got %d", got)
	}
	store.cleanup(time.Now())
	if got := store.GetStats().ActiveBuckets; got != 3 {
		t.Fatalf("fresh buckets must survive cleanup, got %d", got)
	}
	store.cleanup(time.Now().Add(2 * time.Minute))
	if got := store.GetStats().ActiveBuckets; got != 0 {
		t.Fatalf("expected idle buckets removed, got %d", got)
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.5, BurstSize: 2})
	defer limiter.Close()
	mw := NewMiddleware(limiter, true, nil)
	hits := 0
	mw.OnLimited(func(*http.Request) { hits++ })
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		req.RemoteAddr = "192.0.2.7:51000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("missing limit header: %v", rec.Header())
		}
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "2" {
			t.Fatalf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
		}
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if hits != 1 {
		t.Fatalf("expected one limited callback, got %d", hits)
	}

	// a different port from the same host shares the bucket
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "192.0.2.7:60000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected same host to stay limited, got %d", rec.Code)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	mw := NewMiddleware(nil, true, nil)
	called := false
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("disabled middleware must pass through")
	}
}
