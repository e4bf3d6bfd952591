package ratelimit

import (
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Middleware wraps an HTTP handler with per-client rate limiting.
type Middleware struct {
	limiter   *Limiter
	enabled   bool
	logger    *log.Logger
	onLimited func(r *http.Request)
}

// NewMiddleware creates a new rate limiting middleware.
func NewMiddleware(limiter *Limiter, enabled bool, logger *log.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		enabled: enabled && limiter != nil,
		logger:  logger,
	}
}

// OnLimited registers a callback invoked for each rejected request.
func (m *Middleware) OnLimited(fn func(r *http.Request)) { m.onLimited = fn }

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		if !m.limiter.Allow(r.Context(), key) {
			m.addRateLimitHeaders(w, key)
			w.Header().Set("Retry-After", strconv.Itoa(m.retryAfterSeconds()))
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: client=%s path=%s", key, r.URL.Path)
			}
			if m.onLimited != nil {
				m.onLimited(r)
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		m.addRateLimitHeaders(w, key)
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller by host address. RemoteAddr is expected to
// have been rewritten by a RealIP middleware when running behind a proxy.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// addRateLimitHeaders adds standard rate limit headers to the response.
// See: https://datatracker.ietf.org/doc/html/draft-polli-ratelimit-headers
func (m *Middleware) addRateLimitHeaders(w http.ResponseWriter, key string) {
	burst, rps := m.limiter.Limit()
	remaining := math.Max(0, m.limiter.Remaining(key))
	limit := float64(burst)

	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Floor(remaining)))
	if remaining < limit && rps > 0 {
		secs := (limit - remaining) / rps
		reset := time.Now().Add(time.Duration(secs * float64(time.Second)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	}
}

func (m *Middleware) retryAfterSeconds() int {
	_, rps := m.limiter.Limit()
	if rps <= 0 {
		return 1
	}
	secs := int(math.Ceil(1 / rps))
	if secs < 1 {
		secs = 1
	}
	return secs
}
