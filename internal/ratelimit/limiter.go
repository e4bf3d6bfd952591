package ratelimit

import (
	"context"
)

// Store defines the interface for rate limit storage backends.
// MemoryStore serves a single relayd instance.
type Store interface {
	// Allow consumes one token for key and reports whether the request may proceed.
	Allow(ctx context.Context, key string, rps float64, burst int) (allowed bool, remaining float64, err error)

	// Remaining returns the tokens currently available for key.
	Remaining(ctx context.Context, key string, rps float64, burst int) (float64, error)

	// Reset forgets the bucket for key.
	Reset(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Limiter applies one per-client limit using a pluggable storage backend.
type Limiter struct {
	store Store
	rps   float64
	burst int
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Storage backend (optional, defaults to MemoryStore)
	Store Store

	RequestsPerSecond float64 // Sustained rate per client
	BurstSize         int     // Burst capacity per client
}

// DefaultConfig returns the limits used when rate limiting is enabled without explicit values.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		BurstSize:         20,
	}
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		// a burst below one second of traffic would reject steady clients
		cfg.BurstSize = int(cfg.RequestsPerSecond*2 + 0.5)
		if cfg.BurstSize < 1 {
			cfg.BurstSize = 1
		}
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{store: store, rps: cfg.RequestsPerSecond, burst: cfg.BurstSize}
}

// Allow checks whether a request from key should be allowed.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if key == "" {
		return true
	}
	allowed, _, err := l.store.Allow(ctx, key, l.rps, l.burst)
	if err != nil {
		// fail open
		return true
	}
	return allowed
}

// Remaining returns the number of tokens left for key.
func (l *Limiter) Remaining(key string) float64 {
	if key == "" {
		return float64(l.burst)
	}
	remaining, err := l.store.Remaining(context.Background(), key, l.rps, l.burst)
	if err != nil {
		return float64(l.burst)
	}
	return remaining
}

// Limit returns the configured burst and sustained rate.
func (l *Limiter) Limit() (burst int, rps float64) { return l.burst, l.rps }

// Reset resets the rate limit for key.
func (l *Limiter) Reset(key string) error {
	return l.store.Reset(context.Background(), key)
}

// Close stops the limiter and releases resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}
