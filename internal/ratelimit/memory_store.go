package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one rate.Limiter per client key in memory.
type MemoryStore struct {
	buckets map[string]*bucket
	mu      sync.Mutex

	idleTTL         time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// NewMemoryStore creates a new in-memory rate limit store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanup(5*time.Minute, 10*time.Minute)
}

// NewMemoryStoreWithCleanup creates a store that drops buckets idle for longer than idleTTL.
func NewMemoryStoreWithCleanup(cleanupInterval, idleTTL time.Duration) *MemoryStore {
	s := &MemoryStore{
		buckets:         make(map[string]*bucket),
		idleTTL:         idleTTL,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Allow consumes a token from the key's bucket.
func (s *MemoryStore) Allow(ctx context.Context, key string, rps float64, burst int) (bool, float64, error) {
	now := time.Now()
	b := s.get(key, rps, burst, now)
	allowed := b.lim.AllowN(now, 1)
	return allowed, b.lim.TokensAt(now), nil
}

// Remaining returns tokens available for key.
func (s *MemoryStore) Remaining(ctx context.Context, key string, rps float64, burst int) (float64, error) {
	now := time.Now()
	return s.get(key, rps, burst, now).lim.TokensAt(now), nil
}

// Reset drops the key's bucket so the next request starts full.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Close stops background cleanup.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *MemoryStore) get(key string, rps float64, burst int, now time.Time) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(rps), burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

func (s *MemoryStore) cleanupLoop() {
	if s.cleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes buckets nobody has touched within idleTTL.
func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) >= s.idleTTL {
			delete(s.buckets, key)
		}
	}
}

// StoreStats describes the store's current size.
type StoreStats struct {
	ActiveBuckets int
}

// GetStats returns current statistics.
func (s *MemoryStore) GetStats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{ActiveBuckets: len(s.buckets)}
}
