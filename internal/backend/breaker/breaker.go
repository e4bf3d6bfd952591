// Package breaker puts a circuit breaker in front of backend handles so a dead
// inference server fails requests fast instead of piling them up on the pool.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tokligence/tokligence-relay/internal/backend"
)

const (
	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("backend circuit open")

// Settings configures the breaker.
type Settings struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a probe is allowed.
	OpenTimeout time.Duration
	// Interval clears failure counts while closed.
	Interval time.Duration
}

// Guard is one breaker shared by every handle of a pool.
type Guard struct {
	cb *gobreaker.TwoStepCircuitBreaker[struct{}]
}

// New builds a guard. Zero settings take defaults.
func New(name string, s Settings, logger *log.Logger) *Guard {
	if s.MaxFailures == 0 {
		s.MaxFailures = defaultMaxFailures
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = defaultOpenTimeout
	}
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	maxFailures := s.MaxFailures
	cb := gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "backend:" + name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Printf("circuit breaker %s: %s -> %s", name, from, to)
			}
		},
	})
	return &Guard{cb: cb}
}

// State reports the breaker state as closed, half-open or open.
func (g *Guard) State() string {
	return g.cb.State().String()
}

// Wrap returns a client whose calls pass through the breaker. The result
// implements backend.OnceClient only when inner does.
func (g *Guard) Wrap(inner backend.Client) backend.Client {
	gc := &guarded{inner: inner, guard: g}
	if once, ok := inner.(backend.OnceClient); ok {
		return &guardedOnce{guarded: gc, once: once}
	}
	return gc
}

func (g *Guard) allow() (func(error), error) {
	done, err := g.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrOpen, err)
		}
		return nil, err
	}
	return func(callErr error) { done(!countsAsFailure(callErr)) }, nil
}

// countsAsFailure ignores errors caused by the caller going away.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, io.EOF) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

type guarded struct {
	inner backend.Client
	guard *Guard
}

func (c *guarded) Name() string { return c.inner.Name() }

// CompleteStream reports to the breaker on the first outcome: the first chunk,
// the first error, or the end of the stream.
func (c *guarded) CompleteStream(ctx context.Context, req backend.Request) (backend.ChunkStream, error) {
	report, err := c.guard.allow()
	if err != nil {
		return nil, err
	}
	s, err := c.inner.CompleteStream(ctx, req)
	if err != nil {
		report(err)
		return nil, err
	}
	return &guardedStream{inner: s, report: report}, nil
}

type guardedOnce struct {
	*guarded
	once backend.OnceClient
}

func (c *guardedOnce) CompleteOnce(ctx context.Context, req backend.Request) (backend.Response, error) {
	report, err := c.guard.allow()
	if err != nil {
		return backend.Response{}, err
	}
	resp, err := c.once.CompleteOnce(ctx, req)
	report(err)
	return resp, err
}

type guardedStream struct {
	inner  backend.ChunkStream
	report func(error)
	once   sync.Once
}

func (s *guardedStream) Recv(ctx context.Context) (backend.Chunk, error) {
	c, err := s.inner.Recv(ctx)
	s.once.Do(func() { s.report(err) })
	return c, err
}

func (s *guardedStream) Close() error {
	s.once.Do(func() { s.report(nil) })
	return s.inner.Close()
}
