package async

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tokligence/tokligence-relay/internal/ledger"
)

type memStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
}

func (m *memStore) Record(ctx context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Summary(ctx context.Context, model string) (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledger.Summary{Sessions: int64(len(m.entries))}, nil
}

func (m *memStore) ListRecent(ctx context.Context, model string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.entries...), nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestCloseFlushesPending(t *testing.T) {
	mem := &memStore{}
	s := New(mem, Config{BatchSize: 1000, FlushInterval: time.Hour})
	for i := 0; i < 25; i++ {
		if err := s.Record(context.Background(), ledger.Entry{SessionID: fmt.Sprint(i), Mode: "stream"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mem.count() != 25 || !mem.closed {
		t.Fatalf("expected 25 flushed entries and closed store, got %d closed=%v", mem.count(), mem.closed)
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	mem := &memStore{}
	s := New(mem, Config{BatchSize: 5, FlushInterval: time.Hour})
	defer s.Close()
	for i := 0; i < 5; i++ {
		_ = s.Record(context.Background(), ledger.Entry{SessionID: fmt.Sprint(i)})
	}
	deadline := time.Now().Add(2 * time.Second)
	for mem.count() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("batch was not flushed, have %d", mem.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIntervalTriggersFlush(t *testing.T) {
	mem := &memStore{}
	s := New(mem, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	defer s.Close()
	_ = s.Record(context.Background(), ledger.Entry{SessionID: "one"})
	deadline := time.Now().Add(2 * time.Second)
	for mem.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("interval flush did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sum, err := s.Summary(context.Background(), "")
	if err != nil || sum.Sessions != 1 {
		t.Fatalf("Summary = %+v, %v", sum, err)
	}
}

type blockingStore struct {
	memStore
	release chan struct{}
}

func (b *blockingStore) Record(ctx context.Context, e ledger.Entry) error {
	<-b.release
	return b.memStore.Record(ctx, e)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	bs := &blockingStore{release: make(chan struct{})}
	s := New(bs, Config{BatchSize: 1, FlushInterval: time.Hour, ChannelBuffer: 2})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			_ = s.Record(context.Background(), ledger.Entry{SessionID: fmt.Sprint(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Record blocked on a full queue")
	}
	if s.Dropped() == 0 {
		t.Fatalf("expected dropped entries")
	}
	close(bs.release)
	_ = s.Close()
}
