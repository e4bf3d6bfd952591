package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

type namedClient struct{ name string }

func (c *namedClient) Name() string { return c.name }

func (c *namedClient) CompleteStream(ctx context.Context, req Request) (ChunkStream, error) {
	return NewSliceStream([]Chunk{{Content: c.name}}, nil), nil
}

func TestNewPoolRequiresHandles(t *testing.T) {
	if _, err := NewPool(); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
	if _, err := NewPool(nil); err == nil {
		t.Fatalf("expected error for nil handle")
	}
}

func TestPoolLeaseIsExclusive(t *testing.T) {
	pool, err := NewPool(&namedClient{name: "only"})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	lease, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if pool.InUse() != 1 {
		t.Fatalf("expected 1 in use, got %d", pool.InUse())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while handle is leased, got %v", err)
	}

	lease.Release()
	lease.Release()
	if pool.InUse() != 0 {
		t.Fatalf("expected 0 in use after release, got %d", pool.InUse())
	}
	again, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again.Release()
}

func TestPoolServesHandlesConcurrently(t *testing.T) {
	pool, err := NewPool(&namedClient{name: "a"}, &namedClient{name: "b"})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if pool.Size() != 2 || pool.Name() != "a" {
		t.Fatalf("unexpected pool size=%d name=%s", pool.Size(), pool.Name())
	}
	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.Client == second.Client {
		t.Fatalf("two leases share one handle")
	}
	first.Release()
	second.Release()
}

func TestPoolNeverSharesHandle(t *testing.T) {
	pool, err := NewPool(&namedClient{name: "a"}, &namedClient{name: "b"}, &namedClient{name: "c"})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	var (
		mu     sync.Mutex
		active = map[Client]bool{}
		wg     sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer lease.Release()
			mu.Lock()
			if active[lease.Client] {
				t.Errorf("handle %s leased twice", lease.Name())
			}
			active[lease.Client] = true
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			delete(active, lease.Client)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if pool.InUse() != 0 {
		t.Fatalf("leak: %d handles still in use", pool.InUse())
	}
}

func TestPoolClose(t *testing.T) {
	pool, err := NewPool(&namedClient{name: "a"})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	lease, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pool.Close()
	pool.Close()
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	lease.Release()
}

func TestSliceStream(t *testing.T) {
	boom := errors.New("boom")
	s := NewSliceStream([]Chunk{{Content: "a"}, {Content: "b"}}, boom)
	for _, want := range []string{"a", "b"} {
		c, err := s.Recv(context.Background())
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if c.Content != want {
			t.Fatalf("got %q want %q", c.Content, want)
		}
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected terminal error, got %v", err)
	}

	eof := NewSliceStream(nil, nil)
	if _, err := eof.Recv(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSliceStream([]Chunk{{Content: "x"}}, nil).Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
