package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("backend: pool closed")
	ErrEmptyPool  = errors.New("backend: pool requires at least one handle")
)

// Pool hands out exclusive leases on backend handles. A handle is never used by
// two calls at once; a lease covers one full backend call including the stream
// drain.
type Pool struct {
	slots  chan Client
	size   int
	name   string
	inUse  atomic.Int64
	closed chan struct{}
	once   sync.Once
}

// NewPool builds a pool over independent handles. Each handle must be safe to
// use from one goroutine at a time.
func NewPool(handles ...Client) (*Pool, error) {
	if len(handles) == 0 {
		return nil, ErrEmptyPool
	}
	p := &Pool{
		slots:  make(chan Client, len(handles)),
		size:   len(handles),
		closed: make(chan struct{}),
	}
	for _, h := range handles {
		if h == nil {
			return nil, errors.New("backend: nil handle")
		}
		p.slots <- h
	}
	p.name = handles[0].Name()
	return p, nil
}

// Acquire blocks until a handle is free, the context ends or the pool closes.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}
	select {
	case h := <-p.slots:
		p.inUse.Add(1)
		return &Lease{Client: h, pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, ErrPoolClosed
	}
}

// Size returns the number of handles.
func (p *Pool) Size() int { return p.size }

// InUse returns the number of handles currently leased.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Name returns the name of the backend behind the pool.
func (p *Pool) Name() string { return p.name }

// Close stops new acquisitions. Outstanding leases still release normally.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.closed) })
}

// Lease is exclusive use of one handle. Release is idempotent.
type Lease struct {
	Client
	pool *Pool
	once sync.Once
}

// Release returns the handle to the pool.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.inUse.Add(-1)
		l.pool.slots <- l.Client
	})
}
