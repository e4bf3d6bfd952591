package async

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokligence/tokligence-relay/internal/ledger"
)

// Store wraps a ledger.Store with asynchronous batch writes so ledger latency
// never delays the end of a client response. Entries still queued when the
// process crashes are lost.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopOnce      sync.Once
	dropped       atomic.Int64
	logger        *log.Logger
}

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // Maximum entries per batch (default: 100)
	FlushInterval time.Duration // Maximum time between flushes (default: 1s)
	ChannelBuffer int           // Queue size before entries are dropped (default: 10000)
	Logger        *log.Logger   // Optional logger for diagnostics
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
	}
	s.wg.Add(1)
	go s.batchWriter()

	if s.logger != nil {
		s.logger.Printf("[async-ledger] started batch_size=%d flush_interval=%v buffer=%d",
			cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	}
	return s
}

// batchWriter owns the queue until it is closed, then flushes what is left.
func (s *Store) batchWriter() {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		failed := 0
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				failed++
				if s.logger != nil {
					s.logger.Printf("[async-ledger] ERROR writing session %s: %v", entry.SessionID, err)
				}
			}
		}
		if s.logger != nil && failed > 0 {
			s.logger.Printf("[async-ledger] flushed %d/%d entries", len(batch)-failed, len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.entryChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Record queues an entry without blocking. A full queue drops the entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	select {
	case s.entryChan <- entry:
	default:
		s.dropped.Add(1)
		if s.logger != nil {
			s.logger.Printf("[async-ledger] WARNING: queue full, dropping session %s", entry.SessionID)
		}
	}
	return nil
}

// Dropped returns the number of entries discarded on a full queue.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context, model string) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, model)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, model string, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, model, limit)
}

// Close flushes remaining entries and closes the underlying store. Record
// must not be called after Close.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.entryChan) })
	s.wg.Wait()
	return s.underlying.Close()
}
