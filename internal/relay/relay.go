// Package relay bridges backend chat calls to client responses. It owns mode
// dispatch, the bounded producer/consumer queue for streams, disconnect
// handling and the mapping of backend failures to client-visible output.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/tokligence-relay/internal/backend"
	"github.com/tokligence/tokligence-relay/internal/chat"
)

const (
	defaultQueueSize = 100
	defaultKeepAlive = 15 * time.Second

	modeStream = "stream"
	modeOnce   = "once"
)

// Options tune a Relay.
type Options struct {
	// QueueSize bounds events buffered between the backend reader and the
	// client writer.
	QueueSize int
	Format    Format
	// KeepAlive is the idle interval between keep-alive comments; 0 disables them.
	KeepAlive time.Duration
	// DoneMarker appends a [DONE] event to streams that end normally.
	DoneMarker bool
	// ForceAccumulate serves non-stream requests by draining a stream even when
	// the backend has a single-shot call.
	ForceAccumulate bool
	// BackendTimeout bounds one backend call including the lease wait; 0 waits
	// indefinitely.
	BackendTimeout time.Duration
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		QueueSize: defaultQueueSize,
		Format:    FormatJSON,
		KeepAlive: defaultKeepAlive,
	}
}

// Sink receives the events of one stream session. Open is called once before
// the backend call; any error from a method means the client is gone.
type Sink interface {
	Open() error
	Send(Event) error
	KeepAlive() error
}

// ModelResolver maps a client model name to the backend model name.
type ModelResolver interface {
	Resolve(model string) string
}

// Observer is notified once per finished session.
type Observer interface {
	ObserveSession(out Outcome)
}

// Relay serves chat requests against a pool of backend handles.
type Relay struct {
	pool     *backend.Pool
	opts     Options
	logger   *log.Logger
	debug    bool
	resolver ModelResolver
	observer Observer
}

// New builds a relay. Zero option fields take defaults, except KeepAlive.
func New(pool *backend.Pool, opts Options, logger *log.Logger) *Relay {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Relay{pool: pool, opts: opts, logger: logger}
}

// SetLogger swaps the logger and enables per-session debug lines at level debug.
func (r *Relay) SetLogger(level string, logger *log.Logger) {
	if logger != nil {
		r.logger = logger
	}
	r.debug = strings.EqualFold(strings.TrimSpace(level), "debug")
}

// SetResolver installs a model alias resolver.
func (r *Relay) SetResolver(res ModelResolver) { r.resolver = res }

// SetObserver installs a session observer, typically metrics.
func (r *Relay) SetObserver(o Observer) { r.observer = o }

// Options returns the effective options.
func (r *Relay) Options() Options { return r.opts }

func (r *Relay) debugf(format string, args ...any) {
	if r.debug {
		r.logger.Printf("DEBUG "+format, args...)
	}
}

func (r *Relay) resolve(model string) string {
	if r.resolver == nil {
		return model
	}
	if m := r.resolver.Resolve(model); m != "" {
		return m
	}
	return model
}

func (r *Relay) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.BackendTimeout > 0 {
		return context.WithTimeout(ctx, r.opts.BackendTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Relay) newOutcome(mode string, req chat.Request) Outcome {
	return Outcome{
		SessionID: uuid.NewString(),
		Mode:      mode,
		Model:     r.resolve(req.Model),
		Backend:   r.pool.Name(),
	}
}

func (r *Relay) finish(out *Outcome, start time.Time) {
	out.Elapsed = time.Since(start)
	switch out.Kind {
	case KindNone:
		r.debugf("session=%s mode=%s model=%s forwarded=%d skipped=%d pulls=%d elapsed=%s",
			out.SessionID, out.Mode, out.Model, out.Forwarded, out.Skipped, out.Pulls, out.Elapsed)
	case KindConsumerGone:
		r.debugf("session=%s mode=%s model=%s client gone after %d events pulls=%d",
			out.SessionID, out.Mode, out.Model, out.Forwarded, out.Pulls)
	default:
		r.logger.Printf("session=%s mode=%s model=%s outcome=%s err=%v",
			out.SessionID, out.Mode, out.Model, out.Kind, out.Err)
	}
	if r.observer != nil {
		r.observer.ObserveSession(*out)
	}
}

// Complete serves a non-stream request. The returned response always carries
// a payload; failures are flattened to a fixed literal.
func (r *Relay) Complete(ctx context.Context, req chat.Request) (chat.Response, Outcome) {
	start := time.Now()
	out := r.newOutcome(modeOnce, req)
	r.complete(ctx, req, &out)
	r.finish(&out, start)
	return chat.Response{Response: out.ResponseText()}, out
}

func (r *Relay) complete(ctx context.Context, req chat.Request, out *Outcome) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	lease, err := r.pool.Acquire(callCtx)
	if err != nil {
		out.Err = fmt.Errorf("relay: acquire backend: %w", err)
		out.Kind = classify(err, 0, ctx.Err() != nil)
		return
	}
	defer lease.Release()

	breq := backend.UserRequest(out.Model, req.Prompt)
	if once, ok := lease.Client.(backend.OnceClient); ok && !r.opts.ForceAccumulate {
		out.Pulls = 1
		resp, err := once.CompleteOnce(callCtx, breq)
		out.Kind = classify(err, 0, ctx.Err() != nil)
		if err != nil {
			out.Err = err
			return
		}
		if resp.Message == nil {
			out.Text = chat.NoResponseText
		} else {
			out.Text = resp.Message.Content
		}
		out.Chars = len(out.Text)
		return
	}
	r.accumulate(ctx, callCtx, lease.Client, breq, out)
}

// accumulate drains a chunk sequence into one string. Partial text is
// discarded when the sequence fails.
func (r *Relay) accumulate(ctx, callCtx context.Context, c backend.Client, breq backend.Request, out *Outcome) {
	stream, err := c.CompleteStream(callCtx, breq)
	if err != nil {
		out.Err = err
		out.Kind = classify(err, 0, ctx.Err() != nil)
		return
	}
	defer stream.Close()

	var (
		b        strings.Builder
		received int
	)
	for {
		out.Pulls++
		chunk, err := stream.Recv(callCtx)
		if err != nil {
			out.Kind = classify(err, received, ctx.Err() != nil)
			if out.Kind == KindNone {
				out.Text = b.String()
			} else {
				out.Err = err
			}
			return
		}
		received++
		if chunk.Content == "" {
			out.Skipped++
			continue
		}
		out.Chars += len(chunk.Content)
		b.WriteString(chunk.Content)
	}
}

// producerStats is written by the producer before it closes the queue and read
// by the consumer after.
type producerStats struct {
	err      error
	received int
	skipped  int
	pulls    int
	chars    int
}

// Stream serves a stream request through sink. It returns once the backend
// call is finished and its lease released.
func (r *Relay) Stream(ctx context.Context, req chat.Request, sink Sink) Outcome {
	start := time.Now()
	out := r.newOutcome(modeStream, req)
	r.stream(ctx, req, sink, &out)
	r.finish(&out, start)
	return out
}

func (r *Relay) stream(ctx context.Context, req chat.Request, sink Sink, out *Outcome) {
	if err := sink.Open(); err != nil {
		out.Err = err
		out.Kind = KindConsumerGone
		return
	}

	prodCtx, stop := context.WithCancel(ctx)
	defer stop()

	queue := make(chan Event, r.opts.QueueSize)
	stats := &producerStats{}
	go r.produce(prodCtx, backend.UserRequest(out.Model, req.Prompt), queue, stats)

	var tick <-chan time.Time
	if r.opts.KeepAlive > 0 {
		ticker := time.NewTicker(r.opts.KeepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		gone    bool
		sinkErr error
	)
consume:
	for {
		select {
		case ev, ok := <-queue:
			if !ok {
				break consume
			}
			if err := sink.Send(ev); err != nil {
				gone, sinkErr = true, err
				break consume
			}
			if !ev.IsError() {
				out.Forwarded++
			}
		case <-tick:
			if err := sink.KeepAlive(); err != nil {
				gone, sinkErr = true, err
				break consume
			}
		case <-ctx.Done():
			gone, sinkErr = true, ctx.Err()
			break consume
		}
	}
	if gone {
		stop()
		for range queue {
		}
	}

	out.Pulls = stats.pulls
	out.Skipped = stats.skipped
	out.Chars = stats.chars
	out.Kind = classify(stats.err, stats.received, gone)
	switch {
	case gone:
		out.Err = sinkErr
	case stats.err != nil:
		out.Err = stats.err
	case r.opts.DoneMarker:
		if err := sink.Send(r.opts.Format.Done()); err != nil {
			r.debugf("session=%s done marker not delivered: %v", out.SessionID, err)
		}
	}
}

// produce owns the backend side of a stream session: lease, call, pulls.
// Deferred calls run in reverse so the backend stream is closed and the lease
// released before the queue closes.
func (r *Relay) produce(ctx context.Context, breq backend.Request, queue chan<- Event, st *producerStats) {
	defer close(queue)
	defer func() {
		if p := recover(); p != nil {
			st.err = fmt.Errorf("relay: backend panic: %v", p)
			r.enqueue(ctx, queue, r.opts.Format.Error())
		}
	}()

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	lease, err := r.pool.Acquire(callCtx)
	if err != nil {
		st.err = fmt.Errorf("relay: acquire backend: %w", err)
		r.enqueue(ctx, queue, r.opts.Format.Error())
		return
	}
	defer lease.Release()

	stream, err := lease.CompleteStream(callCtx, breq)
	if err != nil {
		st.err = err
		r.enqueue(ctx, queue, r.opts.Format.Error())
		return
	}
	defer stream.Close()

	for ctx.Err() == nil {
		st.pulls++
		chunk, err := stream.Recv(callCtx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			st.err = err
			r.enqueue(ctx, queue, r.opts.Format.Error())
			return
		}
		st.received++
		if chunk.Content == "" {
			st.skipped++
			continue
		}
		st.chars += len(chunk.Content)
		if !r.enqueue(ctx, queue, r.opts.Format.Content(chunk.Content)) {
			return
		}
	}
}

// enqueue blocks while the queue is full, which is the backpressure on the
// backend reader. It gives up when the consumer is gone.
func (r *Relay) enqueue(ctx context.Context, queue chan<- Event, ev Event) bool {
	select {
	case queue <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
