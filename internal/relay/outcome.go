package relay

import (
	"errors"
	"io"
	"time"

	"github.com/tokligence/tokligence-relay/internal/chat"
)

// Kind tags how a relay session ended.
type Kind int

const (
	// KindNone means the backend finished normally.
	KindNone Kind = iota
	// KindCallStart means the backend failed before producing any chunk.
	KindCallStart
	// KindMidStream means the backend failed after producing output.
	KindMidStream
	// KindConsumerGone means the client went away first.
	KindConsumerGone
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "completed"
	case KindCallStart:
		return "call_start_failed"
	case KindMidStream:
		return "mid_stream_failed"
	case KindConsumerGone:
		return "client_gone"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one relay session.
type Outcome struct {
	SessionID string
	Mode      string
	Model     string // backend model after alias resolution
	Backend   string
	Kind      Kind
	// Err is the backend or transport error. It is for logs only.
	Err  error
	Text string // non-stream mode only

	Forwarded int // content events written to the client
	Skipped   int // empty chunks dropped
	Pulls     int // backend reads issued
	Chars     int // characters received from the backend
	Elapsed   time.Duration
}

// OK reports whether the session completed without failure.
func (o Outcome) OK() bool { return o.Kind == KindNone }

// ResponseText is the single payload for non-stream mode. Every failure is
// flattened to the same literal.
func (o Outcome) ResponseText() string {
	if o.Kind != KindNone {
		return chat.ProcessErrorText
	}
	return o.Text
}

// classify maps the end of a backend call to a Kind. received counts chunks
// obtained before err. It is shared by the stream and non-stream paths.
func classify(err error, received int, consumerGone bool) Kind {
	switch {
	case consumerGone:
		return KindConsumerGone
	case err == nil || errors.Is(err, io.EOF):
		return KindNone
	case received == 0:
		return KindCallStart
	default:
		return KindMidStream
	}
}
