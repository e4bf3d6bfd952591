package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/tokligence/tokligence-relay/internal/relay"
)

// sseSink writes relay events to an HTTP response as text/event-stream.
type sseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *sseSink) Open() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	// streams outlive any server-wide write timeout
	if err := s.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

func (s *sseSink) Send(ev relay.Event) error {
	if _, err := s.w.Write(ev.Encode()); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseSink) KeepAlive() error {
	if _, err := s.w.Write(relay.KeepAliveFrame); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseSink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
