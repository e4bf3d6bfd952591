package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/tokligence-relay/internal/chat"
	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-relay/internal/ledger"
	"github.com/tokligence/tokligence-relay/internal/relay"
)

// maxChatBody caps the request body; prompts are plain text.
const maxChatBody = 4 << 20

type chatEndpoint struct {
	server *Server
}

func newChatEndpoint(server *Server) protocol.Endpoint {
	return &chatEndpoint{server: server}
}

func (e *chatEndpoint) Name() string { return "chat" }

func (e *chatEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/chat", Handler: http.HandlerFunc(e.server.handleChat), Limited: true},
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("relay not configured"))
		return
	}
	req, err := chat.DecodeRequest(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	reqID := middleware.GetReqID(r.Context())
	s.debugf("chat request_id=%s model=%s mode=%s prompt_chars=%d", reqID, req.Model, req.Mode(), len(req.Prompt))

	var out relay.Outcome
	if req.Stream {
		out = s.relay.Stream(r.Context(), req, newSSESink(w))
	} else {
		var resp chat.Response
		resp, out = s.relay.Complete(r.Context(), req)
		if out.Kind != relay.KindConsumerGone {
			s.respondJSON(w, http.StatusOK, resp)
		}
	}
	s.debugf("chat done request_id=%s session=%s outcome=%s", reqID, out.SessionID, out.Kind)
	s.recordUsage(r.Context(), out, reqID, len(req.Prompt))
}

// recordUsage writes the session to the ledger. It runs after the response is
// finished and does not depend on the client still being connected.
func (s *Server) recordUsage(ctx context.Context, out relay.Outcome, reqID string, promptChars int) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.ledger.Record(ctx, ledger.EntryFromOutcome(out, reqID, promptChars)); err != nil {
		s.logger.Printf("ledger record failed session=%s: %v", out.SessionID, err)
	}
}
