package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
)

const maxUsageLogs = 500

type usageEndpoint struct {
	server *Server
}

func newUsageEndpoint(server *Server) protocol.Endpoint {
	return &usageEndpoint{server: server}
}

func (e *usageEndpoint) Name() string { return "usage" }

func (e *usageEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/v1/usage/summary", Handler: http.HandlerFunc(e.server.handleUsageSummary)},
		{Method: http.MethodGet, Path: "/api/v1/usage/logs", Handler: http.HandlerFunc(e.server.handleUsageLogs)},
	}
}

var errLedgerDisabled = errors.New("usage ledger disabled")

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusServiceUnavailable, errLedgerDisabled)
		return
	}
	model := strings.TrimSpace(r.URL.Query().Get("model"))
	summary, err := s.ledger.Summary(r.Context(), model)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (s *Server) handleUsageLogs(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusServiceUnavailable, errLedgerDisabled)
		return
	}
	q := r.URL.Query()
	limit := 50
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxUsageLogs)
	}
	entries, err := s.ledger.ListRecent(r.Context(), strings.TrimSpace(q.Get("model")), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
