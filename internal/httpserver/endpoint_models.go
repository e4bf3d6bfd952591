package httpserver

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
)

type modelsEndpoint struct {
	server *Server
}

func newModelsEndpoint(server *Server) protocol.Endpoint {
	return &modelsEndpoint{server: server}
}

func (e *modelsEndpoint) Name() string { return "models" }

func (e *modelsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/v1/models", Handler: http.HandlerFunc(e.server.handleModels), Limited: true},
	}
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
	AliasOf string `json:"alias_of,omitempty"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleModels lists backend models followed by configured aliases.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.respondError(w, http.StatusNotFound, errors.New("backend does not list models"))
		return
	}
	names, err := s.models.ListModels(r.Context())
	if err != nil {
		s.logger.Printf("list models failed: %v", err)
		s.respondError(w, http.StatusBadGateway, errors.New("backend model listing failed"))
		return
	}
	owner := "backend"
	if s.pool != nil {
		owner = s.pool.Name()
	}
	now := time.Now().Unix()
	out := modelList{Object: "list", Data: make([]modelEntry, 0, len(names))}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out.Data = append(out.Data, modelEntry{ID: name, Object: "model", Created: now, OwnedBy: owner})
	}
	if s.aliases != nil {
		snap := s.aliases.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, alias := range keys {
			if seen[alias] {
				continue
			}
			out.Data = append(out.Data, modelEntry{ID: alias, Object: "model", Created: now, OwnedBy: "alias", AliasOf: snap[alias]})
		}
	}
	s.respondJSON(w, http.StatusOK, out)
}
