package httpserver

import (
	"net/http"
	"time"

	"github.com/tokligence/tokligence-relay/internal/health"
	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-relay/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
	}
}

// HandleHealth reports relay version, pool occupancy and component checks.
// It answers 503 only when a critical component is unhealthy.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  health.StatusHealthy,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": version.Version,
	}
	if s.pool != nil {
		payload["backend"] = s.pool.Name()
		payload["pool_size"] = s.pool.Size()
		payload["pool_in_use"] = s.pool.InUse()
	}
	status := http.StatusOK
	if s.health != nil {
		hs := s.health.Check(r.Context())
		payload["status"] = hs.Status
		payload["components"] = hs.Components
		if hs.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}
