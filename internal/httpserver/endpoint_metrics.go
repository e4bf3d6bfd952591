package httpserver

import (
	"net/http"

	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
)

type metricsEndpoint struct {
	server *Server
}

// newMetricsEndpoint returns nil when metrics are disabled.
func newMetricsEndpoint(server *Server) protocol.Endpoint {
	if server.metrics == nil {
		return nil
	}
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: e.server.metrics.Handler()},
	}
}
