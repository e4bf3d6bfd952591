// Package protocol describes how HTTP endpoints contribute routes to the relay router.
package protocol

import "net/http"

// EndpointRoute is one method+path registration.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
	// Limited routes pass through the per-client rate limiter and CORS.
	Limited bool
}

// Endpoint groups the routes of one feature under a metrics label.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
