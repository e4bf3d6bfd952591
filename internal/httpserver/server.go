package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tokligence/tokligence-relay/internal/backend"
	"github.com/tokligence/tokligence-relay/internal/health"
	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-relay/internal/ledger"
	"github.com/tokligence/tokligence-relay/internal/metrics"
	"github.com/tokligence/tokligence-relay/internal/ratelimit"
	"github.com/tokligence/tokligence-relay/internal/relay"
)

// AliasSource exposes the active model alias table.
type AliasSource interface {
	Snapshot() map[string]string
}

// Config wires the server to the relay and its supporting components. Only
// Relay is required; nil components disable the endpoints that need them.
type Config struct {
	Relay   *relay.Relay
	Pool    *backend.Pool
	Models  backend.ModelLister
	Aliases AliasSource
	Ledger  ledger.Store
	Health  *health.Checker
	Metrics *metrics.Collector

	RateLimiter        *ratelimit.Middleware
	CORSAllowedOrigins []string
}

// Server exposes the relay over HTTP.
type Server struct {
	relay   *relay.Relay
	pool    *backend.Pool
	models  backend.ModelLister
	aliases AliasSource
	ledger  ledger.Store
	health  *health.Checker
	metrics *metrics.Collector

	rateLimiter *ratelimit.Middleware
	corsOrigins []string

	// logging
	logger   *log.Logger
	logLevel string
}

// New constructs a Server.
func New(cfg Config) *Server {
	return &Server{
		relay:       cfg.Relay,
		pool:        cfg.Pool,
		models:      cfg.Models,
		aliases:     cfg.Aliases,
		ledger:      cfg.Ledger,
		health:      cfg.Health,
		metrics:     cfg.Metrics,
		rateLimiter: cfg.RateLimiter,
		corsOrigins: cfg.CORSAllowedOrigins,
		logger:      log.New(io.Discard, "", 0),
		logLevel:    "info",
	}
}

// SetLogger sets the server logger and level.
func (s *Server) SetLogger(level string, logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
	if level = strings.TrimSpace(level); level != "" {
		s.logLevel = strings.ToLower(level)
	}
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }

func (s *Server) debugf(format string, args ...any) {
	if s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpoints(r,
		newChatEndpoint(s),
		newHealthEndpoint(s),
		newModelsEndpoint(s),
		newUsageEndpoint(s),
		newMetricsEndpoint(s),
	)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

// limitedMiddleware is applied to routes that browsers and chat clients call.
func (s *Server) limitedMiddleware() []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	if len(s.corsOrigins) > 0 {
		mws = append(mws, cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	if s.rateLimiter != nil {
		mws = append(mws, s.rateLimiter.Wrap)
	}
	return mws
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	limited := s.limitedMiddleware()
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			h := s.instrument(ep.Name(), route.Handler)
			if route.Limited && len(limited) > 0 {
				r.With(limited...).Method(route.Method, route.Path, h)
				// preflight for browser clients
				if len(s.corsOrigins) > 0 {
					r.With(limited...).Options(route.Path, func(w http.ResponseWriter, r *http.Request) {})
				}
				continue
			}
			r.Method(route.Method, route.Path, h)
		}
	}
}

// instrument records per-endpoint request metrics.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		s.metrics.RecordRequestStart(name)
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.metrics.RecordRequestEnd(name, status, time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
