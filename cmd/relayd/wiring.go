package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/tokligence/tokligence-relay/internal/backend"
	"github.com/tokligence/tokligence-relay/internal/backend/breaker"
	"github.com/tokligence/tokligence-relay/internal/backend/loopback"
	"github.com/tokligence/tokligence-relay/internal/backend/ollama"
	"github.com/tokligence/tokligence-relay/internal/backend/openaicompat"
	"github.com/tokligence/tokligence-relay/internal/config"
	"github.com/tokligence/tokligence-relay/internal/health"
	"github.com/tokligence/tokligence-relay/internal/ledger"
	ledgerasync "github.com/tokligence/tokligence-relay/internal/ledger/async"
	ledgerpg "github.com/tokligence/tokligence-relay/internal/ledger/postgres"
	ledgersql "github.com/tokligence/tokligence-relay/internal/ledger/sqlite"
)

// backendSet is the pool plus the side views the HTTP layer needs.
type backendSet struct {
	pool   *backend.Pool
	models backend.ModelLister
	pinger health.Pinger
	guard  *breaker.Guard
}

// buildBackend creates backend_pool_size handles, each with its own HTTP
// transport, optionally behind one shared circuit breaker.
func buildBackend(cfg config.RelayConfig, logger *log.Logger) (backendSet, error) {
	size := cfg.BackendPoolSize
	if size < 1 {
		size = 1
	}
	var set backendSet
	if cfg.BreakerEnabled && cfg.Backend != config.BackendLoopback {
		set.guard = breaker.New(cfg.Backend, breaker.Settings{
			MaxFailures: uint32(cfg.BreakerMaxFailures),
			OpenTimeout: cfg.BreakerOpenTimeout,
		}, logger)
	}

	handles := make([]backend.Client, 0, size)
	for i := 0; i < size; i++ {
		h, err := newHandle(cfg)
		if err != nil {
			return backendSet{}, err
		}
		if i == 0 {
			if ml, ok := h.(backend.ModelLister); ok {
				set.models = ml
			}
			if hc, ok := h.(backend.HealthChecker); ok {
				set.pinger = hc
			}
		}
		if set.guard != nil {
			h = set.guard.Wrap(h)
		}
		handles = append(handles, h)
	}
	pool, err := backend.NewPool(handles...)
	if err != nil {
		return backendSet{}, err
	}
	set.pool = pool
	return set, nil
}

func newHandle(cfg config.RelayConfig) (backend.Client, error) {
	httpClient := backend.NewHTTPClient(backend.HTTPConfig{})
	switch cfg.Backend {
	case config.BackendOllama:
		return ollama.New(ollama.Config{BaseURL: cfg.BackendURL, HTTPClient: httpClient})
	case config.BackendOpenAI:
		return openaicompat.New(openaicompat.Config{BaseURL: cfg.BackendURL, APIKey: cfg.BackendAPIKey, HTTPClient: httpClient})
	case config.BackendLoopback:
		return loopback.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// dbStore is implemented by the SQL-backed ledgers.
type dbStore interface {
	ledger.Store
	DB() *sql.DB
}

// openLedger picks postgres for DSNs and sqlite otherwise, optionally wrapped
// with the async batch writer. The returned DB is used for health checks.
func openLedger(cfg config.RelayConfig, logger *log.Logger) (ledger.Store, *sql.DB, error) {
	path := strings.TrimSpace(cfg.LedgerPath)
	var (
		store dbStore
		err   error
	)
	if ledger.IsPostgresDSN(path) {
		store, err = ledgerpg.New(path, 10, 5, 30, 5)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		logger.Printf("ledger: postgres")
	} else {
		store, err = ledgersql.New(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		logger.Printf("ledger: sqlite path=%s", path)
	}
	if cfg.LedgerAsync {
		return ledgerasync.New(store, ledgerasync.Config{Logger: logger}), store.DB(), nil
	}
	return store, store.DB(), nil
}
