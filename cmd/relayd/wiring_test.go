package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/tokligence/tokligence-relay/internal/config"
	"github.com/tokligence/tokligence-relay/internal/ledger"
	ledgerasync "github.com/tokligence/tokligence-relay/internal/ledger/async"
)

var quiet = log.New(io.Discard, "", 0)

func TestBuildBackendPoolSize(t *testing.T) {
	cfg := config.RelayConfig{Backend: config.BackendOllama, BackendURL: "http://127.0.0.1:11434", BackendPoolSize: 3, BreakerEnabled: true}
	set, err := buildBackend(cfg, quiet)
	if err != nil {
		t.Fatalf("buildBackend: %v", err)
	}
	defer set.pool.Close()
	if set.pool.Size() != 3 || set.pool.Name() != "ollama" {
		t.Fatalf("unexpected pool %s/%d", set.pool.Name(), set.pool.Size())
	}
	if set.models == nil || set.pinger == nil || set.guard == nil {
		t.Fatalf("expected models, pinger and breaker for ollama: %+v", set)
	}
}

func TestBuildBackendKinds(t *testing.T) {
	cases := []struct {
		cfg     config.RelayConfig
		name    string
		wantErr bool
	}{
		{config.RelayConfig{Backend: config.BackendOpenAI, BackendURL: "http://127.0.0.1:8000/v1"}, "openai", false},
		{config.RelayConfig{Backend: config.BackendLoopback, BreakerEnabled: true}, "loopback", false},
		{config.RelayConfig{Backend: config.BackendOpenAI, BackendURL: "ftp://nope"}, "", true},
		{config.RelayConfig{Backend: "bedrock"}, "", true},
	}
	for _, tc := range cases {
		set, err := buildBackend(tc.cfg, quiet)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%+v: expected error", tc.cfg)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%+v: %v", tc.cfg, err)
		}
		if set.pool.Name() != tc.name || set.pool.Size() != 1 {
			t.Fatalf("unexpected pool %s/%d", set.pool.Name(), set.pool.Size())
		}
		if tc.cfg.Backend == config.BackendLoopback && set.guard != nil {
			t.Fatalf("loopback must not be wrapped by a breaker")
		}
		set.pool.Close()
	}
}

func TestOpenLedgerSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	store, db, err := openLedger(config.RelayConfig{LedgerPath: path}, quiet)
	if err != nil {
		t.Fatalf("openLedger: %v", err)
	}
	defer store.Close()
	if db == nil {
		t.Fatalf("expected a DB handle for health checks")
	}
	if err := store.Record(context.Background(), ledger.Entry{SessionID: "3f1c2a9e-0000-4000-8000-000000000001", Mode: "once", Model: "llama3", Backend: "ollama", Outcome: "completed"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("ledger file missing: %v", err)
	}
}

func TestOpenLedgerAsync(t *testing.T) {
	store, _, err := openLedger(config.RelayConfig{LedgerPath: filepath.Join(t.TempDir(), "ledger.db"), LedgerAsync: true}, quiet)
	if err != nil {
		t.Fatalf("openLedger: %v", err)
	}
	if _, ok := store.(*ledgerasync.Store); !ok {
		t.Fatalf("expected async store, got %T", store)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRunInit(t *testing.T) {
	root := t.TempDir()
	if err := runInit([]string{"--root", root, "--backend", "loopback", "--pool-size", "2"}); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	cfg, err := config.LoadRelayConfig(root)
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.Backend != config.BackendLoopback || cfg.BackendPoolSize != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if err := runInit([]string{"--root", root}); err == nil {
		t.Fatalf("expected error without --force")
	}
}
