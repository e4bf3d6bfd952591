package health

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCheckHealthy(t *testing.T) {
	c := New(Config{
		LedgerDB:           openDB(t),
		Backend:            pingFunc(func(context.Context) error { return nil }),
		BackendName:        "ollama",
		MaxDatabaseLatency: 1 << 40,
	})
	st := c.Check(context.Background())
	if st.Status != StatusHealthy || len(st.Components) != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
	if last := c.GetLastStatus(); last.Status != StatusHealthy || len(last.Components) != 2 {
		t.Fatalf("unexpected last status %+v", last)
	}
}

func TestCheckBackendDownDegrades(t *testing.T) {
	c := New(Config{
		LedgerDB:           openDB(t),
		Backend:            pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		MaxDatabaseLatency: 1 << 40,
	})
	st := c.Check(context.Background())
	if st.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", st.Status)
	}
	for _, comp := range st.Components {
		if comp.Type == "backend" && comp.Error != "connection refused" {
			t.Fatalf("unexpected backend component %+v", comp)
		}
	}
}

func TestCheckClosedDatabaseUnhealthy(t *testing.T) {
	db := openDB(t)
	_ = db.Close()
	st := New(Config{LedgerDB: db}).Check(context.Background())
	if st.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %+v", st)
	}
}

func TestGetLastStatusBeforeCheck(t *testing.T) {
	if st := New(Config{}).GetLastStatus(); st.Status != StatusHealthy {
		t.Fatalf("expected healthy default, got %s", st.Status)
	}
}
