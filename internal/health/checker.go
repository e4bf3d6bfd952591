package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // database, backend
	CheckResult
}

// Pinger is a backend reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs health checks on the ledger database and the inference backend.
type Checker struct {
	components []Component
	mu         sync.RWMutex

	ledgerDB    *sql.DB
	backend     Pinger
	backendName string

	dbTimeout           time.Duration
	pingTimeout         time.Duration
	maxDatabasesLatency time.Duration
}

// Config holds health checker configuration. Nil dependencies are skipped.
type Config struct {
	LedgerDB    *sql.DB
	Backend     Pinger
	BackendName string

	DBTimeout          time.Duration
	PingTimeout        time.Duration
	MaxDatabaseLatency time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}
	if cfg.BackendName == "" {
		cfg.BackendName = "backend"
	}
	return &Checker{
		ledgerDB:            cfg.LedgerDB,
		backend:             cfg.Backend,
		backendName:         cfg.BackendName,
		dbTimeout:           cfg.DBTimeout,
		pingTimeout:         cfg.PingTimeout,
		maxDatabasesLatency: cfg.MaxDatabaseLatency,
	}
}

// Check performs all health checks concurrently and returns overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, 2)

	if c.ledgerDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx, "ledger_db", c.ledgerDB)
		}()
	}
	if c.backend != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkBackend(ctx)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	components := make([]Component, 0, 2)
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()

	return c.calculateOverallStatus(components)
}

// checkDatabase checks database connectivity and performance.
func (c *Checker) checkDatabase(ctx context.Context, name string, db *sql.DB) Component {
	comp := Component{
		Name:        name,
		Type:        "database",
		CheckResult: CheckResult{Timestamp: time.Now()},
	}
	start := time.Now()
	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	err := db.PingContext(dbCtx)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Database unreachable"
		return comp
	}
	if comp.Latency > c.maxDatabasesLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	} else {
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

// checkBackend pings the inference backend. An unreachable backend degrades
// the relay but does not make it unhealthy: requests fail with the fixed error
// text and the process can recover without a restart.
func (c *Checker) checkBackend(ctx context.Context) Component {
	comp := Component{
		Name:        c.backendName,
		Type:        "backend",
		CheckResult: CheckResult{Timestamp: time.Now()},
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	err := c.backend.Ping(pingCtx)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Backend unreachable"
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "Reachable"
	return comp
}

// calculateOverallStatus determines overall health based on component statuses.
func (c *Checker) calculateOverallStatus(components []Component) HealthStatus {
	overallStatus := StatusHealthy
	criticalUnhealthy := false

	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" {
				criticalUnhealthy = true
			}
			if overallStatus == StatusHealthy {
				overallStatus = StatusDegraded
			}
		case StatusDegraded:
			if overallStatus == StatusHealthy {
				overallStatus = StatusDegraded
			}
		}
	}
	if criticalUnhealthy {
		overallStatus = StatusUnhealthy
	}

	return HealthStatus{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// GetLastStatus returns the last health check result.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.components) == 0 {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return c.calculateOverallStatus(c.components)
}
