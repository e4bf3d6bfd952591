package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokligence/tokligence-relay/internal/aliases"
	"github.com/tokligence/tokligence-relay/internal/bootstrap"
	"github.com/tokligence/tokligence-relay/internal/config"
	"github.com/tokligence/tokligence-relay/internal/health"
	"github.com/tokligence/tokligence-relay/internal/httpserver"
	"github.com/tokligence/tokligence-relay/internal/logging"
	"github.com/tokligence/tokligence-relay/internal/metrics"
	"github.com/tokligence/tokligence-relay/internal/ratelimit"
	"github.com/tokligence/tokligence-relay/internal/relay"
	"github.com/tokligence/tokligence-relay/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			if err := runInit(os.Args[2:]); err != nil {
				log.Fatalf("relayd init failed: %v", err)
			}
			fmt.Println("relay config initialised")
			return
		case "version", "--version":
			fmt.Println(version.FullInfo())
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}
	if err := runRelay("."); err != nil {
		log.Fatalf("relayd: %v", err)
	}
}

func printUsage() {
	fmt.Print(`Tokligence Relay

Usage:
  relayd init [flags]   Generate config/setting.ini and config/<env>/relay.ini
  relayd version        Print build information
  relayd                Serve POST /chat using the configuration in ./config

Flags for init:
  --root string            output directory (default '.')
  --env string             environment name (default 'dev')
  --http-address string    bind address (default ':8081')
  --backend string         ollama, openai or loopback (default 'ollama')
  --backend-url string     backend base URL
  --pool-size int          concurrent backend handles (default 1)
  --ledger-path string     ledger SQLite path or postgres DSN
  --force                  overwrite existing files
`)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	root := fs.String("root", ".", "config root")
	env := fs.String("env", "dev", "environment name")
	httpAddr := fs.String("http-address", ":8081", "relay HTTP bind address")
	backendKind := fs.String("backend", config.BackendOllama, "backend kind")
	backendURL := fs.String("backend-url", "", "backend base URL")
	poolSize := fs.Int("pool-size", 1, "backend handles")
	ledgerPath := fs.String("ledger-path", "", "ledger sqlite path or postgres DSN")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return bootstrap.Init(bootstrap.InitOptions{
		Root:        *root,
		Environment: *env,
		HTTPAddress: *httpAddr,
		Backend:     *backendKind,
		BackendURL:  *backendURL,
		PoolSize:    *poolSize,
		LedgerPath:  *ledgerPath,
		Force:       *force,
	})
}

func runRelay(root string) error {
	if err := config.LoadDotEnv(root); err != nil {
		log.Printf("ignoring .env: %v", err)
	}
	cfg, err := config.LoadRelayConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	closer, err := logging.Setup(cfg.LogFile, cfg.LogMaxFiles)
	if err != nil {
		return fmt.Errorf("init rotating log: %w", err)
	}
	defer closer.Close()
	log.SetPrefix("[relayd] ")
	log.Printf("starting %s env=%s backend=%s pool=%d format=%s", version.Info(), cfg.Environment, cfg.Backend, cfg.BackendPoolSize, cfg.StreamFormat)

	bk, err := buildBackend(cfg, logging.Named("[relayd/backend] "))
	if err != nil {
		return err
	}
	defer bk.pool.Close()

	format, err := relay.ParseFormat(cfg.StreamFormat)
	if err != nil {
		return err
	}
	rl := relay.New(bk.pool, relay.Options{
		QueueSize:       cfg.RelayQueueSize,
		Format:          format,
		KeepAlive:       cfg.SSEKeepAlive,
		DoneMarker:      cfg.StreamDoneMarker,
		ForceAccumulate: cfg.ForceAccumulate,
		BackendTimeout:  cfg.BackendTimeout,
	}, nil)
	rl.SetLogger(cfg.LogLevel, logging.Named("[relayd/relay] "))

	collector := metrics.NewCollector(nil)
	collector.RegisterPool(bk.pool)
	rl.SetObserver(collector)

	aliasTable, err := aliases.New(cfg.ModelAliases, cfg.ModelAliasesFile)
	if err != nil {
		return err
	}
	aliasTable.SetLogger(logging.Named("[relayd/aliases] "))
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := aliasTable.Watch(rootCtx); err != nil {
		log.Printf("alias hot reload disabled: %v", err)
	}
	defer aliasTable.Close()
	rl.SetResolver(aliasTable)

	store, db, err := openLedger(cfg, logging.Named("[relayd/ledger] "))
	if err != nil {
		return err
	}
	defer store.Close()

	checker := health.New(health.Config{LedgerDB: db, Backend: bk.pinger, BackendName: bk.pool.Name()})

	var limiter *ratelimit.Middleware
	if cfg.RateLimitRPS > 0 {
		rlim := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst})
		defer rlim.Close()
		limiter = ratelimit.NewMiddleware(rlim, true, logging.Named("[relayd/ratelimit] "))
		limiter.OnLimited(func(*http.Request) { collector.RecordRateLimitHit() })
	}

	httpSrv := httpserver.New(httpserver.Config{
		Relay:              rl,
		Pool:               bk.pool,
		Models:             bk.models,
		Aliases:            aliasTable,
		Ledger:             store,
		Health:             checker,
		Metrics:            collector,
		RateLimiter:        limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	httpSrv.SetLogger(cfg.LogLevel, logging.Named("[relayd/http] "))

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		// 0 keeps long streams alive; sse.go also clears the deadline per stream
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("relay listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigs:
		log.Printf("received %s, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	return nil
}
