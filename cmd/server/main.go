/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Residency Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, optional JSON file, environment)
  2. Apply command-line overrides
  3. Initialize logger, metrics, SQLite store and rule registry
  4. Connect the ledger cache (Redis, falling back to in-memory)
  5. Create API handler, start the threshold watcher, build the router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  JSON configuration file (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  SERVER_PORT, DATABASE_PATH, RULES_FILE, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB,
  CACHE_TTL_SECONDS, LOG_LEVEL, LOG_FORMAT, TRACING_ENABLED, ALLOWED_ORIGINS,
  WATCH_ENABLED, WATCH_INTERVAL_SECONDS, WATCH_WARN_PERCENT.
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the watcher; close cache and database connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/residency.db"

  # Run with in-memory database and custom rules
  RULES_FILE=./rules.json ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: Configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/warp/residency-engine/api"
	"github.com/warp/residency-engine/cache"
	"github.com/warp/residency-engine/config"
	"github.com/warp/residency-engine/factory"
	"github.com/warp/residency-engine/logger"
	"github.com/warp/residency-engine/metrics"
	"github.com/warp/residency-engine/store/sqlite"
)

func main() {
	// Flags
	configFile := flag.String("config", "", "JSON configuration file")
	port := flag.String("port", "", "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Error("failed to initialize database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	registry, err := factory.LoadRegistry(cfg.Rules.File)
	if err != nil {
		log.Error("failed to load rules", "file", cfg.Rules.File, "error", err)
		os.Exit(1)
	}

	ledgerCache := newCache(cfg, log)
	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize handler
	handler := api.NewHandler(store,
		api.WithRegistry(registry),
		api.WithCache(ledgerCache, cfg.Cache.TTL()),
		api.WithMetrics(m),
		api.WithLogger(log),
	)

	watcher := handler.Watcher()
	watcher.Enabled = cfg.Watch.Enabled
	watcher.CheckInterval = cfg.Watch.Interval()
	watcher.WarnPercent = cfg.Watch.WarnPercent
	watcher.Start()

	// Create router
	router := api.NewRouter(handler, cfg.Origins(), prometheus.DefaultGatherer)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", "addr", server.Addr, "rules", len(registry.Rules()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	watcher.Stop()
	if rc, ok := ledgerCache.(*cache.RedisCache); ok {
		rc.Close()
	}

	log.Info("server stopped")
}

// newCache connects to Redis when configured, otherwise (or on failure)
// caches ledgers in memory.
func newCache(cfg *config.Config, log *slog.Logger) cache.Cache {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewInMemoryCache()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err != nil {
		log.Warn("redis unavailable, using in-memory ledger cache", "addr", cfg.Cache.RedisAddr, "error", err)
		return cache.NewInMemoryCache()
	}
	log.Info("ledger cache connected", "addr", cfg.Cache.RedisAddr)
	return rc
}
