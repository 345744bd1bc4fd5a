package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"flowsentinel/backend/internal/api"
	"flowsentinel/backend/internal/cache"
	"flowsentinel/backend/internal/catalog"
	"flowsentinel/backend/internal/config"
	"flowsentinel/backend/internal/logging"
	"flowsentinel/backend/internal/mcp"
	"flowsentinel/backend/internal/patterns"
	"flowsentinel/backend/internal/platform"
	"flowsentinel/backend/internal/repository"
	"flowsentinel/backend/internal/services"
	"flowsentinel/backend/internal/telemetry"
	"flowsentinel/backend/internal/tls"
	"flowsentinel/backend/internal/validation"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("Starting FlowSentinel", "version", version, "platform", cfg.Platform.URL)

	provider, err := telemetry.NewProvider("flowsentinel", version)
	if err != nil {
		log.Fatalf("Telemetry initialization failed: %v", err)
	}
	metrics := provider.Metrics()

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	store := repository.NewPostgresStore(dbPool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Database migration failed: %v", err)
	}
	logger.Info("Database connected")

	client, err := platform.NewClient(platform.Options{
		URL:       cfg.Platform.URL,
		APIKey:    cfg.Platform.APIKey,
		Timeout:   cfg.Platform.Timeout,
		RateLimit: cfg.Platform.RateLimit,
		Burst:     cfg.Platform.Burst,
	})
	if err != nil {
		log.Fatalf("Platform client initialization failed: %v", err)
	}

	verdicts, closeCache, err := newCache(ctx, cfg)
	if err != nil {
		log.Fatalf("Cache initialization failed: %v", err)
	}
	defer closeCache()

	// The catalog view is swapped by the synchronizer; everything below
	// resolves it on each use.
	var synchronizer *catalog.Synchronizer
	currentView := func() *catalog.View { return synchronizer.Current() }

	gate := cache.NewGate(verdicts, func() validation.Catalog { return currentView() }, metrics, logger.Component("gate"))
	engine := patterns.NewEngine(patterns.Thresholds{
		MinObservations:        cfg.Patterns.MinObservations,
		MinSuccessRate:         cfg.Patterns.MinSuccessRate,
		MinEmbeddingConfidence: cfg.Patterns.MinEmbeddingConfidence,
		DemoteSuccessRate:      cfg.Patterns.DemoteSuccessRate,
		DemoteSatisfaction:     cfg.Patterns.DemoteSatisfaction,
		TrailingWindow:         cfg.Patterns.TrailingWindow,
	}, patterns.CatalogFunc(func() patterns.Catalog { return currentView() }))

	semantic := services.NewHTTPSemanticClient(cfg.Semantic.URL, cfg.Semantic.Timeout)
	workflowService := services.NewWorkflowService(client, gate, validation.Profile(cfg.Validation.Profile), logger.Component("workflows"))
	patternService := services.NewPatternService(semantic, services.PatternStores{
		Evidence:  store,
		Decisions: store,
		Graph:     store,
	}, engine, metrics, logger.Component("patterns"), cfg.Patterns.Concurrency)

	synchronizer = catalog.NewSynchronizer(client, store, catalog.Options{
		Interval:          cfg.Sync.Interval,
		RetryInterval:     cfg.Sync.RetryInterval,
		RequestTimeout:    cfg.Sync.RequestTimeout,
		MaxRetries:        cfg.Sync.MaxRetries,
		DegradedThreshold: cfg.Sync.DegradedThreshold,
	}, logger.Component("catalog"), metrics,
		gate,
		catalog.InvalidatorFunc(store.InvalidateCache),
		catalog.InvalidatorFunc(func(ctx context.Context) error {
			_, err := patternService.ReevaluateAll(ctx)
			return err
		}),
	)
	if err := synchronizer.Bootstrap(ctx); err != nil {
		logger.Warn("Catalog bootstrap failed, starting empty", "error", err)
	}
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		_ = synchronizer.Run(ctx)
	}()

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("flowsentinel"))

	apiHandler := api.NewHandler(workflowService, synchronizer, engine, logger.Component("api"), version)
	e.GET("/health", apiHandler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(provider.Handler()))
	api.RegisterHandlers(e.Group("/api/v1"), apiHandler)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(version, workflowService, patternService, synchronizer, logger.Component("mcp"))
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			created, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- err
				return
			}
			if created {
				logger.Info("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
		}
		stop()
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}
	<-syncDone
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown error", "error", err)
	}

	logger.Info("Server stopped gracefully")
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// newCache builds the configured verdict cache and its close function.
func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemoryCache(cfg.Cache.TTL), func() {}, nil
	}

	rc, err := cache.NewRedisCache(&redis.Options{Addr: cfg.Cache.RedisAddr}, cfg.Cache.Prefix, cfg.Cache.TTL)
	if err != nil {
		return nil, nil, err
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Cache.RedisAddr, err)
	}
	return rc, func() { rc.Close() }, nil
}
