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
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/time/rate"

	"perspective-engine/backend/internal/api"
	"perspective-engine/backend/internal/auth"
	"perspective-engine/backend/internal/config"
	"perspective-engine/backend/internal/logging"
	"perspective-engine/backend/internal/mcp"
	"perspective-engine/backend/internal/metrics"
	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/internal/services"
	"perspective-engine/backend/internal/tls"
	"perspective-engine/backend/internal/tracing"
	"perspective-engine/backend/internal/workflow"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	// Parse command line flags
	configFile := flag.String("config", "", "Path to config file (default: ./config.yaml or ./config/config.yaml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	// Initialize logging
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"storage", cfg.Storage.Driver,
		"reasoning_provider", cfg.Reasoning.Provider,
		"model", cfg.Reasoning.Model,
		"okta_domain", cfg.Auth.OktaDomain,
	)

	logger.Info("Starting Perspective Engine", "version", version)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Enabled, cfg.Tracing.Exporter)
	if err != nil {
		log.Fatalf("Tracing initialization failed: %v", err)
	}

	// Initialize storage
	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		log.Fatalf("Storage initialization failed: %v", err)
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("Schema migration failed: %v", err)
	}
	logger.Info("Storage ready", "driver", cfg.Storage.Driver)

	// Initialize service layer
	reasoner, err := newReasoner(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Reasoner initialization failed: %v", err)
	}
	flow := services.NewDecisionWorkflow(repo, reasoner, services.DecisionOptions{
		Model:        cfg.Reasoning.Model,
		SystemPrompt: cfg.Workflow.SystemPrompt,
		HistoryLimit: cfg.Workflow.HistoryLimit,
	}, logger.With("component", "decision_workflow"))

	wfLogger := logger.With("component", "workflow")
	runner := workflow.NewRunner(repo, workflow.NewExecutor(repo, wfLogger), flow.Handle, wfLogger)
	registry := workflow.NewRegistry(repo, repo, runner, wfLogger)
	poller := workflow.NewPoller(registry, cfg.Workflow.PollAttempts, cfg.Workflow.PollInterval)

	if cfg.Workflow.ResumeOnStart {
		n, err := registry.ResumeRunning(ctx)
		if err != nil {
			logger.Error("Failed to resume instances", "error", err)
		} else if n > 0 {
			logger.Info("Resumed interrupted instances", "count", n)
		}
	}

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("perspective-engine"))
	e.Use(metrics.Middleware())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger.With("component", "auth"))
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}
	if authz.Bypassed() {
		logger.Warn("Authentication bypass is enabled; /api/v1 runs as the demo user", "user_id", cfg.Workflow.DemoUserID)
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Mount REST API handlers
	// Create a group for /api/v1 to match OpenAPI spec and apply auth middleware
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	apiServer := api.NewServer(registry, poller, repo, cfg.Workflow.DemoUserID, logger.With("component", "api"))
	api.RegisterHandlers(e, apiGroup, apiServer, analyzeLimiter(cfg.Server.RateLimit)...)
	e.GET("/healthz", api.NewHandler(repo, version).HandleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(registry, poller, repo, cfg.Workflow.DemoUserID)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// expose OpenAPI spec (with runtime substitution)
	e.GET("/openapi.yaml", api.SpecHandler(cfg.Auth.OktaDomain))

	// Create HTTP server
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
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			generated, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- err
				return
			}
			if generated {
				logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}
	// running instances stay running in storage and resume on the next start
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("Workflow shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown error", "error", err)
	}

	logger.Info("Server stopped gracefully")
}

// openRepository connects the storage backend selected by storage.driver.
func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(pool), nil
	case "sqlite":
		return repository.NewSQLiteStore(cfg.Storage.SQLitePath)
	case "memory":
		logger.Warn("Using in-memory storage; instances and history are lost on restart")
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
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

// newReasoner builds the configured reasoning client behind a circuit breaker.
func newReasoner(ctx context.Context, cfg *config.Config, logger *logging.Logger) (services.Reasoner, error) {
	var inner services.Reasoner
	switch cfg.Reasoning.Provider {
	case "bedrock":
		b, err := services.NewBedrockReasoner(ctx, cfg.Reasoning.Region)
		if err != nil {
			return nil, err
		}
		inner = b
	case "http":
		if cfg.Reasoning.URL == "" {
			return nil, errors.New("reasoning.url is required for the http provider")
		}
		inner = services.NewHTTPReasoner(cfg.Reasoning.URL, cfg.Reasoning.APIToken, cfg.Reasoning.Timeout)
	default:
		return nil, fmt.Errorf("unsupported reasoning provider %q", cfg.Reasoning.Provider)
	}

	return services.NewBreakerReasoner(cfg.Reasoning.Provider, inner, services.BreakerSettings{
		MaxFailures: cfg.Reasoning.Breaker.MaxFailures,
		Timeout:     cfg.Reasoning.Breaker.Timeout,
		Interval:    cfg.Reasoning.Breaker.Interval,
	}, logger.With("component", "reasoner")), nil
}

// analyzeLimiter limits POST /analyze per client IP. Each call holds a run
// open for the whole poll window.
func analyzeLimiter(perSecond float64) []echo.MiddlewareFunc {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return []echo.MiddlewareFunc{
		middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(perSecond),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return c.JSON(http.StatusTooManyRequests, api.AnalyzeResponse{Analysis: "Error: too many requests"})
			},
		}),
	}
}
