package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"rentpay/internal/common/cache"
	"rentpay/internal/common/database"
	"rentpay/internal/common/middleware"
	natsclient "rentpay/internal/common/nats"
	"rentpay/internal/payments"
	"rentpay/internal/payments/api"
	"rentpay/internal/providers/asaas"
	"rentpay/internal/providers/pjbank"
	"rentpay/internal/settings"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PAYMENTS_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// WriteTimeout is raised to the contract lock TTL when it is shorter.
	WriteTimeout   time.Duration `envconfig:"PAYMENTS_WRITE_TIMEOUT" default:"5m"`
	IdempotencyTTL time.Duration `envconfig:"PAYMENTS_IDEMPOTENCY_TTL" default:"24h"`

	Database   database.Config
	Redis      cache.Config
	NATS       natsclient.Config
	Asaas      asaas.Config
	PJBank     pjbank.Config
	Settings   settings.Config
	Router     payments.RouterConfig
	Reconciler payments.ReconcilerConfig
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	resolver, err := settings.Load(cfg.Settings)
	if err != nil {
		logger.Error("failed to load company settings", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to Redis
	redisClient, err := cache.New(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Connect to NATS
	natsClient, err := natsclient.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	if _, err := natsClient.EnsurePaymentsStream(ctx); err != nil {
		logger.Error("failed to ensure payments stream", "error", err)
		os.Exit(1)
	}

	// Create services
	store := payments.NewPostgresStore(db)
	publisher := natsclient.NewPublisher(natsClient, logger)

	asaasProvider := asaas.NewProvider(cfg.Asaas, store, logger)
	pjbankProvider := pjbank.NewProvider(cfg.PJBank, store, logger)
	registry := payments.NewRegistry(asaasProvider, pjbankProvider)

	routerCfg := cfg.Router.ForCallTimeout(max(cfg.Asaas.Timeout, cfg.PJBank.Timeout))
	if cfg.WriteTimeout < routerCfg.LockTTL {
		cfg.WriteTimeout = routerCfg.LockTTL
	}
	logger.Info("boleto request bounds",
		"contract_lock_ttl", routerCfg.LockTTL,
		"write_timeout", cfg.WriteTimeout,
		"max_amount_minor", routerCfg.MaxAmountMinor,
	)

	router := payments.NewRouter(store, registry, cache.NewLocker(redisClient), publisher, routerCfg, logger)
	reconciler := payments.NewReconciler(store, registry, resolver, publisher, cfg.Reconciler, logger)

	// Create handlers
	handler := api.NewHandler(api.Config{
		Boletos:  router,
		Webhooks: reconciler,
		Payments: store,
		Settings: resolver,
		WebhookHeaders: map[payments.GatewayID]string{
			asaasProvider.ID():  asaasProvider.WebhookTokenHeader(),
			pjbankProvider.ID(): pjbankProvider.WebhookTokenHeader(),
		},
		Idempotency: middleware.Idempotency(cache.NewIdempotencyStore(redisClient), cfg.IdempotencyTTL, logger),
		Logger:      logger,
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CompanyExtractor)
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		checks := map[string]error{
			"database": db.HealthCheck(r.Context()),
			"redis":    redisClient.HealthCheck(r.Context()),
			"nats":     natsClient.HealthCheck(),
		}
		for name, err := range checks {
			if err != nil {
				logger.Warn("readiness check failed", "dependency", name, "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, `{"status":"not ready","dependency":%q}`, name)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	// API routes
	r.Mount("/api/v1", handler.Routes())
	r.Mount("/webhooks", handler.WebhookRoutes())

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting payments service",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
