// Package main is the entry point for the BizPulse billing event processor.
//
// It loads configuration (with SSM secret resolution outside local
// environments), connects the PostgreSQL pool, wires the repositories,
// the event processor, and the webhook handler into the HTTP chassis,
// and serves until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"bizpulse/internal/api/handlers"
	"bizpulse/internal/billing"
	"bizpulse/internal/config"
	"bizpulse/internal/core"
	"bizpulse/internal/db"
	"bizpulse/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can exit cleanly on error.
func run() error {
	ctx := context.Background()

	// A missing webhook secret or database URL fails here, before the
	// server ever accepts a request.
	cfg, err := config.LoadConfig(newSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("billing processor starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	subRepo := db.NewSubscriptionRepo(pool, logger)
	creditRepo := db.NewCreditLedgerRepo(pool, logger)
	tenantRepo := db.NewTenantRepo(pool, logger)
	auditRepo := db.NewAuditRepo(pool, logger)

	// Outbound collaborators.
	alerts := newAlertNotifier(cfg, logger)
	metrics, err := newOutcomeMetrics(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	processor := billing.NewProcessor(subRepo, creditRepo, tenantRepo, alerts, logger)

	webhookHandler := handlers.NewBillingWebhookHandler(
		&external.StripeVerifier{},
		processor,
		auditRepo,
		metrics,
		cfg.Billing.WebhookSecret.Unmask(),
		logger,
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{&db.PingProbe{Pool: pool}}
	srv.MountRoutes(webhookHandler)

	return runHTTPServer(srv, cfg, logger)
}

// newSecretProvider builds the SSM provider for non-local environments.
// The region is read from the environment directly because configuration
// has not been loaded yet at this point.
func newSecretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region)
}

// newAlertNotifier returns the ops alert client when a webhook URL is
// configured, and the logging no-op otherwise.
func newAlertNotifier(cfg *config.Config, logger *slog.Logger) billing.AlertNotifier {
	if cfg.Alerts.URL == "" {
		return &external.NoopAlertNotifier{Logger: logger}
	}
	httpClient := &http.Client{Timeout: cfg.Alerts.Timeout}
	return external.NewOpsAlertClient(httpClient, cfg.Alerts, logger)
}

// newOutcomeMetrics returns the CloudWatch emitter when metrics are enabled,
// and the no-op otherwise.
func newOutcomeMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (external.OutcomeMetrics, error) {
	if !cfg.Observability.EnableMetrics {
		return external.NoopOutcomeMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config (region=%s): %w", cfg.AWS.Region, err)
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		o.RetryMaxAttempts = 2
	})
	return external.NewCloudWatchOutcomeMetrics(client, cfg.Observability.MetricNamespace, logger), nil
}

// runHTTPServer serves until SIGINT/SIGTERM, then drains with a deadline.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates the JSON structured logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
