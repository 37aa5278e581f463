// Package main is the entry point for the CurbSight API server.
//
// It loads configuration, connects the repository registry, wires the domain
// handlers onto the core chassis (middleware, routing, health checks), and
// serves HTTP with graceful shutdown on SIGINT/SIGTERM.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"curbsight/internal/api/handlers"
	"curbsight/internal/auth"
	"curbsight/internal/billing"
	"curbsight/internal/config"
	"curbsight/internal/core"
	"curbsight/internal/db"
	"curbsight/internal/metrics"
	"curbsight/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("curbsight API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	repos, err := db.NewRegistry(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	srv, err := core.NewServer(cfg, repos, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewAuthenticator(repos.Tokens, cfg.Auth.AdminAPIKey)
	srv.HealthProbes = []core.HealthProbe{core.DatabaseProbe{Repos: repos}}

	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		srv.Metrics = metrics.NewCollector(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	trigger := queue.NewComplianceTrigger(sqsClient, cfg.AWS, logger)
	invoicer := billing.NewStripeInvoicer(
		&http.Client{Timeout: 20 * time.Second},
		repos.Providers,
		billing.StripeInvoicerConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Reveal(),
			Logger:    logger.With("client", "stripe"),
		},
	)

	policyHandler := handlers.NewPolicyHandler(repos.Policies, repos.Geographies, srv.Validator, logger)
	geographyHandler := handlers.NewGeographyHandler(repos.Geographies, srv.Validator, logger)
	ingestHandler := handlers.NewIngestHandler(repos.Telemetry, srv.Validator, logger)
	complianceHandler := handlers.NewComplianceHandler(repos.Snapshots, repos.Providers, trigger, srv.Validator, logger)
	providerHandler := handlers.NewProviderHandler(repos.Providers, repos.Stats, srv.Validator, logger)
	jurisdictionHandler := handlers.NewJurisdictionHandler(repos.Jurisdictions, repos.Geographies, srv.Validator, logger)
	tokenHandler := handlers.NewTokenHandler(repos.Tokens, cfg.Auth.BcryptCost, srv.Validator, logger)
	transactionHandler := handlers.NewTransactionHandler(repos.Transactions, repos.Providers, invoicer, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		policyHandler.RegisterRoutes(srv),
		geographyHandler.RegisterRoutes(srv),
		ingestHandler.RegisterRoutes(srv),
		complianceHandler.RegisterRoutes(srv),
		providerHandler.RegisterRoutes(srv),
		jurisdictionHandler.RegisterRoutes(srv),
		tokenHandler.RegisterRoutes(srv),
		transactionHandler.RegisterRoutes(srv),
	)
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer serves until a shutdown signal or server error, then drains
// in-flight requests before closing server resources.
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

// newLogger creates a JSON slog.Logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
