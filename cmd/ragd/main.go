package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/polyglot-rag/internal/api/azure"
	"github.com/tjfontaine/polyglot-rag/internal/config"
	"github.com/tjfontaine/polyglot-rag/internal/pipeline"
	"github.com/tjfontaine/polyglot-rag/internal/server"
	"github.com/tjfontaine/polyglot-rag/internal/telemetry"
	"github.com/tjfontaine/polyglot-rag/internal/tenant"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires and serves the process, returning its exit code. Returning
// instead of exiting lets the deferred tracer shutdown flush spans.
func run(args []string) int {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := flag.NewFlagSet("ragd", flag.ContinueOnError)
	configPath := flags.String("config", envOr("RAG_CONFIG", config.DefaultPath), "path to the tenant config file")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("ragd", logger)
	if err != nil {
		logger.Error("failed to initialize tracer", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return 1
	}

	httpClient := telemetry.NewHTTPClient()
	defer httpClient.CloseIdleConnections()
	client := azure.NewClient(azure.WithHTTPClient(httpClient))

	registry := tenant.NewRegistry(logger)
	opts := pipeline.OptionsFromConfig(cfg.Pipeline, logger)
	if err := registry.LoadTenants(cfg.Tenants, client, opts); err != nil {
		logger.Warn("some tenants were not loaded", slog.String("error", err.Error()))
	}
	logger.Info("tenants loaded", slog.Any("tenants", registry.TenantIDs()))

	if cfg.Startup.Validate {
		validator := tenant.NewValidator(client, config.Seconds(cfg.Startup.ProbeTimeout), logger)
		report := validator.Validate(context.Background(), registry.Tenants())
		if err := validator.Enforce(report, cfg.Startup.Strict()); err != nil {
			logger.Error("startup validation failed", slog.String("error", err.Error()))
			return 1
		}
	}

	srv := server.New(cfg.Server.Port, config.Seconds(cfg.Server.RequestTimeout), registry, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	exitCode := 0
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping server...")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		exitCode = 1
	}
	if err := registry.Close(); err != nil {
		logger.Error("failed to close tenants", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("Server shutdown complete")
	return exitCode
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
