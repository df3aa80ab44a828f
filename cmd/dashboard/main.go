// Command dashboard serves the soil telemetry API and charts. Each request
// reads the realtime database, normalizes the records and renders the result.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/soil-telemetry-service/internal/adapter/firebase"
	httpadapter "github.com/couchcryptid/soil-telemetry-service/internal/adapter/http"
	"github.com/couchcryptid/soil-telemetry-service/internal/config"
	"github.com/couchcryptid/soil-telemetry-service/internal/observability"
	"github.com/couchcryptid/soil-telemetry-service/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := firebase.OptionsFromConfig(cfg)
	if err != nil {
		logger.Error("failed to load firebase credentials", "error", err)
		os.Exit(1)
	}
	client, err := firebase.NewClient(ctx, opts, logger, metrics)
	if err != nil {
		logger.Error("failed to create firebase client", "error", err)
		os.Exit(1)
	}
	logger.Info("firebase client ready",
		"database_url", cfg.FirebaseDatabaseURL,
		"path", cfg.FirebaseDataPath,
		"service_account", len(opts.CredentialsJSON) > 0,
	)

	p := pipeline.New(client, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, metrics, cfg.ChartMaxBars, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
