// Command export publishes the normalized telemetry table to Kafka and/or an
// XLSX file. It runs once, or on a schedule when EXPORT_INTERVAL is set.
//
// Usage:
//
//	go run ./cmd/export -xlsx exports/readings.xlsx
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/soil-telemetry-service/internal/adapter/firebase"
	kafkaadapter "github.com/couchcryptid/soil-telemetry-service/internal/adapter/kafka"
	"github.com/couchcryptid/soil-telemetry-service/internal/adapter/xlsx"
	"github.com/couchcryptid/soil-telemetry-service/internal/config"
	"github.com/couchcryptid/soil-telemetry-service/internal/observability"
	"github.com/couchcryptid/soil-telemetry-service/internal/pipeline"
	"github.com/couchcryptid/soil-telemetry-service/internal/scheduler"
	"github.com/joho/godotenv"
)

func main() {
	xlsxPath := flag.String("xlsx", "", "write the table to this XLSX file")
	flag.Parse()

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

	var sinks []pipeline.Sink
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, writer)
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if *xlsxPath != "" {
		sinks = append(sinks, xlsx.NewFileSink(*xlsxPath))
		logger.Info("xlsx export enabled", "path", *xlsxPath)
	}
	if len(sinks) == 0 {
		logger.Error("nothing to export: set KAFKA_BROKERS or pass -xlsx")
		os.Exit(2)
	}

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

	p := pipeline.New(client, logger, metrics, sinks...)
	code := run(ctx, cfg, p, logger)

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger) int {
	if cfg.ExportInterval <= 0 {
		runCtx, cancel := context.WithTimeout(ctx, cfg.FirebaseTimeout*time.Duration(cfg.FirebaseMaxRetries+2))
		defer cancel()
		snap, err := p.Refresh(runCtx)
		if err != nil {
			logger.Error("export failed", "error", err)
			return 1
		}
		logger.Info("export complete", "rows", len(snap.Table), "dropped", snap.Report.DroppedTotal())
		return 0
	}

	s := scheduler.New(p, cfg.ExportInterval, cfg.ExportInterval, logger)
	if err := s.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	<-ctx.Done()
	logger.Info("shutting down")
	s.Stop()
	logger.Info("shutdown complete")
	return 0
}
