package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/alert"
	"tally/internal/analytics"
	"tally/internal/config"
	"tally/internal/export"
	applog "tally/internal/log"
	"tally/internal/storage"
	"tally/internal/timewindow"
	"tally/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting tally-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	windows, err := timewindow.NewResolver(cfg.ReportTimezone)
	if err != nil {
		logger.Error("Failed to load reporting timezone", "error", err, "timezone", cfg.ReportTimezone)
		os.Exit(1)
	}

	var store storage.Ledger
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		store = repo
	default:
		store = storage.NewMemoryStore()
	}

	// Sheets export is optional; without credentials alerts are logged only.
	var exporter export.CashflowWriter
	if cfg.GoogleSpreadsheetID != "" {
		sheets, err := export.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = sheets
		logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := alert.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	agg := analytics.NewAggregator(store, windows, cfg.MaxRangeDays)
	calculator := analytics.NewCalculator(agg, store, windows)
	alertWorker := worker.NewAlertWorker(calculator, exporter, cfg.ExportMonths)
	detector := analytics.NewDetector(agg, store, windows, analytics.DetectorConfig{
		BaselineFloor:    cfg.AnomalyBaselineFloor,
		ThresholdPercent: cfg.AnomalyThresholdPercent,
	})
	detectionLoop := worker.NewDetectionLoop(store, detector, amqpClient, cfg.AnomalyDetectionInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := detectionLoop.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Anomaly detection loop failed", "error", err)
		}
	}()

	go func() {
		err := amqpClient.ConsumeWithReconnect(ctx, func(msg *alert.AnomalyAlert) error {
			return alertWorker.HandleAlert(ctx, msg)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Alert consumption failed", "error", err)
		}
		cancel()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Give in-flight handlers a moment to finish.
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
