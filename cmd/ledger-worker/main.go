package main

import (
	"context"
	"errors"
	"os"
	"time"

	"budget/internal/amqp"
	"budget/internal/backend"
	"budget/internal/cache"
	"budget/internal/cli"
	"budget/internal/core"
	applog "budget/internal/log"
	gsheet "budget/internal/sheets/google"
	"budget/internal/worker"
)

const rowCacheSweep = time.Minute

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting ledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.ValidateExport(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	// The worker only consumes events; it never publishes them.
	bcfg.AMQPURL = ""
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", bcfg.Type)
		os.Exit(1)
	}

	sheetsClient, err := gsheet.NewFromEnv(context.Background())
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}

	exportWorker := worker.NewExportWorker(res.Store, sheetsClient)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("Failed to close AMQP client", applog.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Failed to close backend", applog.FieldError, err)
		}
	})

	go cache.RunCleanup(ctx, rowCacheSweep, sheetsClient.RowCache())

	// Re-export recent days in case events were lost while the worker was down.
	if cfg.ExportBackfillDays > 0 {
		to := core.DateOf(time.Now())
		from := to.AddDays(-cfg.ExportBackfillDays)
		logger.Info("Performing startup ledger backfill", "from", from.String(), "to", to.String())
		if err := exportWorker.Backfill(ctx, from, to); err != nil {
			logger.Error("Startup ledger backfill failed", applog.FieldError, err)
		}
	}

	go func() {
		err := amqpClient.ConsumeLedgerEvents(ctx, exportWorker.HandleLedgerEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Ledger event consumption stopped", applog.FieldError, err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
