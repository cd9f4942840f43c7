package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"budget/internal/backend"
	"budget/internal/cli"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/services"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// paydayLookbackDays selects the users whose paydays are logged: anyone
// with ledger activity in this many days.
const paydayLookbackDays = 62

type ledgerUsers interface {
	ListLedgerUsers(ctx context.Context, from, to core.Date) ([]uuid.UUID, error)
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", bcfg.Type)
		os.Exit(1)
	}

	ledger := services.NewBalanceLedger(res.Store)
	transactions := services.NewTransactionService(res.Store, ledger, res.Publisher)
	processor := services.NewRecurringProcessor(res.Store, transactions, cfg.RecurringMaxCatchUp)
	paydays := services.NewPaydayService(res.Store, res.Store)

	scheduler := cron.New()

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(shutdownCtx context.Context) {
		logger.Info("Waiting for running job to finish")
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Failed to close backend", applog.FieldError, err)
		}
	})

	run := func() {
		runOnce(ctx, logger, processor, cfg.ReminderWindowDays)
		logUpcomingPaydays(ctx, logger, res.Store, paydays, cfg.ReminderWindowDays)
	}

	if _, err := scheduler.AddFunc(cfg.RecurringSchedule, run); err != nil {
		logger.Error("Invalid recurring schedule", applog.FieldError, err, "schedule", cfg.RecurringSchedule)
		os.Exit(1)
	}

	logger.Info("Recurring expense processor configured",
		"schedule", cfg.RecurringSchedule,
		"backend", bcfg.Type,
		"max_catch_up", cfg.RecurringMaxCatchUp,
		"amqp_enabled", res.Publisher != nil)

	logger.Info("Running initial recurring expense processing")
	run()

	scheduler.Start()
	cli.WaitForShutdown(ctx, done)
}

// runOnce books due occurrences and logs the reminders falling inside the
// reminder window.
func runOnce(ctx context.Context, logger *slog.Logger, processor *services.RecurringProcessor, windowDays int) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()

	result, err := processor.ProcessDue(ctx, start)
	if err != nil {
		logger.Error("Recurring processing failed", applog.FieldError, err)
		return
	}
	logger.Info("Recurring processing complete",
		"booked", result.Booked,
		"skipped", result.Skipped,
		"deactivated", result.Deactivated,
		"failed", result.Failed,
		applog.FieldDuration, time.Since(start).Milliseconds())

	reminders, err := processor.DueReminders(ctx, start)
	if err != nil {
		logger.Error("Failed to list reminders", applog.FieldError, err)
		return
	}
	for _, r := range reminders {
		if r.DaysUntil > windowDays {
			continue
		}
		logger.Info("Recurring expense due soon",
			applog.FieldRecurringID, r.Expense.ID.String(),
			applog.FieldUserID, r.Expense.UserID.String(),
			"name", r.Expense.Name,
			applog.FieldAmount, r.Expense.Amount.StringFixed(2),
			"days_until", r.DaysUntil)
	}
}

// logUpcomingPaydays logs the next payday of every recently active user
// when it falls inside the reminder window.
func logUpcomingPaydays(ctx context.Context, logger *slog.Logger, users ledgerUsers, paydays *services.PaydayService, windowDays int) {
	if ctx.Err() != nil {
		return
	}
	now := time.Now()
	today := core.DateOf(now)

	active, err := users.ListLedgerUsers(ctx, today.AddDays(-paydayLookbackDays), today)
	if err != nil {
		logger.Error("Failed to list active users", applog.FieldError, err)
		return
	}

	for _, user := range active {
		overview, err := paydays.NextPayday(ctx, user, now)
		if err != nil {
			logger.Error("Failed to predict payday",
				applog.FieldUserID, user.String(),
				applog.FieldError, err)
			continue
		}
		if overview.Next == nil || overview.Next.DaysUntil > windowDays {
			continue
		}
		logger.Info("Payday coming up",
			applog.FieldUserID, user.String(),
			applog.FieldSourceID, overview.Next.SourceID.String(),
			"name", overview.Next.Name,
			applog.FieldAmount, overview.Next.Amount.StringFixed(2),
			"next_date", overview.Next.NextDate.String(),
			"days_until", overview.Next.DaysUntil)
	}
}
