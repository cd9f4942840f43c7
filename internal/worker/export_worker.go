package worker

import (
	"context"
	"fmt"
	"log/slog"

	"budget/internal/amqp"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/sheets"

	"github.com/google/uuid"
)

// BalanceStore is the read side of the ledger the worker exports from.
type BalanceStore interface {
	GetBalance(ctx context.Context, key core.LedgerKey) (core.BalanceRecord, bool, error)
	ListBalances(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.BalanceRecord, error)
	ListLedgerUsers(ctx context.Context, from, to core.Date) ([]uuid.UUID, error)
}

// ExportWorker copies daily ledger records to a spreadsheet when their
// change events arrive.
type ExportWorker struct {
	store    BalanceStore
	exporter sheets.BalanceExporter
}

func NewExportWorker(store BalanceStore, exporter sheets.BalanceExporter) *ExportWorker {
	return &ExportWorker{
		store:    store,
		exporter: exporter,
	}
}

// HandleLedgerEvent exports the current record of the event's key. The
// event only names the key; the record is always read fresh so a late
// event never exports stale totals.
func (w *ExportWorker) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEvent) error {
	key, err := msg.Key()
	if err != nil {
		return fmt.Errorf("ledger event key: %w", err)
	}

	slog.DebugContext(ctx, "Processing ledger event",
		applog.FieldUserID, key.UserID.String(),
		applog.FieldLedgerDate, key.Date.String(),
		applog.FieldVersion, msg.Version)

	rec, ok, err := w.store.GetBalance(ctx, key)
	if err != nil {
		return fmt.Errorf("get balance %s: %w", key, err)
	}
	if !ok {
		slog.WarnContext(ctx, "Ledger event for unknown record, skipping",
			applog.FieldUserID, key.UserID.String(),
			applog.FieldLedgerDate, key.Date.String())
		return nil
	}
	if rec.Version < msg.Version {
		slog.WarnContext(ctx, "Stored record is older than its event",
			applog.FieldLedgerDate, key.Date.String(),
			applog.FieldVersion, rec.Version,
			"event_version", msg.Version)
	}

	return w.export(ctx, rec)
}

// ExportRange exports every stored record of userID between from and to.
// This is a backup mechanism in case ledger events were lost.
func (w *ExportWorker) ExportRange(ctx context.Context, userID uuid.UUID, from, to core.Date) (int, error) {
	records, err := w.store.ListBalances(ctx, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("list balances: %w", err)
	}
	if len(records) == 0 {
		slog.InfoContext(ctx, "No ledger records to export", applog.FieldUserID, userID.String())
		return 0, nil
	}

	successCount := 0
	errorCount := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return successCount, err
		}
		if err := w.export(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "Failed to export ledger record",
				applog.FieldLedgerDate, rec.Key.Date.String(),
				applog.FieldError, err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Ledger export completed",
		applog.FieldUserID, userID.String(),
		"total", len(records),
		"exported", successCount,
		"errors", errorCount)

	if errorCount > 0 {
		return successCount, fmt.Errorf("%d of %d ledger records failed to export", errorCount, len(records))
	}
	return successCount, nil
}

// Backfill re-exports every record between from and to for every user
// with ledger activity in that range. A failing user does not stop the
// others.
func (w *ExportWorker) Backfill(ctx context.Context, from, to core.Date) error {
	users, err := w.store.ListLedgerUsers(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list ledger users: %w", err)
	}
	if len(users) == 0 {
		slog.InfoContext(ctx, "No ledger activity to backfill",
			"from", from.String(),
			"to", to.String())
		return nil
	}

	var failed []uuid.UUID
	total := 0
	for _, user := range users {
		n, err := w.ExportRange(ctx, user, from, to)
		total += n
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			slog.ErrorContext(ctx, "Ledger backfill failed for user",
				applog.FieldUserID, user.String(),
				applog.FieldError, err)
			failed = append(failed, user)
		}
	}

	slog.InfoContext(ctx, "Ledger backfill completed",
		"users", len(users),
		"exported", total,
		"failed_users", len(failed))

	if len(failed) > 0 {
		return fmt.Errorf("backfill failed for %d of %d users", len(failed), len(users))
	}
	return nil
}

func (w *ExportWorker) export(ctx context.Context, rec core.BalanceRecord) error {
	if err := w.exporter.ExportBalance(ctx, rec); err != nil {
		return fmt.Errorf("export to sheets: %w", err)
	}

	slog.InfoContext(ctx, "Exported ledger record",
		applog.FieldUserID, rec.Key.UserID.String(),
		applog.FieldLedgerDate, rec.Key.Date.String(),
		applog.FieldClosing, core.FormatAmount(rec.ClosingBalance),
		applog.FieldVersion, rec.Version)
	return nil
}
