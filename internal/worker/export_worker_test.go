package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"budget/internal/amqp"
	"budget/internal/core"
	"budget/internal/services"
	"budget/internal/storage/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExporter struct {
	mu       sync.Mutex
	exported []core.BalanceRecord
	failOn   map[core.Date]error
}

func (e *recordingExporter) ExportBalance(_ context.Context, rec core.BalanceRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failOn[rec.Key.Date]; err != nil {
		return err
	}
	e.exported = append(e.exported, rec)
	return nil
}

func seed(t *testing.T, store *memory.Store, user uuid.UUID, date core.Date, kind core.TransactionKind, amount string) core.BalanceRecord {
	t.Helper()
	ledger := services.NewBalanceLedger(store)
	rec, err := ledger.Apply(context.Background(), core.TransactionDelta{
		UserID: user,
		Date:   date,
		Amount: decimal.RequireFromString(amount),
		Kind:   kind,
	})
	require.NoError(t, err)
	return rec
}

func TestHandleLedgerEvent_ExportsCurrentRecord(t *testing.T) {
	store := memory.New()
	exporter := &recordingExporter{}
	w := NewExportWorker(store, exporter)
	user := uuid.New()
	day := core.NewDate(2024, time.March, 1)

	first := seed(t, store, user, day, core.KindExpense, "50.00")
	seed(t, store, user, day, core.KindIncome, "20.00")

	// The event for version 1 arrives after version 2 was written.
	err := w.HandleLedgerEvent(context.Background(), amqp.NewLedgerEvent(first.Key, first.Version))
	require.NoError(t, err)

	require.Len(t, exporter.exported, 1)
	got := exporter.exported[0]
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "-30.00", core.FormatAmount(got.ClosingBalance))
}

func TestHandleLedgerEvent_UnknownRecordIsSkipped(t *testing.T) {
	exporter := &recordingExporter{}
	w := NewExportWorker(memory.New(), exporter)

	key := core.LedgerKey{UserID: uuid.New(), Date: core.NewDate(2024, time.March, 1)}
	err := w.HandleLedgerEvent(context.Background(), amqp.NewLedgerEvent(key, 1))

	require.NoError(t, err)
	assert.Empty(t, exporter.exported)
}

func TestHandleLedgerEvent_InvalidKey(t *testing.T) {
	w := NewExportWorker(memory.New(), &recordingExporter{})

	err := w.HandleLedgerEvent(context.Background(), &amqp.LedgerEvent{UserID: uuid.New(), Date: "01/03/2024"})
	assert.Error(t, err)

	err = w.HandleLedgerEvent(context.Background(), &amqp.LedgerEvent{Date: "2024-03-01"})
	assert.ErrorIs(t, err, core.ErrMissingUser)
}

func TestHandleLedgerEvent_ExportFailureIsReturned(t *testing.T) {
	store := memory.New()
	day := core.NewDate(2024, time.March, 1)
	exporter := &recordingExporter{failOn: map[core.Date]error{day: errors.New("quota exceeded")}}
	w := NewExportWorker(store, exporter)

	rec := seed(t, store, uuid.New(), day, core.KindExpense, "5.00")
	err := w.HandleLedgerEvent(context.Background(), amqp.NewLedgerEvent(rec.Key, rec.Version))

	assert.ErrorContains(t, err, "quota exceeded")
}

func TestExportRange(t *testing.T) {
	store := memory.New()
	user := uuid.New()
	other := uuid.New()
	d1 := core.NewDate(2024, time.March, 1)
	d2 := core.NewDate(2024, time.March, 2)
	d3 := core.NewDate(2024, time.March, 10)

	seed(t, store, user, d1, core.KindExpense, "10.00")
	seed(t, store, user, d2, core.KindIncome, "15.00")
	seed(t, store, user, d3, core.KindExpense, "1.00")
	seed(t, store, other, d2, core.KindExpense, "99.00")

	t.Run("exports records in range", func(t *testing.T) {
		exporter := &recordingExporter{}
		n, err := NewExportWorker(store, exporter).ExportRange(context.Background(), user, d1, core.NewDate(2024, time.March, 5))

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.Len(t, exporter.exported, 2)
		assert.Equal(t, d1, exporter.exported[0].Key.Date)
		assert.Equal(t, d2, exporter.exported[1].Key.Date)
	})

	t.Run("continues past failures", func(t *testing.T) {
		exporter := &recordingExporter{failOn: map[core.Date]error{d2: errors.New("boom")}}
		n, err := NewExportWorker(store, exporter).ExportRange(context.Background(), user, d1, d3)

		assert.ErrorContains(t, err, "1 of 3 ledger records failed to export")
		assert.Equal(t, 2, n)
		assert.Len(t, exporter.exported, 2)
	})

	t.Run("empty range", func(t *testing.T) {
		n, err := NewExportWorker(store, &recordingExporter{}).ExportRange(context.Background(), uuid.New(), d1, d3)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestBackfill(t *testing.T) {
	store := memory.New()
	alice, bob, dormant := uuid.New(), uuid.New(), uuid.New()
	d1 := core.NewDate(2024, time.March, 1)
	d2 := core.NewDate(2024, time.March, 2)
	old := core.NewDate(2024, time.January, 15)

	seed(t, store, alice, d1, core.KindExpense, "10.00")
	seed(t, store, alice, d2, core.KindIncome, "15.00")
	seed(t, store, bob, d2, core.KindExpense, "4.00")
	seed(t, store, dormant, old, core.KindExpense, "1.00")

	t.Run("exports every active user", func(t *testing.T) {
		exporter := &recordingExporter{}
		err := NewExportWorker(store, exporter).Backfill(context.Background(), d1, d2)

		require.NoError(t, err)
		require.Len(t, exporter.exported, 3)
		for _, rec := range exporter.exported {
			assert.NotEqual(t, dormant, rec.Key.UserID)
		}
	})

	t.Run("reports failing users and keeps going", func(t *testing.T) {
		exporter := &recordingExporter{failOn: map[core.Date]error{d1: errors.New("quota exceeded")}}
		err := NewExportWorker(store, exporter).Backfill(context.Background(), d1, d2)

		assert.ErrorContains(t, err, "backfill failed for 1 of 2 users")
		assert.Len(t, exporter.exported, 2)
	})

	t.Run("no activity", func(t *testing.T) {
		exporter := &recordingExporter{}
		err := NewExportWorker(store, exporter).Backfill(context.Background(), core.NewDate(2025, time.May, 1), core.NewDate(2025, time.May, 7))

		require.NoError(t, err)
		assert.Empty(t, exporter.exported)
	})
}
