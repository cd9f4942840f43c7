package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"budget/internal/core"
	"budget/internal/services"
	"budget/internal/storage/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogUpcomingPaydays(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ledger := services.NewBalanceLedger(store)
	paydays := services.NewPaydayService(store, store)
	today := core.DateOf(time.Now())

	paid, unpaid := uuid.New(), uuid.New()
	for _, user := range []uuid.UUID{paid, unpaid} {
		_, err := ledger.Apply(ctx, core.TransactionDelta{
			UserID: user,
			Date:   today,
			Amount: decimal.RequireFromString("5.00"),
			Kind:   core.KindExpense,
		})
		require.NoError(t, err)
	}

	schedule, err := core.NewScheduleDescriptor(core.Daily, nil, nil, today.AddDays(-10), nil)
	require.NoError(t, err)
	_, err = paydays.AddIncomeSource(ctx, core.IncomeSource{
		UserID:   paid,
		Name:     "Tips",
		Amount:   decimal.RequireFromString("20.00"),
		Schedule: schedule,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logUpcomingPaydays(ctx, logger, store, paydays, 7)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Payday coming up"))
	assert.Contains(t, out, paid.String())
	assert.Contains(t, out, "name=Tips")
	assert.Contains(t, out, "amount=20.00")
	assert.NotContains(t, out, unpaid.String())
}

func TestLogUpcomingPaydaysHonoursWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ledger := services.NewBalanceLedger(store)
	paydays := services.NewPaydayService(store, store)
	today := core.DateOf(time.Now())
	user := uuid.New()

	_, err := ledger.Apply(ctx, core.TransactionDelta{
		UserID: user,
		Date:   today,
		Amount: decimal.RequireFromString("5.00"),
		Kind:   core.KindIncome,
	})
	require.NoError(t, err)

	// Starts in 30 days, so the first payday is outside a 7 day window.
	schedule, err := core.NewScheduleDescriptor(core.Daily, nil, nil, today.AddDays(30), nil)
	require.NoError(t, err)
	_, err = paydays.AddIncomeSource(ctx, core.IncomeSource{
		UserID:   user,
		Name:     "Salary",
		Amount:   decimal.RequireFromString("2500.00"),
		Schedule: schedule,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logUpcomingPaydays(ctx, slog.New(slog.NewTextHandler(&buf, nil)), store, paydays, 7)

	assert.NotContains(t, buf.String(), "Payday coming up")
}
