package services

import (
	"context"
	"errors"
	"fmt"

	"budget/internal/core"
	applog "budget/internal/log"

	"github.com/google/uuid"
)

// LedgerStore loads and persists balance records. It owns the storage
// transaction; the ledger owns the per-key serialization.
type LedgerStore interface {
	// UpdateBalances loads the records for keys, zero-initializing missing
	// ones, passes them to fn and persists them in one transaction with
	// their Version bumped. Nothing is written if fn fails. A record changed
	// underneath the call yields core.ErrConcurrencyViolation.
	UpdateBalances(ctx context.Context, keys []core.LedgerKey, fn func(map[core.LedgerKey]*core.BalanceRecord) error) error

	// GetBalance returns the stored record for key and whether it exists.
	GetBalance(ctx context.Context, key core.LedgerKey) (core.BalanceRecord, bool, error)
}

// commitAttempts bounds UpdateBalances calls for one ledger change.
const commitAttempts = 2

// BalanceLedger keeps one aggregate record per user and calendar day.
// Operations on the same key are serialized; different keys proceed in
// parallel.
type BalanceLedger struct {
	store  LedgerStore
	locks  *keyedMutex
	logger *applog.Logger
}

func NewBalanceLedger(store LedgerStore) *BalanceLedger {
	return &BalanceLedger{
		store:  store,
		locks:  newKeyedMutex(),
		logger: applog.ForComponent(applog.ComponentLedger),
	}
}

// Apply adds delta to the income or expenses of its day and returns the
// updated record. It is not idempotent: every logical transaction must be
// applied exactly once.
func (l *BalanceLedger) Apply(ctx context.Context, delta core.TransactionDelta) (core.BalanceRecord, error) {
	delta, err := prepareDelta(delta)
	if err != nil {
		return core.BalanceRecord{}, err
	}
	return l.commit(ctx, delta.Key(), delta)
}

// Reverse undoes a previously applied delta.
func (l *BalanceLedger) Reverse(ctx context.Context, delta core.TransactionDelta) (core.BalanceRecord, error) {
	return l.Apply(ctx, delta.Negate())
}

// Move reverses old and applies replacement as one critical section, even
// when the two deltas fall on different days. It returns the record of the
// replacement's day.
func (l *BalanceLedger) Move(ctx context.Context, old, replacement core.TransactionDelta) (core.BalanceRecord, error) {
	old, err := prepareDelta(old)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("old delta: %w", err)
	}
	replacement, err = prepareDelta(replacement)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("new delta: %w", err)
	}
	return l.commit(ctx, replacement.Key(), old.Negate(), replacement)
}

// Balance returns the record for a user's day. Days without any delta read
// as the zero record.
func (l *BalanceLedger) Balance(ctx context.Context, userID uuid.UUID, date core.Date) (core.BalanceRecord, error) {
	key := core.LedgerKey{UserID: userID, Date: core.DateOf(date.Time)}

	unlock := l.locks.Lock(key)
	defer unlock()

	rec, ok, err := l.store.GetBalance(ctx, key)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("get balance %s: %w", key, err)
	}
	if !ok {
		return core.NewBalanceRecord(key), nil
	}
	return rec, nil
}

func (l *BalanceLedger) commit(ctx context.Context, result core.LedgerKey, deltas ...core.TransactionDelta) (core.BalanceRecord, error) {
	keys := make([]core.LedgerKey, 0, len(deltas))
	for _, d := range deltas {
		keys = append(keys, d.Key())
	}
	keys = sortedKeys(keys)

	unlock := l.locks.LockAll(keys)
	defer unlock()

	apply := func(records map[core.LedgerKey]*core.BalanceRecord) error {
		for _, d := range deltas {
			rec, ok := records[d.Key()]
			if !ok {
				return fmt.Errorf("store returned no record for %s", d.Key())
			}
			addDelta(rec, d)
		}
		return nil
	}

	// Another process sharing the store can win the first insert of a key;
	// the store rolls back, so the deltas are re-applied to fresh state.
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		err = l.store.UpdateBalances(ctx, keys, apply)
		if err == nil || !errors.Is(err, core.ErrConcurrencyViolation) {
			break
		}
		l.logger.WarnContext(ctx, "Ledger key updated outside its lock",
			applog.FieldLedgerKeys, fmt.Sprint(keys),
			applog.FieldAttempt, attempt,
			applog.FieldError, err)
	}
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("update balances: %w", err)
	}

	out, ok, err := l.store.GetBalance(ctx, result)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("read back %s: %w", result, err)
	}
	if !ok {
		return core.BalanceRecord{}, fmt.Errorf("read back %s: %w", result, core.ErrNotFound)
	}

	l.logger.DebugContext(ctx, "Ledger updated",
		applog.FieldUserID, result.UserID.String(),
		applog.FieldLedgerDate, result.Date.String(),
		applog.FieldClosing, core.FormatAmount(out.ClosingBalance),
		applog.FieldVersion, out.Version)

	return out, nil
}

func addDelta(rec *core.BalanceRecord, d core.TransactionDelta) {
	switch d.Kind {
	case core.KindIncome:
		rec.Income = rec.Income.Add(d.Amount)
	case core.KindExpense:
		rec.Expenses = rec.Expenses.Add(d.Amount)
	}
	rec.Recompute()
}

// prepareDelta validates d and pins its date to UTC midnight so equal days
// always map to the same key.
func prepareDelta(d core.TransactionDelta) (core.TransactionDelta, error) {
	d.Date = core.DateOf(d.Date.Time)
	if err := d.Validate(); err != nil {
		return core.TransactionDelta{}, err
	}
	return d, nil
}
