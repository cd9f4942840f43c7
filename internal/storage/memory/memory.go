// Package memory keeps every record in process memory. It backs tests and
// the "memory" data backend.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"budget/internal/core"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	balances map[core.LedgerKey]core.BalanceRecord
	// busy marks keys whose update callback is running.
	busy      map[core.LedgerKey]struct{}
	expenses  map[uuid.UUID]core.Expense
	incomes   map[uuid.UUID]core.Income
	sources   map[uuid.UUID]core.IncomeSource
	recurring map[uuid.UUID]core.RecurringExpense
}

func New() *Store {
	return &Store{
		balances:  make(map[core.LedgerKey]core.BalanceRecord),
		busy:      make(map[core.LedgerKey]struct{}),
		expenses:  make(map[uuid.UUID]core.Expense),
		incomes:   make(map[uuid.UUID]core.Income),
		sources:   make(map[uuid.UUID]core.IncomeSource),
		recurring: make(map[uuid.UUID]core.RecurringExpense),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// UpdateBalances runs fn over copies of the records for keys and stores the
// results with their versions bumped. Two calls overlapping on one key fail
// with core.ErrConcurrencyViolation, since callers are expected to serialize
// them.
func (s *Store) UpdateBalances(ctx context.Context, keys []core.LedgerKey, fn func(map[core.LedgerKey]*core.BalanceRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	for _, k := range keys {
		if _, ok := s.busy[k]; ok {
			s.mu.Unlock()
			return fmt.Errorf("key %s: %w", k, core.ErrConcurrencyViolation)
		}
	}
	records := make(map[core.LedgerKey]*core.BalanceRecord, len(keys))
	loaded := make(map[core.LedgerKey]int64, len(keys))
	for _, k := range keys {
		s.busy[k] = struct{}{}
		rec, ok := s.balances[k]
		if !ok {
			rec = core.NewBalanceRecord(k)
		}
		loaded[k] = rec.Version
		records[k] = &rec
	}
	s.mu.Unlock()

	fnErr := fn(records)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.busy, k)
	}
	if fnErr != nil {
		return fnErr
	}
	for k, v := range loaded {
		if s.balances[k].Version != v {
			return fmt.Errorf("key %s: %w", k, core.ErrConcurrencyViolation)
		}
	}
	for k, rec := range records {
		rec.Version = loaded[k] + 1
		s.balances[k] = *rec
	}
	return nil
}

func (s *Store) GetBalance(_ context.Context, key core.LedgerKey) (core.BalanceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.balances[key]
	return rec, ok, nil
}

// ListBalances returns the stored records of a user between from and to
// inclusive, oldest first.
func (s *Store) ListBalances(_ context.Context, userID uuid.UUID, from, to core.Date) ([]core.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.BalanceRecord
	for k, rec := range s.balances {
		if k.UserID != userID || k.Date.Before(from.Time) || k.Date.After(to.Time) {
			continue
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b core.BalanceRecord) int {
		return a.Key.Date.Compare(b.Key.Date.Time)
	})
	return out, nil
}

// ListLedgerUsers returns the users with at least one record between from
// and to inclusive.
func (s *Store) ListLedgerUsers(_ context.Context, from, to core.Date) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for k := range s.balances {
		if k.Date.Before(from.Time) || k.Date.After(to.Time) {
			continue
		}
		if _, ok := seen[k.UserID]; ok {
			continue
		}
		seen[k.UserID] = struct{}{}
		out = append(out, k.UserID)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return cmp.Compare(a.String(), b.String()) })
	return out, nil
}

func (s *Store) CreateExpense(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expenses[e.ID]; ok {
		return fmt.Errorf("expense %s already exists", e.ID)
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) GetExpense(_ context.Context, userID, id uuid.UUID) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	return e, nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.expenses[e.ID]
	if !ok || old.UserID != e.UserID {
		return fmt.Errorf("expense %s: %w", e.ID, core.ErrNotFound)
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) DeleteExpense(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	delete(s.expenses, id)
	return nil
}

// ListExpenses returns a user's expenses between from and to inclusive,
// newest first.
func (s *Store) ListExpenses(_ context.Context, userID uuid.UUID, from, to core.Date) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.expenses {
		if e.UserID != userID || e.Date.Before(from.Time) || e.Date.After(to.Time) {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b core.Expense) int {
		return b.Date.Compare(a.Date.Time)
	})
	return out, nil
}

func (s *Store) CreateIncome(_ context.Context, i core.Income) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incomes[i.ID]; ok {
		return fmt.Errorf("income %s already exists", i.ID)
	}
	s.incomes[i.ID] = i
	return nil
}

func (s *Store) GetIncome(_ context.Context, userID, id uuid.UUID) (core.Income, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.incomes[id]
	if !ok || i.UserID != userID {
		return core.Income{}, fmt.Errorf("income %s: %w", id, core.ErrNotFound)
	}
	return i, nil
}

func (s *Store) UpdateIncome(_ context.Context, i core.Income) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.incomes[i.ID]
	if !ok || old.UserID != i.UserID {
		return fmt.Errorf("income %s: %w", i.ID, core.ErrNotFound)
	}
	s.incomes[i.ID] = i
	return nil
}

func (s *Store) DeleteIncome(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.incomes[id]
	if !ok || i.UserID != userID {
		return fmt.Errorf("income %s: %w", id, core.ErrNotFound)
	}
	delete(s.incomes, id)
	return nil
}

func (s *Store) CreateIncomeSource(_ context.Context, src core.IncomeSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[src.ID]; ok {
		return fmt.Errorf("income source %s already exists", src.ID)
	}
	s.sources[src.ID] = src
	return nil
}

func (s *Store) GetIncomeSource(_ context.Context, userID, id uuid.UUID) (core.IncomeSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok || src.UserID != userID {
		return core.IncomeSource{}, fmt.Errorf("income source %s: %w", id, core.ErrNotFound)
	}
	return src, nil
}

// DeactivateIncomeSource soft deletes a source.
func (s *Store) DeactivateIncomeSource(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok || src.UserID != userID {
		return fmt.Errorf("income source %s: %w", id, core.ErrNotFound)
	}
	src.IsActive = false
	s.sources[id] = src
	return nil
}

func (s *Store) ListActiveIncomeSources(_ context.Context, userID uuid.UUID) ([]core.IncomeSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.IncomeSource
	for _, src := range s.sources {
		if src.UserID == userID && src.IsActive {
			out = append(out, src)
		}
	}
	slices.SortFunc(out, func(a, b core.IncomeSource) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) CreateRecurringExpense(_ context.Context, re core.RecurringExpense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recurring[re.ID]; ok {
		return fmt.Errorf("recurring expense %s already exists", re.ID)
	}
	s.recurring[re.ID] = re
	return nil
}

func (s *Store) GetRecurringExpense(_ context.Context, userID, id uuid.UUID) (core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	re, ok := s.recurring[id]
	if !ok || re.UserID != userID {
		return core.RecurringExpense{}, fmt.Errorf("recurring expense %s: %w", id, core.ErrNotFound)
	}
	return re, nil
}

func (s *Store) UpdateRecurringExpense(_ context.Context, re core.RecurringExpense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.recurring[re.ID]
	if !ok || old.UserID != re.UserID {
		return fmt.Errorf("recurring expense %s: %w", re.ID, core.ErrNotFound)
	}
	s.recurring[re.ID] = re
	return nil
}

func (s *Store) ListActiveRecurringExpenses(_ context.Context, userID uuid.UUID) ([]core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringExpense
	for _, re := range s.recurring {
		if re.UserID == userID && re.IsActive {
			out = append(out, re)
		}
	}
	slices.SortFunc(out, func(a, b core.RecurringExpense) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// ListDueRecurringExpenses returns the active templates of every user whose
// next occurrence is on or before asOf, earliest first.
func (s *Store) ListDueRecurringExpenses(_ context.Context, asOf core.Date) ([]core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringExpense
	for _, re := range s.recurring {
		if re.IsActive && !re.NextOccurrence.After(asOf.Time) {
			out = append(out, re)
		}
	}
	slices.SortFunc(out, func(a, b core.RecurringExpense) int {
		if c := a.NextOccurrence.Compare(b.NextOccurrence.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}
