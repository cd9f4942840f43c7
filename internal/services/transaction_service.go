package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"budget/internal/core"
	applog "budget/internal/log"

	"github.com/google/uuid"
)

type ExpenseRepository interface {
	CreateExpense(ctx context.Context, e core.Expense) error
	GetExpense(ctx context.Context, userID, id uuid.UUID) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, userID, id uuid.UUID) error
	ListExpenses(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.Expense, error)
}

type IncomeRepository interface {
	CreateIncome(ctx context.Context, i core.Income) error
	GetIncome(ctx context.Context, userID, id uuid.UUID) (core.Income, error)
	UpdateIncome(ctx context.Context, i core.Income) error
	DeleteIncome(ctx context.Context, userID, id uuid.UUID) error
}

type BalanceLister interface {
	ListBalances(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.BalanceRecord, error)
}

// TransactionRepository is everything TransactionService persists through.
type TransactionRepository interface {
	ExpenseRepository
	IncomeRepository
	BalanceLister
}

// LedgerPublisher announces that a ledger record changed.
type LedgerPublisher interface {
	PublishLedgerEvent(ctx context.Context, key core.LedgerKey, version int64) error
}

var ErrInvalidRange = errors.New("range start is after range end")

// TransactionService keeps stored expenses and incomes and the daily ledger
// in step. Every mutation persists the record first, then updates the
// ledger, then announces the change. Mutations of one record are
// serialized from the read of its previous state to the ledger update.
type TransactionService struct {
	repo      TransactionRepository
	ledger    *BalanceLedger
	publisher LedgerPublisher
	records   *keyedMutex
}

// NewTransactionService wires the service. publisher may be nil, in which
// case no events are sent.
func NewTransactionService(repo TransactionRepository, ledger *BalanceLedger, publisher LedgerPublisher) *TransactionService {
	return &TransactionService{
		repo:      repo,
		ledger:    ledger,
		publisher: publisher,
		records:   newKeyedMutex(),
	}
}

func (s *TransactionService) lockRecord(kind core.TransactionKind, id uuid.UUID) func() {
	return s.records.lockName(string(kind) + "/" + id.String())
}

// CreateExpense stores e and books it on its day.
func (s *TransactionService) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, core.BalanceRecord, error) {
	e, err := prepareExpense(e)
	if err != nil {
		return core.Expense{}, core.BalanceRecord{}, err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	if err := s.repo.CreateExpense(ctx, e); err != nil {
		return core.Expense{}, core.BalanceRecord{}, fmt.Errorf("save expense: %w", err)
	}

	rec, err := s.ledger.Apply(ctx, e.Delta())
	if err != nil {
		if derr := s.repo.DeleteExpense(ctx, e.UserID, e.ID); derr != nil {
			slog.ErrorContext(ctx, "Failed to undo expense after ledger error",
				applog.FieldRecordID, e.ID.String(), applog.FieldError, derr)
		}
		return core.Expense{}, core.BalanceRecord{}, fmt.Errorf("book expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense created",
		applog.FieldRecordID, e.ID.String(),
		applog.FieldUserID, e.UserID.String(),
		applog.FieldAmount, core.FormatAmount(e.Amount),
		applog.FieldLedgerDate, e.Date.String())

	s.publish(ctx, rec)
	return e, rec, nil
}

// UpdateExpense replaces a stored expense. The ledger only moves when the
// amount or the day changed.
func (s *TransactionService) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, core.BalanceRecord, error) {
	e, err := prepareExpense(e)
	if err != nil {
		return core.Expense{}, core.BalanceRecord{}, err
	}

	unlock := s.lockRecord(core.KindExpense, e.ID)
	defer unlock()

	old, err := s.repo.GetExpense(ctx, e.UserID, e.ID)
	if err != nil {
		return core.Expense{}, core.BalanceRecord{}, fmt.Errorf("load expense: %w", err)
	}
	if err := s.repo.UpdateExpense(ctx, e); err != nil {
		return core.Expense{}, core.BalanceRecord{}, fmt.Errorf("save expense: %w", err)
	}

	rec, err := s.rebook(ctx, old.Delta(), e.Delta())
	if err != nil {
		if rerr := s.repo.UpdateExpense(ctx, old); rerr != nil {
			slog.ErrorContext(ctx, "Failed to restore expense after ledger error",
				applog.FieldRecordID, e.ID.String(), applog.FieldError, rerr)
		}
		return core.Expense{}, core.BalanceRecord{}, fmt.Errorf("rebook expense: %w", err)
	}
	return e, rec, nil
}

// DeleteExpense removes an expense and takes it off its day.
func (s *TransactionService) DeleteExpense(ctx context.Context, userID, id uuid.UUID) (core.BalanceRecord, error) {
	unlock := s.lockRecord(core.KindExpense, id)
	defer unlock()

	old, err := s.repo.GetExpense(ctx, userID, id)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("load expense: %w", err)
	}
	if err := s.repo.DeleteExpense(ctx, userID, id); err != nil {
		return core.BalanceRecord{}, fmt.Errorf("delete expense: %w", err)
	}

	rec, err := s.ledger.Reverse(ctx, old.Delta())
	if err != nil {
		if cerr := s.repo.CreateExpense(ctx, old); cerr != nil {
			slog.ErrorContext(ctx, "Failed to restore expense after ledger error",
				applog.FieldRecordID, id.String(), applog.FieldError, cerr)
		}
		return core.BalanceRecord{}, fmt.Errorf("reverse expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense deleted",
		applog.FieldRecordID, id.String(),
		applog.FieldUserID, userID.String())

	s.publish(ctx, rec)
	return rec, nil
}

func (s *TransactionService) ListExpenses(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.Expense, error) {
	if from.After(to.Time) {
		return nil, ErrInvalidRange
	}
	return s.repo.ListExpenses(ctx, userID, from, to)
}

// CreateIncome stores i and books it on its day.
func (s *TransactionService) CreateIncome(ctx context.Context, i core.Income) (core.Income, core.BalanceRecord, error) {
	i, err := prepareIncome(i)
	if err != nil {
		return core.Income{}, core.BalanceRecord{}, err
	}
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}

	if err := s.repo.CreateIncome(ctx, i); err != nil {
		return core.Income{}, core.BalanceRecord{}, fmt.Errorf("save income: %w", err)
	}

	rec, err := s.ledger.Apply(ctx, i.Delta())
	if err != nil {
		if derr := s.repo.DeleteIncome(ctx, i.UserID, i.ID); derr != nil {
			slog.ErrorContext(ctx, "Failed to undo income after ledger error",
				applog.FieldRecordID, i.ID.String(), applog.FieldError, derr)
		}
		return core.Income{}, core.BalanceRecord{}, fmt.Errorf("book income: %w", err)
	}

	slog.InfoContext(ctx, "Income created",
		applog.FieldRecordID, i.ID.String(),
		applog.FieldUserID, i.UserID.String(),
		applog.FieldAmount, core.FormatAmount(i.Amount),
		applog.FieldLedgerDate, i.Date.String())

	s.publish(ctx, rec)
	return i, rec, nil
}

func (s *TransactionService) UpdateIncome(ctx context.Context, i core.Income) (core.Income, core.BalanceRecord, error) {
	i, err := prepareIncome(i)
	if err != nil {
		return core.Income{}, core.BalanceRecord{}, err
	}

	unlock := s.lockRecord(core.KindIncome, i.ID)
	defer unlock()

	old, err := s.repo.GetIncome(ctx, i.UserID, i.ID)
	if err != nil {
		return core.Income{}, core.BalanceRecord{}, fmt.Errorf("load income: %w", err)
	}
	if err := s.repo.UpdateIncome(ctx, i); err != nil {
		return core.Income{}, core.BalanceRecord{}, fmt.Errorf("save income: %w", err)
	}

	rec, err := s.rebook(ctx, old.Delta(), i.Delta())
	if err != nil {
		if rerr := s.repo.UpdateIncome(ctx, old); rerr != nil {
			slog.ErrorContext(ctx, "Failed to restore income after ledger error",
				applog.FieldRecordID, i.ID.String(), applog.FieldError, rerr)
		}
		return core.Income{}, core.BalanceRecord{}, fmt.Errorf("rebook income: %w", err)
	}
	return i, rec, nil
}

func (s *TransactionService) DeleteIncome(ctx context.Context, userID, id uuid.UUID) (core.BalanceRecord, error) {
	unlock := s.lockRecord(core.KindIncome, id)
	defer unlock()

	old, err := s.repo.GetIncome(ctx, userID, id)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("load income: %w", err)
	}
	if err := s.repo.DeleteIncome(ctx, userID, id); err != nil {
		return core.BalanceRecord{}, fmt.Errorf("delete income: %w", err)
	}

	rec, err := s.ledger.Reverse(ctx, old.Delta())
	if err != nil {
		if cerr := s.repo.CreateIncome(ctx, old); cerr != nil {
			slog.ErrorContext(ctx, "Failed to restore income after ledger error",
				applog.FieldRecordID, id.String(), applog.FieldError, cerr)
		}
		return core.BalanceRecord{}, fmt.Errorf("reverse income: %w", err)
	}

	slog.InfoContext(ctx, "Income deleted",
		applog.FieldRecordID, id.String(),
		applog.FieldUserID, userID.String())

	s.publish(ctx, rec)
	return rec, nil
}

// DailyBalance returns the ledger record of one day.
func (s *TransactionService) DailyBalance(ctx context.Context, userID uuid.UUID, date core.Date) (core.BalanceRecord, error) {
	return s.ledger.Balance(ctx, userID, date)
}

// BalanceRange returns the stored records between from and to, oldest
// first. Days without activity are absent.
func (s *TransactionService) BalanceRange(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.BalanceRecord, error) {
	if from.After(to.Time) {
		return nil, ErrInvalidRange
	}
	recs, err := s.repo.ListBalances(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return recs, nil
}

func (s *TransactionService) rebook(ctx context.Context, old, replacement core.TransactionDelta) (core.BalanceRecord, error) {
	if old.Amount.Equal(replacement.Amount) && old.Date.Equal(replacement.Date.Time) {
		return s.ledger.Balance(ctx, replacement.UserID, replacement.Date)
	}

	rec, err := s.ledger.Move(ctx, old, replacement)
	if err != nil {
		return core.BalanceRecord{}, err
	}

	s.publish(ctx, rec)
	if !old.Date.Equal(replacement.Date.Time) {
		if prev, err := s.ledger.Balance(ctx, old.UserID, old.Date); err == nil {
			s.publish(ctx, prev)
		}
	}
	return rec, nil
}

func (s *TransactionService) publish(ctx context.Context, rec core.BalanceRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, rec.Key, rec.Version); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			applog.FieldUserID, rec.Key.UserID.String(),
			applog.FieldLedgerDate, rec.Key.Date.String(),
			applog.FieldError, err)
	}
}

func prepareExpense(e core.Expense) (core.Expense, error) {
	e.Date = core.DateOf(e.Date.Time)
	e.Category = strings.TrimSpace(e.Category)
	if strings.TrimSpace(e.PaymentMethod) == "" {
		e.PaymentMethod = core.DefaultPaymentMethod
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	e.Amount, _ = core.NormalizeAmount(e.Amount)
	return e, nil
}

func prepareIncome(i core.Income) (core.Income, error) {
	i.Date = core.DateOf(i.Date.Time)
	if err := i.Validate(); err != nil {
		return core.Income{}, err
	}
	i.Amount, _ = core.NormalizeAmount(i.Amount)
	return i, nil
}
