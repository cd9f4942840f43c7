package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"budget/internal/core"
	applog "budget/internal/log"

	"github.com/google/uuid"
)

// DefaultMaxCatchUp bounds how many missed occurrences of one template a
// single run books.
const DefaultMaxCatchUp = 12

// maxReminderDays mirrors the upper bound RecurringExpense.Validate accepts.
const maxReminderDays = 60

// ProcessResult summarizes one ProcessDue run.
type ProcessResult struct {
	Booked      int
	Skipped     int
	Deactivated int
	Failed      int
}

// Reminder is a template falling due within its reminder window.
type Reminder struct {
	Expense   core.RecurringExpense
	DaysUntil int
}

// RecurringProcessor books recurring expenses on the days they fall due and
// keeps each template's next occurrence current.
type RecurringProcessor struct {
	repo         RecurringExpenseRepository
	transactions *TransactionService
	maxCatchUp   int
	logger       *applog.Logger
}

func NewRecurringProcessor(repo RecurringExpenseRepository, transactions *TransactionService, maxCatchUp int) *RecurringProcessor {
	if maxCatchUp <= 0 {
		maxCatchUp = DefaultMaxCatchUp
	}
	return &RecurringProcessor{
		repo:         repo,
		transactions: transactions,
		maxCatchUp:   maxCatchUp,
		logger:       applog.ForComponent(applog.ComponentRecurring),
	}
}

// AddRecurringExpense validates and stores a template. Its first occurrence
// is the schedule's start date.
func (p *RecurringProcessor) AddRecurringExpense(ctx context.Context, re core.RecurringExpense) (core.RecurringExpense, error) {
	re.Name = strings.TrimSpace(re.Name)
	re.Category = strings.TrimSpace(re.Category)
	re.Schedule.StartDate = core.DateOf(re.Schedule.StartDate.Time)
	if err := re.Validate(); err != nil {
		return core.RecurringExpense{}, err
	}
	re.Amount, _ = core.NormalizeAmount(re.Amount)
	if re.ID == uuid.Nil {
		re.ID = uuid.New()
	}
	re.NextOccurrence = re.Schedule.StartDate
	re.IsActive = true

	if err := p.repo.CreateRecurringExpense(ctx, re); err != nil {
		return core.RecurringExpense{}, fmt.Errorf("save recurring expense: %w", err)
	}

	p.logger.InfoContext(ctx, "Recurring expense added",
		applog.FieldRecurringID, re.ID.String(),
		applog.FieldUserID, re.UserID.String(),
		applog.FieldFrequency, string(re.Schedule.Frequency),
		applog.FieldLedgerDate, re.NextOccurrence.String())
	return re, nil
}

// ProcessDue books every occurrence that fell due on or before the day of
// now. Templates without auto-deduct only advance. A template whose
// schedule has ended is deactivated. Failures on one template do not stop
// the others.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (ProcessResult, error) {
	today := core.DateOf(now)

	due, err := p.repo.ListDueRecurringExpenses(ctx, today)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("list due recurring expenses: %w", err)
	}

	p.logger.InfoContext(ctx, "Processing recurring expenses",
		applog.FieldCount, len(due),
		applog.FieldLedgerDate, today.String())

	var res ProcessResult
	for _, re := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p.processTemplate(ctx, re, today, &res)
	}

	p.logger.InfoContext(ctx, "Recurring expense processing complete",
		"booked", res.Booked,
		"skipped", res.Skipped,
		"deactivated", res.Deactivated,
		"failed", res.Failed)
	return res, nil
}

func (p *RecurringProcessor) processTemplate(ctx context.Context, re core.RecurringExpense, today core.Date, res *ProcessResult) {
	for n := 0; n < p.maxCatchUp && !re.NextOccurrence.After(today.Time); n++ {
		if re.Schedule.Ended(re.NextOccurrence) {
			break
		}

		if re.AutoDeduct {
			if err := p.book(ctx, re); err != nil {
				p.logger.ErrorContext(ctx, "Failed to book recurring expense",
					applog.FieldRecurringID, re.ID.String(),
					applog.FieldLedgerDate, re.NextOccurrence.String(),
					applog.FieldError, err)
				res.Failed++
				return
			}
			res.Booked++
		} else {
			res.Skipped++
		}

		next, err := NextOccurrence(re.Schedule, re.NextOccurrence.Time)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to advance recurring expense",
				applog.FieldRecurringID, re.ID.String(),
				applog.FieldError, err)
			res.Failed++
			return
		}
		re.NextOccurrence = next
		if err := p.save(ctx, &re, res); err != nil {
			return
		}
	}

	if re.IsActive && re.Schedule.Ended(re.NextOccurrence) {
		re.IsActive = false
		if err := p.save(ctx, &re, res); err == nil {
			res.Deactivated++
			p.logger.InfoContext(ctx, "Recurring expense ended",
				applog.FieldRecurringID, re.ID.String())
		}
	}
}

func (p *RecurringProcessor) save(ctx context.Context, re *core.RecurringExpense, res *ProcessResult) error {
	if err := p.repo.UpdateRecurringExpense(ctx, *re); err != nil {
		p.logger.ErrorContext(ctx, "Failed to save recurring expense",
			applog.FieldRecurringID, re.ID.String(),
			applog.FieldError, err)
		res.Failed++
		return err
	}
	return nil
}

// book creates the expense of re's current occurrence. The expense id is
// derived from the template and the day, so an occurrence booked by an
// interrupted run is not booked again.
func (p *RecurringProcessor) book(ctx context.Context, re core.RecurringExpense) error {
	id := occurrenceID(re.ID, re.NextOccurrence)

	_, err := p.transactions.repo.GetExpense(ctx, re.UserID, id)
	if err == nil {
		p.logger.WarnContext(ctx, "Occurrence already booked",
			applog.FieldRecurringID, re.ID.String(),
			applog.FieldLedgerDate, re.NextOccurrence.String())
		return nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check occurrence: %w", err)
	}

	recurringID := re.ID
	_, _, err = p.transactions.CreateExpense(ctx, core.Expense{
		ID:          id,
		UserID:      re.UserID,
		Amount:      re.Amount,
		Category:    re.Category,
		Date:        re.NextOccurrence,
		Notes:       re.Name,
		RecurringID: &recurringID,
	})
	return err
}

func occurrenceID(templateID uuid.UUID, day core.Date) uuid.UUID {
	return uuid.NewSHA1(templateID, []byte(day.String()))
}

// DueReminders lists active templates of every user whose next occurrence
// is between today and their reminder window, nearest first.
func (p *RecurringProcessor) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	today := core.DateOf(now)

	candidates, err := p.repo.ListDueRecurringExpenses(ctx, today.AddDays(maxReminderDays))
	if err != nil {
		return nil, fmt.Errorf("list upcoming recurring expenses: %w", err)
	}

	var out []Reminder
	for _, re := range candidates {
		days := DaysUntil(re.NextOccurrence.Time, now)
		if days < 0 || days > re.ReminderDays {
			continue
		}
		out = append(out, Reminder{Expense: re, DaysUntil: days})
	}
	return out, nil
}
