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
	"golang.org/x/sync/errgroup"
)

type IncomeSourceRepository interface {
	CreateIncomeSource(ctx context.Context, src core.IncomeSource) error
	GetIncomeSource(ctx context.Context, userID, id uuid.UUID) (core.IncomeSource, error)
	DeactivateIncomeSource(ctx context.Context, userID, id uuid.UUID) error
	ListActiveIncomeSources(ctx context.Context, userID uuid.UUID) ([]core.IncomeSource, error)
}

type RecurringExpenseRepository interface {
	CreateRecurringExpense(ctx context.Context, re core.RecurringExpense) error
	GetRecurringExpense(ctx context.Context, userID, id uuid.UUID) (core.RecurringExpense, error)
	UpdateRecurringExpense(ctx context.Context, re core.RecurringExpense) error
	ListActiveRecurringExpenses(ctx context.Context, userID uuid.UUID) ([]core.RecurringExpense, error)
	ListDueRecurringExpenses(ctx context.Context, asOf core.Date) ([]core.RecurringExpense, error)
}

// PaydayOverview answers "when is the next payday": the nearest income
// prediction plus every active source ranked.
type PaydayOverview struct {
	Next *core.PaydayPrediction
	All  []core.PaydayPrediction
}

// PaydayService predicts upcoming incomes and recurring expenses.
type PaydayService struct {
	sources   IncomeSourceRepository
	recurring RecurringExpenseRepository
	logger    *applog.Logger
}

func NewPaydayService(sources IncomeSourceRepository, recurring RecurringExpenseRepository) *PaydayService {
	return &PaydayService{
		sources:   sources,
		recurring: recurring,
		logger:    applog.ForComponent(applog.ComponentScheduler),
	}
}

// AddIncomeSource validates and stores a new active income source.
func (s *PaydayService) AddIncomeSource(ctx context.Context, src core.IncomeSource) (core.IncomeSource, error) {
	src.Name = strings.TrimSpace(src.Name)
	src.Schedule.StartDate = core.DateOf(src.Schedule.StartDate.Time)
	if err := src.Validate(); err != nil {
		return core.IncomeSource{}, err
	}
	src.Amount, _ = core.NormalizeAmount(src.Amount)
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	src.IsActive = true

	if src.Schedule.Frequency == core.Custom {
		s.logger.WarnContext(ctx, "Custom schedule predicted as daily",
			applog.FieldSourceID, src.ID.String(),
			applog.FieldFrequency, string(src.Schedule.Frequency))
	}

	if err := s.sources.CreateIncomeSource(ctx, src); err != nil {
		return core.IncomeSource{}, fmt.Errorf("save income source: %w", err)
	}

	s.logger.InfoContext(ctx, "Income source added",
		applog.FieldSourceID, src.ID.String(),
		applog.FieldUserID, src.UserID.String(),
		applog.FieldFrequency, string(src.Schedule.Frequency))
	return src, nil
}

// RemoveIncomeSource deactivates a source. Its history is kept.
func (s *PaydayService) RemoveIncomeSource(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.sources.DeactivateIncomeSource(ctx, userID, id); err != nil {
		return fmt.Errorf("deactivate income source: %w", err)
	}
	s.logger.InfoContext(ctx, "Income source removed", applog.FieldSourceID, id.String())
	return nil
}

// NextPayday predicts the next occurrence of every active income source of
// the user. Sources whose schedule has ended are left out.
func (s *PaydayService) NextPayday(ctx context.Context, userID uuid.UUID, now time.Time) (PaydayOverview, error) {
	sources, err := s.sources.ListActiveIncomeSources(ctx, userID)
	if err != nil {
		return PaydayOverview{}, fmt.Errorf("list income sources: %w", err)
	}

	preds, err := s.predictSources(ctx, sources, now)
	if err != nil {
		return PaydayOverview{}, err
	}

	out := PaydayOverview{All: RankUpcoming(preds)}
	if len(out.All) > 0 {
		next := out.All[0]
		out.Next = &next
	}
	return out, nil
}

// Upcoming merges income and recurring expense predictions, nearest first.
// With a positive window only events at most window days away are kept.
func (s *PaydayService) Upcoming(ctx context.Context, userID uuid.UUID, now time.Time, window int) ([]core.PaydayPrediction, error) {
	var (
		sources   []core.IncomeSource
		recurring []core.RecurringExpense
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sources, err = s.sources.ListActiveIncomeSources(gctx, userID)
		if err != nil {
			return fmt.Errorf("list income sources: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recurring, err = s.recurring.ListActiveRecurringExpenses(gctx, userID)
		if err != nil {
			return fmt.Errorf("list recurring expenses: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	preds, err := s.predictSources(ctx, sources, now)
	if err != nil {
		return nil, err
	}

	today := core.DateOf(now)
	for _, re := range recurring {
		p := core.PaydayPrediction{
			SourceID: re.ID,
			Name:     re.Name,
			Kind:     core.KindExpense,
			Amount:   re.Amount,
		}
		if !re.NextOccurrence.IsZero() && !re.NextOccurrence.Before(today.Time) {
			p.NextDate = re.NextOccurrence
			p.DaysUntil = DaysUntil(re.NextOccurrence.Time, now)
		} else {
			p, err = Predict(p, re.Schedule, now)
			if errors.Is(err, core.ErrScheduleEnded) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("predict recurring expense %s: %w", re.ID, err)
			}
		}
		preds = append(preds, p)
	}

	ranked := RankUpcoming(preds)
	if window > 0 {
		for i, p := range ranked {
			if p.DaysUntil > window {
				return ranked[:i], nil
			}
		}
	}
	return ranked, nil
}

func (s *PaydayService) predictSources(ctx context.Context, sources []core.IncomeSource, now time.Time) ([]core.PaydayPrediction, error) {
	preds := make([]core.PaydayPrediction, 0, len(sources))
	for _, src := range sources {
		p, err := Predict(core.PaydayPrediction{
			SourceID: src.ID,
			Name:     src.Name,
			Kind:     core.KindIncome,
			Amount:   src.Amount,
		}, src.Schedule, now)
		if errors.Is(err, core.ErrScheduleEnded) {
			s.logger.DebugContext(ctx, "Skipping ended income source", applog.FieldSourceID, src.ID.String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("predict income source %s: %w", src.ID, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}
