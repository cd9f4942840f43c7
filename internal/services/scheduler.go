package services

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"budget/internal/core"
	"budget/internal/datemath"
)

// NextOccurrence returns the first occurrence of d strictly after the day of
// from. Weekly and biweekly schedules need a weekday and monthly schedules a
// day of month; without them the result is an InvalidScheduleError.
// Frequencies with no registered strategy follow daily semantics.
func NextOccurrence(d core.ScheduleDescriptor, from time.Time) (core.Date, error) {
	if err := d.RequireFields(); err != nil {
		return core.Date{}, err
	}
	strategy, ok := GetOccurrenceStrategy(d.Frequency)
	if !ok {
		strategy = DailyStrategy{}
	}
	next, err := strategy.Next(d, datemath.StartOfDay(from))
	if err != nil {
		return core.Date{}, err
	}
	return core.DateOf(next), nil
}

// NextActiveOccurrence is NextOccurrence bounded by the schedule's start and
// end dates. A schedule that has not started yet yields its first occurrence
// on or after the start date. ErrScheduleEnded is returned once the next
// occurrence would fall after the end date.
func NextActiveOccurrence(d core.ScheduleDescriptor, from time.Time) (core.Date, error) {
	base := datemath.StartOfDay(from)
	if !d.StartDate.IsZero() && d.StartDate.After(base) {
		base = d.StartDate.AddDays(-1).Time
	}
	next, err := NextOccurrence(d, base)
	if err != nil {
		return core.Date{}, err
	}
	if d.Ended(next) {
		return core.Date{}, fmt.Errorf("%w: last day %s", core.ErrScheduleEnded, d.EndDate)
	}
	return next, nil
}

// DaysUntil returns the number of days from the day of from to the day of
// target, rounded up. It is negative when target is in the past.
func DaysUntil(target, from time.Time) int {
	return datemath.DaysBetween(from, target)
}

// RankUpcoming returns the predictions sorted by DaysUntil, nearest first.
// Ties keep their input order. The input slice is not modified.
func RankUpcoming(predictions []core.PaydayPrediction) []core.PaydayPrediction {
	ranked := slices.Clone(predictions)
	slices.SortStableFunc(ranked, func(a, b core.PaydayPrediction) int {
		return cmp.Compare(a.DaysUntil, b.DaysUntil)
	})
	return ranked
}

// IsOccurrenceDay reports whether the schedule falls due on day. Biweekly
// schedules without an anchor only compare the weekday. Custom and unknown
// frequencies never match.
func IsOccurrenceDay(d core.ScheduleDescriptor, day time.Time) bool {
	day = datemath.StartOfDay(day)
	switch d.Frequency {
	case core.Daily:
		return true
	case core.Weekly:
		return d.DayOfWeek != nil && day.Weekday() == *d.DayOfWeek
	case core.Biweekly:
		if d.Anchor != nil {
			diff := datemath.DaysBetween(d.Anchor.Time, day)
			return diff%14 == 0
		}
		return d.DayOfWeek != nil && day.Weekday() == *d.DayOfWeek
	case core.Monthly:
		if d.DayOfMonth == nil {
			return false
		}
		return day.Equal(datemath.ClampedDate(day.Year(), day.Month(), *d.DayOfMonth))
	case core.Yearly:
		if d.StartDate.IsZero() {
			return false
		}
		dom := d.StartDate.Day()
		if d.DayOfMonth != nil {
			dom = *d.DayOfMonth
		}
		return day.Equal(datemath.ClampedDate(day.Year(), d.StartDate.Month(), dom))
	default:
		return false
	}
}

// Predict fills in NextDate and DaysUntil of base for schedule d as seen
// from now. base carries the source fields.
func Predict(base core.PaydayPrediction, d core.ScheduleDescriptor, now time.Time) (core.PaydayPrediction, error) {
	next, err := NextActiveOccurrence(d, now)
	if err != nil {
		return core.PaydayPrediction{}, err
	}
	p := base
	p.NextDate = next
	p.DaysUntil = DaysUntil(next.Time, now)
	return p, nil
}
