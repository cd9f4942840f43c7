// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for recurring schedules. Each
// frequency (daily, weekly, biweekly, monthly, yearly) has its own strategy
// that computes the first occurrence strictly after a reference day.

package services

import (
	"time"

	"budget/internal/core"
	"budget/internal/datemath"
)

// OccurrenceStrategy computes the next occurrence of a schedule.
type OccurrenceStrategy interface {
	// Next returns the first occurrence strictly after from. from is already
	// normalized to the start of its day.
	Next(d core.ScheduleDescriptor, from time.Time) (time.Time, error)
}

// DailyStrategy implements OccurrenceStrategy for daily schedules.
type DailyStrategy struct{}

// Next returns the following day.
func (DailyStrategy) Next(_ core.ScheduleDescriptor, from time.Time) (time.Time, error) {
	return datemath.AddPeriod(from, datemath.Day, 1), nil
}

// WeeklyStrategy implements OccurrenceStrategy for weekly schedules.
type WeeklyStrategy struct{}

// Next returns the next day falling on the descriptor's weekday, one to
// seven days out.
func (WeeklyStrategy) Next(d core.ScheduleDescriptor, from time.Time) (time.Time, error) {
	wd, err := weekdayOf(d)
	if err != nil {
		return time.Time{}, err
	}
	return datemath.NextWeekday(from, wd), nil
}

// BiweeklyStrategy implements OccurrenceStrategy for biweekly schedules.
//
// Without an anchor only the weekday is known, so the result is the next
// matching weekday pushed one more week out (eight to fourteen days). This
// approximates a 14-day cadence and can drift from the real paydays. With
// an anchor the result is the first anchor+14n after from.
type BiweeklyStrategy struct{}

func (BiweeklyStrategy) Next(d core.ScheduleDescriptor, from time.Time) (time.Time, error) {
	if d.Anchor != nil {
		anchor := datemath.StartOfDay(d.Anchor.Time)
		days := datemath.DaysBetween(anchor, from)
		n := floorDiv(days, 14) + 1
		return datemath.AddPeriod(anchor, datemath.Week, 2*n), nil
	}
	wd, err := weekdayOf(d)
	if err != nil {
		return time.Time{}, err
	}
	return datemath.AddPeriod(datemath.NextWeekday(from, wd), datemath.Week, 1), nil
}

// MonthlyStrategy implements OccurrenceStrategy for monthly schedules.
type MonthlyStrategy struct{}

// Next returns this month's day if still ahead, otherwise next month's. Days
// past the end of a month land on its last day.
func (MonthlyStrategy) Next(d core.ScheduleDescriptor, from time.Time) (time.Time, error) {
	if d.DayOfMonth == nil || *d.DayOfMonth < 1 || *d.DayOfMonth > 31 {
		return time.Time{}, &core.InvalidScheduleError{Frequency: d.Frequency, Field: "day_of_month", Reason: "must be 1..31"}
	}
	dom := *d.DayOfMonth
	candidate := datemath.ClampedDate(from.Year(), from.Month(), dom)
	if !candidate.After(from) {
		candidate = datemath.ClampedDate(from.Year(), from.Month()+1, dom)
	}
	return candidate, nil
}

// YearlyStrategy implements OccurrenceStrategy for yearly schedules.
type YearlyStrategy struct{}

// Next uses the start date's month, and its day unless DayOfMonth overrides it.
func (YearlyStrategy) Next(d core.ScheduleDescriptor, from time.Time) (time.Time, error) {
	if d.StartDate.IsZero() {
		return time.Time{}, &core.InvalidScheduleError{Frequency: d.Frequency, Field: "start_date", Reason: "is required"}
	}
	month := d.StartDate.Month()
	dom := d.StartDate.Day()
	if d.DayOfMonth != nil {
		dom = *d.DayOfMonth
	}
	candidate := datemath.ClampedDate(from.Year(), month, dom)
	if !candidate.After(from) {
		candidate = datemath.ClampedDate(from.Year()+1, month, dom)
	}
	return candidate, nil
}

// occurrenceStrategies maps frequencies to their strategies. Custom
// schedules have no rule of their own and follow the daily one.
var occurrenceStrategies = map[core.Frequency]OccurrenceStrategy{
	core.Daily:    DailyStrategy{},
	core.Weekly:   WeeklyStrategy{},
	core.Biweekly: BiweeklyStrategy{},
	core.Monthly:  MonthlyStrategy{},
	core.Yearly:   YearlyStrategy{},
	core.Custom:   DailyStrategy{},
}

// GetOccurrenceStrategy returns the strategy registered for a frequency.
func GetOccurrenceStrategy(frequency core.Frequency) (OccurrenceStrategy, bool) {
	s, ok := occurrenceStrategies[frequency]
	return s, ok
}

// RegisterOccurrenceStrategy registers a strategy for a new frequency. Call it
// during initialization, before any concurrent use of the scheduler.
func RegisterOccurrenceStrategy(frequency core.Frequency, strategy OccurrenceStrategy) {
	occurrenceStrategies[frequency] = strategy
}

func weekdayOf(d core.ScheduleDescriptor) (time.Weekday, error) {
	if d.DayOfWeek == nil || *d.DayOfWeek < time.Sunday || *d.DayOfWeek > time.Saturday {
		return 0, &core.InvalidScheduleError{Frequency: d.Frequency, Field: "day_of_week", Reason: "must be 0..6"}
	}
	return *d.DayOfWeek, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
