// Package datemath holds frequency-aware calendar arithmetic.
//
// Every function is pure. Results are calendar days at UTC midnight, read from
// the calendar fields of the input in its own location, so day differences are
// always whole multiples of 24 hours.
package datemath

import (
	"math"
	"time"

	"budget/internal/core"
)

// Unit is the step AddPeriod advances by.
type Unit int

const (
	Day Unit = iota
	Week
	Month
)

const day = 24 * time.Hour

// StartOfDay returns the calendar day of t at UTC midnight.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LastDayOfMonth returns the number of days in the given month.
func LastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDate builds year-month-day, clamping day to the month's last day.
// Month overflow is normalized first, so month 13 is January of year+1.
func ClampedDate(year int, month time.Month, dayOfMonth int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := LastDayOfMonth(first.Year(), first.Month())
	if dayOfMonth > last {
		dayOfMonth = last
	}
	if dayOfMonth < 1 {
		dayOfMonth = 1
	}
	return time.Date(first.Year(), first.Month(), dayOfMonth, 0, 0, 0, 0, time.UTC)
}

// AddPeriod adds count units to t. Month steps keep the day of month where
// possible and clamp it otherwise: Jan 31 + 1 month is the last day of
// February.
func AddPeriod(t time.Time, unit Unit, count int) time.Time {
	t = StartOfDay(t)
	switch unit {
	case Week:
		return t.AddDate(0, 0, 7*count)
	case Month:
		return ClampedDate(t.Year(), t.Month()+time.Month(count), t.Day())
	default:
		return t.AddDate(0, 0, count)
	}
}

// NextWeekday returns the first day strictly after t that falls on wd. When
// t is already a wd the result is a full week later.
func NextWeekday(t time.Time, wd time.Weekday) time.Time {
	t = StartOfDay(t)
	diff := int(wd) - int(t.Weekday())
	if diff <= 0 {
		diff += 7
	}
	return t.AddDate(0, 0, diff)
}

// DaysBetween returns the signed number of days from `from` to `to`,
// rounded up.
func DaysBetween(from, to time.Time) int {
	diff := StartOfDay(to).Sub(StartOfDay(from))
	return int(math.Ceil(float64(diff) / float64(day)))
}

// StartOfPeriod returns the first day of the period of the given frequency
// that contains ref. Weeks start on Monday. Biweekly periods have no stored
// anchor, so they are approximated as starting two weeks before the current
// week's Monday.
func StartOfPeriod(freq core.Frequency, ref time.Time) time.Time {
	d := StartOfDay(ref)
	switch freq {
	case core.Weekly:
		return startOfWeek(d)
	case core.Biweekly:
		return AddPeriod(startOfWeek(d), Week, -2)
	case core.Monthly:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	case core.Yearly:
		return time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return d
	}
}

func startOfWeek(d time.Time) time.Time {
	offset := int(d.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return d.AddDate(0, 0, -offset)
}
