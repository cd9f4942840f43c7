package services

import (
	"errors"
	"testing"
	"time"

	"budget/internal/core"
	"budget/internal/datemath"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekdayPtr(w time.Weekday) *time.Weekday { return &w }

func intPtr(i int) *int { return &i }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthly(dom int) core.ScheduleDescriptor {
	return core.ScheduleDescriptor{Frequency: core.Monthly, DayOfMonth: intPtr(dom), StartDate: core.NewDate(2020, 1, 1)}
}

func weekly(wd time.Weekday) core.ScheduleDescriptor {
	return core.ScheduleDescriptor{Frequency: core.Weekly, DayOfWeek: weekdayPtr(wd), StartDate: core.NewDate(2020, 1, 1)}
}

func biweekly(wd time.Weekday) core.ScheduleDescriptor {
	return core.ScheduleDescriptor{Frequency: core.Biweekly, DayOfWeek: weekdayPtr(wd), StartDate: core.NewDate(2020, 1, 1)}
}

func TestNextOccurrence_Monthly31(t *testing.T) {
	next, err := NextOccurrence(monthly(31), day(2024, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 1, 31), next)

	next, err = NextOccurrence(monthly(31), next.Time)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 2, 29), next)
}

func TestNextOccurrence_Monthly31_NeverLeavesFebruary(t *testing.T) {
	for _, year := range []int{2023, 2024, 2100} {
		last := datemath.LastDayOfMonth(year, time.February)
		for dom := 1; dom < last; dom++ {
			from := day(year, time.February, dom)
			next, err := NextOccurrence(monthly(31), from)
			require.NoError(t, err)
			assert.Equal(t, core.NewDate(year, time.February, last), next, "from %s", from.Format("2006-01-02"))
		}
	}
}

func TestNextOccurrence_Monthly(t *testing.T) {
	tests := []struct {
		name string
		dom  int
		from time.Time
		want core.Date
	}{
		{"later this month", 15, day(2024, 3, 1), core.NewDate(2024, 3, 15)},
		{"on the day moves on", 15, day(2024, 3, 15), core.NewDate(2024, 4, 15)},
		{"after the day", 15, day(2024, 3, 20), core.NewDate(2024, 4, 15)},
		{"december wraps the year", 10, day(2024, 12, 11), core.NewDate(2025, 1, 10)},
		{"clamped next month", 31, day(2024, 3, 31), core.NewDate(2024, 4, 30)},
		{"time of day ignored", 15, time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC), core.NewDate(2024, 4, 15)},
		{"first of month", 1, day(2024, 1, 31), core.NewDate(2024, 2, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(monthly(tt.dom), tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextOccurrence_WeeklyWithinOneWeek(t *testing.T) {
	start := day(2024, 1, 1)
	for i := 0; i < 28; i++ {
		from := start.AddDate(0, 0, i)
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			next, err := NextOccurrence(weekly(wd), from)
			require.NoError(t, err)
			assert.Equal(t, wd, next.Weekday())
			assert.True(t, next.After(from), "next %s not after %s", next, from)
			assert.False(t, next.After(from.AddDate(0, 0, 7)), "next %s beyond a week from %s", next, from)
		}
	}
}

func TestNextOccurrence_WeeklySameWeekdayAdvancesAWeek(t *testing.T) {
	// 2024-01-19 is a Friday.
	next, err := NextOccurrence(weekly(time.Friday), day(2024, 1, 19))
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 1, 26), next)
}

func TestNextOccurrence_Biweekly(t *testing.T) {
	// 2024-01-15 is a Monday.
	tests := []struct {
		name string
		wd   time.Weekday
		want core.Date
	}{
		{"later this week", time.Wednesday, core.NewDate(2024, 1, 24)},
		{"same weekday", time.Monday, core.NewDate(2024, 1, 29)},
		{"earlier weekday", time.Saturday, core.NewDate(2024, 1, 27)},
		{"sunday", time.Sunday, core.NewDate(2024, 1, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(biweekly(tt.wd), day(2024, 1, 15))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			days := DaysUntil(got.Time, day(2024, 1, 15))
			assert.True(t, days >= 8 && days <= 14, "got %d days", days)
		})
	}
}

func TestNextOccurrence_BiweeklyAnchor(t *testing.T) {
	d := biweekly(time.Friday).WithAnchor(core.NewDate(2024, 1, 5))

	tests := []struct {
		from time.Time
		want core.Date
	}{
		{day(2024, 1, 5), core.NewDate(2024, 1, 19)},
		{day(2024, 1, 6), core.NewDate(2024, 1, 19)},
		{day(2024, 1, 18), core.NewDate(2024, 1, 19)},
		{day(2024, 1, 19), core.NewDate(2024, 2, 2)},
		{day(2023, 12, 30), core.NewDate(2024, 1, 5)},
		{day(2023, 12, 20), core.NewDate(2023, 12, 22)},
	}
	for _, tt := range tests {
		got, err := NextOccurrence(d, tt.from)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "from %s", tt.from.Format("2006-01-02"))
		assert.Equal(t, 0, DaysUntil(got.Time, d.Anchor.Time)%14)
	}
}

func TestNextOccurrence_DailyAndFallbacks(t *testing.T) {
	from := time.Date(2024, 2, 28, 22, 15, 0, 0, time.UTC)
	for _, f := range []core.Frequency{core.Daily, core.Custom, "fortnightly"} {
		got, err := NextOccurrence(core.ScheduleDescriptor{Frequency: f}, from)
		require.NoError(t, err, f)
		assert.Equal(t, core.NewDate(2024, 2, 29), got, f)
	}
}

func TestNextOccurrence_Yearly(t *testing.T) {
	d := core.ScheduleDescriptor{Frequency: core.Yearly, StartDate: core.NewDate(2020, 2, 29)}

	got, err := NextOccurrence(d, day(2024, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 2, 29), got)

	got, err = NextOccurrence(d, got.Time)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2025, 2, 28), got)
}

func TestNextOccurrence_InvalidSchedule(t *testing.T) {
	tests := []core.ScheduleDescriptor{
		{Frequency: core.Weekly},
		{Frequency: core.Biweekly},
		{Frequency: core.Monthly},
		{Frequency: core.Monthly, DayOfMonth: intPtr(0)},
		{Frequency: core.Weekly, DayOfWeek: weekdayPtr(9)},
	}
	for _, d := range tests {
		_, err := NextOccurrence(d, day(2024, 1, 1))
		require.Error(t, err, d.Frequency)
		assert.True(t, errors.Is(err, core.ErrInvalidSchedule), err.Error())
	}
}

func TestNextOccurrence_AlwaysInTheFuture(t *testing.T) {
	descriptors := []core.ScheduleDescriptor{
		{Frequency: core.Daily},
		{Frequency: core.Custom},
		weekly(time.Sunday),
		weekly(time.Wednesday),
		biweekly(time.Friday),
		biweekly(time.Friday).WithAnchor(core.NewDate(2023, 6, 2)),
		monthly(1),
		monthly(29),
		monthly(31),
		{Frequency: core.Yearly, StartDate: core.NewDate(2019, 12, 31)},
	}
	start := time.Date(2023, 12, 1, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		from := start.AddDate(0, 0, i)
		for _, d := range descriptors {
			next, err := NextOccurrence(d, from)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, DaysUntil(next.Time, from), 1, "%s from %s", d.Frequency, from)
			assert.Equal(t, time.Duration(0), next.Sub(datemath.StartOfDay(next.Time)))
		}
	}
}

func TestNextActiveOccurrence(t *testing.T) {
	end := core.NewDate(2024, 3, 31)
	d := monthly(15)
	d.StartDate = core.NewDate(2024, 2, 15)
	d.EndDate = &end

	got, err := NextActiveOccurrence(d, day(2024, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 2, 15), got, "first occurrence is the start date")

	got, err = NextActiveOccurrence(d, day(2024, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 3, 15), got)

	_, err = NextActiveOccurrence(d, day(2024, 3, 15))
	assert.ErrorIs(t, err, core.ErrScheduleEnded)
}

func TestDaysUntil(t *testing.T) {
	assert.Equal(t, 1, DaysUntil(day(2024, 3, 2), time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, 0, DaysUntil(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)))
	assert.Equal(t, -2, DaysUntil(day(2024, 2, 28), day(2024, 3, 1)))
	assert.Equal(t, 366, DaysUntil(day(2025, 1, 1), day(2024, 1, 1)))
}

func TestRankUpcoming(t *testing.T) {
	a := core.PaydayPrediction{SourceID: uuid.New(), Name: "a", DaysUntil: 5}
	b := core.PaydayPrediction{SourceID: uuid.New(), Name: "b", DaysUntil: 2}
	c := core.PaydayPrediction{SourceID: uuid.New(), Name: "c", DaysUntil: 5}
	e := core.PaydayPrediction{SourceID: uuid.New(), Name: "e", DaysUntil: -1}
	in := []core.PaydayPrediction{a, b, c, e}

	ranked := RankUpcoming(in)

	names := make([]string, len(ranked))
	for i, p := range ranked {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"e", "b", "a", "c"}, names)
	assert.Equal(t, "a", in[0].Name, "input must not be reordered")
	assert.Empty(t, RankUpcoming(nil))
}

func TestIsOccurrenceDay(t *testing.T) {
	// 2024-01-19 is a Friday.
	fri := day(2024, 1, 19)
	assert.True(t, IsOccurrenceDay(core.ScheduleDescriptor{Frequency: core.Daily}, fri))
	assert.True(t, IsOccurrenceDay(weekly(time.Friday), fri))
	assert.False(t, IsOccurrenceDay(weekly(time.Monday), fri))
	assert.True(t, IsOccurrenceDay(biweekly(time.Friday), fri))
	assert.False(t, IsOccurrenceDay(biweekly(time.Friday).WithAnchor(core.NewDate(2024, 1, 12)), fri))
	assert.True(t, IsOccurrenceDay(biweekly(time.Friday).WithAnchor(core.NewDate(2024, 1, 5)), fri))
	assert.True(t, IsOccurrenceDay(monthly(31), day(2024, 2, 29)))
	assert.False(t, IsOccurrenceDay(monthly(31), day(2024, 2, 28)))
	assert.False(t, IsOccurrenceDay(core.ScheduleDescriptor{Frequency: core.Custom}, fri))
}

func TestPredict(t *testing.T) {
	id := uuid.New()
	p, err := Predict(core.PaydayPrediction{SourceID: id, Name: "Salary"}, monthly(25), time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, id, p.SourceID)
	assert.Equal(t, core.NewDate(2024, 1, 25), p.NextDate)
	assert.Equal(t, 5, p.DaysUntil)
}

func TestRegisterOccurrenceStrategy(t *testing.T) {
	const quarterly core.Frequency = "quarterly"
	RegisterOccurrenceStrategy(quarterly, quarterlyStrategy{})
	t.Cleanup(func() { delete(occurrenceStrategies, quarterly) })

	got, err := NextOccurrence(core.ScheduleDescriptor{Frequency: quarterly}, day(2024, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 4, 30), got)
}

type quarterlyStrategy struct{}

func (quarterlyStrategy) Next(_ core.ScheduleDescriptor, from time.Time) (time.Time, error) {
	return datemath.AddPeriod(from, datemath.Month, 3), nil
}
