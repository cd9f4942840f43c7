package core

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekday(w time.Weekday) *time.Weekday { return &w }

func intPtr(i int) *int { return &i }

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{NewDate(2024, 2, 30), true},
		{Date{Time: time.Time{}}, false},
		{Date{}, false},
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if !tc.ok && !errors.Is(err, ErrZeroDate) {
			t.Fatalf("case %d expected ErrZeroDate, got %v", i, err)
		}
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateOf_DropsClockAndZone(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("tzdata not available")
	}
	d := DateOf(time.Date(2024, 3, 31, 23, 30, 0, 0, rome))
	assert.Equal(t, "2024-03-31", d.String())
	assert.Equal(t, time.UTC, d.Location())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, time.February, 29), d)

	_, err = ParseDate("2023-02-29")
	assert.Error(t, err)
}

func TestScheduleDescriptor_Validate(t *testing.T) {
	start := NewDate(2024, 1, 1)
	before := NewDate(2023, 12, 1)

	tests := []struct {
		name  string
		d     ScheduleDescriptor
		field string
	}{
		{"daily ok", ScheduleDescriptor{Frequency: Daily, StartDate: start}, ""},
		{"custom ok", ScheduleDescriptor{Frequency: Custom, StartDate: start}, ""},
		{"weekly ok", ScheduleDescriptor{Frequency: Weekly, DayOfWeek: weekday(time.Friday), StartDate: start}, ""},
		{"monthly ok", ScheduleDescriptor{Frequency: Monthly, DayOfMonth: intPtr(31), StartDate: start}, ""},
		{"weekly without weekday", ScheduleDescriptor{Frequency: Weekly, StartDate: start}, "day_of_week"},
		{"biweekly without weekday", ScheduleDescriptor{Frequency: Biweekly, StartDate: start}, "day_of_week"},
		{"monthly without day", ScheduleDescriptor{Frequency: Monthly, StartDate: start}, "day_of_month"},
		{"day of month out of range", ScheduleDescriptor{Frequency: Monthly, DayOfMonth: intPtr(32), StartDate: start}, "day_of_month"},
		{"weekday out of range", ScheduleDescriptor{Frequency: Weekly, DayOfWeek: weekday(7), StartDate: start}, "day_of_week"},
		{"unknown frequency", ScheduleDescriptor{Frequency: "hourly", StartDate: start}, "frequency"},
		{"missing start", ScheduleDescriptor{Frequency: Daily}, "start_date"},
		{"end before start", ScheduleDescriptor{Frequency: Daily, StartDate: start, EndDate: &before}, "end_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSchedule))
			var se *InvalidScheduleError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.field, se.Field)
		})
	}
}

func TestNewScheduleDescriptor(t *testing.T) {
	_, err := NewScheduleDescriptor(Weekly, nil, nil, NewDate(2024, 1, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	d, err := NewScheduleDescriptor(Monthly, nil, intPtr(15), NewDate(2024, 1, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, 15, *d.DayOfMonth)
}

func TestBalanceRecord_Recompute(t *testing.T) {
	r := NewBalanceRecord(LedgerKey{UserID: uuid.New(), Date: NewDate(2024, 3, 1)})
	r.Income = decimal.RequireFromString("20.00")
	r.Expenses = decimal.RequireFromString("50.00")
	assert.False(t, r.Consistent())

	r.Recompute()
	assert.True(t, r.Consistent())
	assert.Equal(t, "-30.00", FormatAmount(r.ClosingBalance))
}

func TestLedgerKey_Less(t *testing.T) {
	u := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	v := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	a := LedgerKey{UserID: u, Date: NewDate(2024, 1, 2)}
	b := LedgerKey{UserID: u, Date: NewDate(2024, 1, 3)}
	c := LedgerKey{UserID: v, Date: NewDate(2024, 1, 1)}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.False(t, a.Less(a))
}

func TestTransactionDelta_Validate(t *testing.T) {
	good := TransactionDelta{UserID: uuid.New(), Date: NewDate(2024, 3, 1), Amount: decimal.RequireFromString("-12.50"), Kind: KindExpense}
	assert.NoError(t, good.Validate())

	bads := []TransactionDelta{
		{Date: good.Date, Amount: good.Amount, Kind: KindExpense},
		{UserID: good.UserID, Amount: good.Amount, Kind: KindExpense},
		{UserID: good.UserID, Date: good.Date, Amount: good.Amount, Kind: "transfer"},
		{UserID: good.UserID, Date: good.Date, Amount: decimal.RequireFromString("0.125"), Kind: KindIncome},
	}
	for i, d := range bads {
		assert.Error(t, d.Validate(), "case %d", i)
	}

	assert.True(t, good.Negate().Amount.Equal(decimal.RequireFromString("12.50")))
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		UserID:   uuid.New(),
		Date:     NewDate(2025, 1, 1),
		Amount:   decimal.RequireFromString("9.99"),
		Category: "Groceries",
	}
	require.NoError(t, good.Validate())
	assert.Equal(t, KindExpense, good.Delta().Kind)

	bad := good
	bad.Amount = decimal.Zero
	assert.ErrorIs(t, bad.Validate(), ErrInvalidAmount)

	bad = good
	bad.Category = " "
	assert.ErrorIs(t, bad.Validate(), ErrEmptyCategory)

	bad = good
	bad.Amount = decimal.RequireFromString("9.999")
	assert.ErrorIs(t, bad.Validate(), ErrPrecision)
}

func TestRecurringExpenseValidate(t *testing.T) {
	re := RecurringExpense{
		UserID:       uuid.New(),
		Name:         "Rent",
		Amount:       decimal.RequireFromString("800.00"),
		Category:     "Home",
		Schedule:     ScheduleDescriptor{Frequency: Monthly, DayOfMonth: intPtr(1), StartDate: NewDate(2024, 1, 1)},
		ReminderDays: DefaultReminderDays,
	}
	require.NoError(t, re.Validate())

	re.Schedule.Frequency = Biweekly
	re.Schedule.DayOfWeek = weekday(time.Monday)
	assert.ErrorIs(t, re.Validate(), ErrUnsupportedFreq)
}
