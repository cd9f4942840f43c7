package core

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
	Custom   Frequency = "custom"
)

const (
	KindIncome  TransactionKind = "income"
	KindExpense TransactionKind = "expense"
)

const dateLayout = "2006-01-02"

type (
	Frequency string

	TransactionKind string

	// Date is a calendar day, always held at UTC midnight.
	Date struct {
		time.Time
	}

	// ScheduleDescriptor describes when a recurring cash event falls due.
	// Build it with NewScheduleDescriptor so required fields are checked once.
	ScheduleDescriptor struct {
		Frequency  Frequency     `validate:"required,oneof=daily weekly biweekly monthly yearly custom"`
		DayOfWeek  *time.Weekday `validate:"omitempty,min=0,max=6"`
		DayOfMonth *int          `validate:"omitempty,min=1,max=31"`
		StartDate  Date
		EndDate    *Date
		// Anchor is the last known occurrence of a biweekly schedule. When
		// set, occurrences follow a strict 14-day cadence from it.
		Anchor *Date
	}

	// PaydayPrediction is a derived view over a descriptor and "now".
	PaydayPrediction struct {
		SourceID  uuid.UUID
		Name      string
		Kind      TransactionKind
		Amount    decimal.Decimal
		NextDate  Date
		DaysUntil int
	}

	LedgerKey struct {
		UserID uuid.UUID
		Date   Date
	}

	// BalanceRecord aggregates one user's income and expenses for one day.
	BalanceRecord struct {
		Key            LedgerKey
		OpeningBalance decimal.Decimal
		Income         decimal.Decimal
		Expenses       decimal.Decimal
		ClosingBalance decimal.Decimal
		// Version increases by one on every persisted change.
		Version int64
	}

	// TransactionDelta is a signed change fed into the ledger.
	TransactionDelta struct {
		UserID uuid.UUID
		Date   Date
		Amount decimal.Decimal
		Kind   TransactionKind
	}

	IncomeSource struct {
		ID       uuid.UUID
		UserID   uuid.UUID
		Name     string
		Amount   decimal.Decimal
		Schedule ScheduleDescriptor
		IsActive bool
	}

	RecurringExpense struct {
		ID             uuid.UUID
		UserID         uuid.UUID
		Name           string
		Amount         decimal.Decimal
		Category       string
		Schedule       ScheduleDescriptor
		NextOccurrence Date
		IsActive       bool
		AutoDeduct     bool
		ReminderDays   int
	}

	Expense struct {
		ID            uuid.UUID
		UserID        uuid.UUID
		Amount        decimal.Decimal
		Category      string
		Date          Date
		PaymentMethod string
		Notes         string
		RecurringID   *uuid.UUID
	}

	Income struct {
		ID       uuid.UUID
		UserID   uuid.UUID
		Amount   decimal.Decimal
		SourceID *uuid.UUID
		Date     Date
		Notes    string
	}
)

const (
	DefaultPaymentMethod = "Cash"
	DefaultReminderDays  = 3
)

var (
	ErrEmptyName       = errors.New("empty name")
	ErrEmptyCategory   = errors.New("empty category")
	ErrMissingUser     = errors.New("missing user id")
	ErrUnknownKind     = errors.New("unknown transaction kind")
	ErrNotesTooLong    = errors.New("notes too long (max 1000 characters)")
	ErrReminderDays    = errors.New("reminder days must be between 0 and 60")
	ErrZeroDate        = errors.New("date cannot be zero")
	ErrUnsupportedFreq = errors.New("unsupported frequency for recurring expenses")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewDate creates a new Date from year, month, day
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t, read in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Validate rejects the zero date. Any other Date names a real calendar day.
func (d Date) Validate() error {
	if d.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// NewScheduleDescriptor validates and returns a descriptor.
func NewScheduleDescriptor(freq Frequency, dayOfWeek *time.Weekday, dayOfMonth *int, start Date, end *Date) (ScheduleDescriptor, error) {
	d := ScheduleDescriptor{
		Frequency:  freq,
		DayOfWeek:  dayOfWeek,
		DayOfMonth: dayOfMonth,
		StartDate:  start,
		EndDate:    end,
	}
	if err := d.Validate(); err != nil {
		return ScheduleDescriptor{}, err
	}
	return d, nil
}

// WithAnchor returns a copy of d anchored to a known occurrence.
func (d ScheduleDescriptor) WithAnchor(anchor Date) ScheduleDescriptor {
	d.Anchor = &anchor
	return d
}

// Validate checks field ranges and the fields each frequency requires.
func (d ScheduleDescriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &InvalidScheduleError{
				Frequency: d.Frequency,
				Field:     fieldName(fe.Field()),
				Reason:    "failed " + fe.Tag() + " check",
			}
		}
		return fmt.Errorf("validate schedule: %w", err)
	}
	if err := d.RequireFields(); err != nil {
		return err
	}
	if d.StartDate.IsZero() {
		return &InvalidScheduleError{Frequency: d.Frequency, Field: "start_date", Reason: "is required"}
	}
	if d.EndDate != nil && d.EndDate.Before(d.StartDate.Time) {
		return &InvalidScheduleError{Frequency: d.Frequency, Field: "end_date", Reason: "is before start_date"}
	}
	return nil
}

// RequireFields reports the fields a frequency cannot be computed without.
func (d ScheduleDescriptor) RequireFields() error {
	switch d.Frequency {
	case Weekly, Biweekly:
		if d.DayOfWeek == nil {
			return &InvalidScheduleError{Frequency: d.Frequency, Field: "day_of_week", Reason: "is required"}
		}
	case Monthly:
		if d.DayOfMonth == nil {
			return &InvalidScheduleError{Frequency: d.Frequency, Field: "day_of_month", Reason: "is required"}
		}
	case Yearly:
		if d.StartDate.IsZero() {
			return &InvalidScheduleError{Frequency: d.Frequency, Field: "start_date", Reason: "is required"}
		}
	}
	return nil
}

// Ended reports whether day falls after the schedule's end date.
func (d ScheduleDescriptor) Ended(day Date) bool {
	return d.EndDate != nil && day.After(d.EndDate.Time)
}

func fieldName(f string) string {
	switch f {
	case "DayOfWeek":
		return "day_of_week"
	case "DayOfMonth":
		return "day_of_month"
	case "Frequency":
		return "frequency"
	}
	return strings.ToLower(f)
}

// Key returns the ledger key the delta targets.
func (t TransactionDelta) Key() LedgerKey {
	return LedgerKey{UserID: t.UserID, Date: t.Date}
}

// Negate returns the delta that undoes t.
func (t TransactionDelta) Negate() TransactionDelta {
	t.Amount = t.Amount.Neg()
	return t
}

func (t TransactionDelta) Validate() error {
	if t.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.Kind != KindIncome && t.Kind != KindExpense {
		return fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}
	if _, err := NormalizeAmount(t.Amount); err != nil {
		return err
	}
	return nil
}

func (k LedgerKey) String() string {
	return k.UserID.String() + "/" + k.Date.String()
}

// Less orders keys by user, then date. Locks on several keys are always
// taken in this order.
func (k LedgerKey) Less(o LedgerKey) bool {
	if c := bytes.Compare(k.UserID[:], o.UserID[:]); c != 0 {
		return c < 0
	}
	return k.Date.Before(o.Date.Time)
}

// NewBalanceRecord returns the zero record a key starts from.
func NewBalanceRecord(key LedgerKey) BalanceRecord {
	return BalanceRecord{
		Key:            key,
		OpeningBalance: decimal.Zero,
		Income:         decimal.Zero,
		Expenses:       decimal.Zero,
		ClosingBalance: decimal.Zero,
	}
}

// Recompute derives the closing balance from the other three fields.
func (r *BalanceRecord) Recompute() {
	r.ClosingBalance = r.OpeningBalance.Add(r.Income).Sub(r.Expenses)
}

// Consistent reports whether closing == opening + income - expenses.
func (r BalanceRecord) Consistent() bool {
	return r.ClosingBalance.Equal(r.OpeningBalance.Add(r.Income).Sub(r.Expenses))
}

func (s IncomeSource) Validate() error {
	if s.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	if !s.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := NormalizeAmount(s.Amount); err != nil {
		return err
	}
	return s.Schedule.Validate()
}

func (re RecurringExpense) Validate() error {
	if re.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if strings.TrimSpace(re.Name) == "" {
		return ErrEmptyName
	}
	if len(re.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if !re.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := NormalizeAmount(re.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(re.Category) == "" {
		return ErrEmptyCategory
	}
	switch re.Schedule.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFreq, re.Schedule.Frequency)
	}
	if re.ReminderDays < 0 || re.ReminderDays > 60 {
		return ErrReminderDays
	}
	return re.Schedule.Validate()
}

func (e Expense) Validate() error {
	if e.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := NormalizeAmount(e.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if len(e.Notes) > 1000 {
		return ErrNotesTooLong
	}
	return nil
}

// Delta returns the ledger change booking this expense causes.
func (e Expense) Delta() TransactionDelta {
	return TransactionDelta{UserID: e.UserID, Date: e.Date, Amount: e.Amount, Kind: KindExpense}
}

func (i Income) Validate() error {
	if i.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if err := i.Date.Validate(); err != nil {
		return err
	}
	if !i.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := NormalizeAmount(i.Amount); err != nil {
		return err
	}
	if len(i.Notes) > 1000 {
		return ErrNotesTooLong
	}
	return nil
}

// Delta returns the ledger change booking this income causes.
func (i Income) Delta() TransactionDelta {
	return TransactionDelta{UserID: i.UserID, Date: i.Date, Amount: i.Amount, Kind: KindIncome}
}
