package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSchedule      = errors.New("invalid schedule")
	ErrPrecision            = errors.New("amount not representable at 2 fractional digits")
	ErrConcurrencyViolation = errors.New("concurrent update on the same ledger key")
	ErrScheduleEnded        = errors.New("schedule has ended")
	ErrNotFound             = errors.New("not found")
)

// InvalidScheduleError reports a descriptor that lacks a field its frequency
// requires, or carries a field outside its valid range.
type InvalidScheduleError struct {
	Frequency Frequency
	Field     string
	Reason    string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid %s schedule: %s %s", e.Frequency, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidSchedule) match any InvalidScheduleError.
func (e *InvalidScheduleError) Is(target error) bool {
	return target == ErrInvalidSchedule
}

// PrecisionError reports an amount with more than two significant fractional
// digits. Amounts are never rounded silently.
type PrecisionError struct {
	Amount string
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("amount %s has more than 2 fractional digits", e.Amount)
}

func (e *PrecisionError) Is(target error) bool {
	return target == ErrPrecision
}
