// Package core provides money parsing and handling utilities.
//
// Amounts are shopspring decimals held at exactly two fractional digits.
// Anything finer is rejected with a PrecisionError instead of being rounded,
// so that repeated ledger updates cannot drift.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits every stored amount keeps.
const AmountScale = 2

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a decimal string to an exact two-digit amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Trailing
// zeros past the second fractional digit are fine ("12.340"); any other
// extra digit is a PrecisionError. Only positive values are accepted.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("12.345") -> 0, *PrecisionError
//	ParseAmount("-1")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return NormalizeAmount(d)
}

// NormalizeAmount returns d at exactly two fractional digits, or a
// PrecisionError if that would lose information.
func NormalizeAmount(d decimal.Decimal) (decimal.Decimal, error) {
	rounded := d.Round(AmountScale)
	if !rounded.Equal(d) {
		return decimal.Zero, &PrecisionError{Amount: d.String()}
	}
	return rounded, nil
}

// AmountFromCents builds an amount from an integer number of cents.
func AmountFromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -AmountScale)
}

// AmountToCents converts an exact two-digit amount to cents.
func AmountToCents(d decimal.Decimal) (int64, error) {
	n, err := NormalizeAmount(d)
	if err != nil {
		return 0, err
	}
	return n.Shift(AmountScale).IntPart(), nil
}

// FormatAmount renders an amount with two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}
