package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1.00", true},
		{"1.0", "1.00", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{" 2.50 ", "2.50", true},
		{"12.340", "12.34", true},
		{"-1", "", false},
		{"0", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1e3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.out, FormatAmount(got), tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestParseAmount_PrecisionError(t *testing.T) {
	_, err := ParseAmount("1.005")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrecision))

	var pe *PrecisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "1.005", pe.Amount)
}

func TestCentsRoundTrip(t *testing.T) {
	d := AmountFromCents(-5525)
	assert.Equal(t, "-55.25", FormatAmount(d))

	cents, err := AmountToCents(d)
	require.NoError(t, err)
	assert.Equal(t, int64(-5525), cents)

	_, err = AmountToCents(decimal.RequireFromString("0.001"))
	assert.ErrorIs(t, err, ErrPrecision)
}
