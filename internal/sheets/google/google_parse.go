package google

import (
	"fmt"
	"strconv"
	"strings"

	"budget/internal/core"
)

// Ledger sheet layout: one row per user and day.
const (
	firstColumn = "A"
	lastColumn  = "G"

	colDate    = 0
	colUser    = 1
	colVersion = 6
)

func headerRow() []any {
	return []any{"Date", "User", "Opening", "Income", "Expenses", "Closing", "Version"}
}

func balanceRow(rec core.BalanceRecord) []any {
	return []any{
		rec.Key.Date.String(),
		rec.Key.UserID.String(),
		core.FormatAmount(rec.OpeningBalance),
		core.FormatAmount(rec.Income),
		core.FormatAmount(rec.Expenses),
		core.FormatAmount(rec.ClosingBalance),
		rec.Version,
	}
}

type upsertPlan struct {
	// row is the 1-based sheet row to write.
	row          int
	writeHeader  bool
	stale        bool
	sheetVersion int64
}

// planUpsert locates rec's row in the values of columns A:G. A sheet that
// is empty gets a header first. Rows whose version is at least rec's are
// left alone.
func planUpsert(values [][]any, rec core.BalanceRecord) upsertPlan {
	if len(values) == 0 {
		return upsertPlan{row: 2, writeHeader: true}
	}

	date, user := rec.Key.Date.String(), rec.Key.UserID.String()
	for i, raw := range values {
		cols := toStrings(raw)
		if safeGet(cols, colDate) != date || !strings.EqualFold(safeGet(cols, colUser), user) {
			continue
		}
		v, _ := parseVersion(safeGet(cols, colVersion))
		return upsertPlan{row: i + 1, stale: v >= rec.Version, sheetVersion: v}
	}
	return upsertPlan{row: len(values) + 1}
}

func parseVersion(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", s, err)
	}
	return v, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
