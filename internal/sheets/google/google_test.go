package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"budget/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeValues keeps one grid per sheet and understands the A:G and
// A<n>:G<n> ranges the exporter uses.
type fakeValues struct {
	mu      sync.Mutex
	sheets  map[string][][]any
	gets    int
	updates []string
	failGet error
}

func newFakeValues() *fakeValues {
	return &fakeValues{sheets: make(map[string][][]any)}
}

func (f *fakeValues) Get(_ context.Context, _ string, rng string) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGet != nil {
		return nil, f.failGet
	}
	sheet, _, _ := strings.Cut(rng, "!")
	return f.sheets[sheet], nil
}

func (f *fakeValues) Update(_ context.Context, _ string, rng string, values [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, rng)

	sheet, cells, _ := strings.Cut(rng, "!")
	start, _, _ := strings.Cut(cells, ":")
	row, err := strconv.Atoi(strings.TrimPrefix(start, "A"))
	if err != nil {
		return fmt.Errorf("bad range %q", rng)
	}
	grid := f.sheets[sheet]
	for len(grid) < row {
		grid = append(grid, []any{})
	}
	cells2 := make([]any, len(values[0]))
	for i, v := range values[0] {
		cells2[i] = fmt.Sprint(v)
	}
	grid[row-1] = cells2
	f.sheets[sheet] = grid
	return nil
}

func record(user uuid.UUID, day core.Date, expenses string, version int64) core.BalanceRecord {
	exp := decimal.RequireFromString(expenses)
	return core.BalanceRecord{
		Key:            core.LedgerKey{UserID: user, Date: day},
		OpeningBalance: decimal.Zero,
		Income:         decimal.Zero,
		Expenses:       exp,
		ClosingBalance: exp.Neg(),
		Version:        version,
	}
}

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSheetsService_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := newSheetsService(context.Background())
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSheetsService_UnreadableFile(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", t.TempDir()+"/missing.json")

	_, err := newSheetsService(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got: %v", err)
	}
}

func TestExportBalance_UpsertsRows(t *testing.T) {
	fake := newFakeValues()
	c := New(fake, "sheet-id", "")
	ctx := context.Background()
	user := uuid.New()
	day1 := core.NewDate(2024, time.March, 1)
	day2 := core.NewDate(2024, time.March, 2)

	if err := c.ExportBalance(ctx, record(user, day1, "50.00", 1)); err != nil {
		t.Fatalf("ExportBalance() error = %v", err)
	}
	if err := c.ExportBalance(ctx, record(user, day2, "10.00", 1)); err != nil {
		t.Fatalf("ExportBalance() error = %v", err)
	}
	if err := c.ExportBalance(ctx, record(user, day1, "75.00", 2)); err != nil {
		t.Fatalf("ExportBalance() error = %v", err)
	}

	grid := fake.sheets["2024 Ledger"]
	if len(grid) != 3 {
		t.Fatalf("sheet has %d rows, want 3: %v", len(grid), grid)
	}
	if grid[0][0] != "Date" {
		t.Errorf("header = %v", grid[0])
	}
	if grid[1][4] != "75.00" || grid[1][6] != "2" {
		t.Errorf("day 1 row = %v, want expenses 75.00 at version 2", grid[1])
	}
	if grid[2][0] != "2024-03-02" {
		t.Errorf("day 2 row = %v", grid[2])
	}
	if fake.gets != 2 {
		t.Errorf("sheet read %d times, want 2 (third export hits the row cache)", fake.gets)
	}
}

func TestExportBalance_IgnoresOlderVersions(t *testing.T) {
	fake := newFakeValues()
	c := New(fake, "sheet-id", "Balances")
	ctx := context.Background()
	user := uuid.New()
	day := core.NewDate(2023, time.December, 31)

	if err := c.ExportBalance(ctx, record(user, day, "20.00", 4)); err != nil {
		t.Fatal(err)
	}
	writes := len(fake.updates)

	if err := c.ExportBalance(ctx, record(user, day, "5.00", 3)); err != nil {
		t.Fatal(err)
	}
	if len(fake.updates) != writes {
		t.Errorf("older version was written: %v", fake.updates[writes:])
	}

	// A fresh client has no cache and must read the version from the sheet.
	fresh := New(fake, "sheet-id", "Balances")
	if err := fresh.ExportBalance(ctx, record(user, day, "5.00", 3)); err != nil {
		t.Fatal(err)
	}
	if len(fake.updates) != writes {
		t.Errorf("older version was written by a fresh client: %v", fake.updates[writes:])
	}
	if got := fake.sheets["2023 Balances"][1][4]; got != "20.00" {
		t.Errorf("expenses = %v, want 20.00", got)
	}
}

func TestExportBalance_ReadError(t *testing.T) {
	fake := newFakeValues()
	fake.failGet = errors.New("quota exceeded")
	c := New(fake, "sheet-id", "")

	err := c.ExportBalance(context.Background(), record(uuid.New(), core.NewDate(2024, 1, 1), "1.00", 1))
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("ExportBalance() error = %v, want quota error", err)
	}
}

func TestExportBalance_NotInitialized(t *testing.T) {
	c := &Client{}
	if err := c.ExportBalance(context.Background(), core.BalanceRecord{}); err == nil {
		t.Error("expected error when service is not initialized")
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Ledger", 2024, "2024 Ledger"},
		{"2023 Ledger", 2024, "2023 Ledger"},
		{"  Balances ", 2025, "2025 Balances"},
		{"", 2024, ""},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
		}
	}
}
