package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"budget/internal/cache"
	"budget/internal/core"
	ports "budget/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const (
	defaultLedgerSheet = "Ledger"
	rowCacheSize       = 4096
	rowCacheTTL        = 10 * time.Minute
)

// valuesAPI is the slice of the Sheets values service the exporter uses.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error)
	Update(ctx context.Context, spreadsheetID, rng string, values [][]any) error
}

type Client struct {
	values        valuesAPI
	spreadsheetID string
	// ledgerBase is the sheet name without year; one sheet per year.
	ledgerBase string
	rows       *cache.LRUCache[rowRef]
}

// rowRef remembers where a key was last written and at which version.
type rowRef struct {
	row     int
	version int64
}

var _ ports.BalanceExporter = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables and a
// service account.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_LEDGER_SHEET_NAME (default "Ledger").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(&serviceValues{svc: svc}, spreadsheetID, os.Getenv("GOOGLE_LEDGER_SHEET_NAME")), nil
}

// New builds a client over an existing values API.
func New(values valuesAPI, spreadsheetID, ledgerBase string) *Client {
	ledgerBase = strings.TrimSpace(ledgerBase)
	if ledgerBase == "" {
		ledgerBase = defaultLedgerSheet
	}
	return &Client{
		values:        values,
		spreadsheetID: spreadsheetID,
		ledgerBase:    ledgerBase,
		rows:          cache.NewLRUCache[rowRef](rowCacheSize, rowCacheTTL),
	}
}

// RowCache exposes the row index cache so callers can sweep it.
func (c *Client) RowCache() cache.Cleaner {
	return c.rows
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created", "credentials_size", len(credentialsJSON))
	return service, nil
}

// ExportBalance upserts the row of rec's user and day into the ledger sheet
// of rec's year.
func (c *Client) ExportBalance(ctx context.Context, rec core.BalanceRecord) error {
	if c.values == nil {
		return errors.New("sheets service not initialized")
	}
	sheet := yearPrefixedName(c.ledgerBase, rec.Key.Date.Year())
	cacheKey := sheet + "|" + rec.Key.String()

	if ref, ok := c.rows.Get(cacheKey); ok {
		if ref.version >= rec.Version {
			return nil
		}
		if err := c.writeRow(ctx, sheet, ref.row, rec); err != nil {
			c.rows.Delete(cacheKey)
			return err
		}
		c.rows.Set(cacheKey, rowRef{row: ref.row, version: rec.Version})
		return nil
	}

	rng := fmt.Sprintf("%s!%s:%s", sheet, firstColumn, lastColumn)
	values, err := c.values.Get(ctx, c.spreadsheetID, rng)
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}

	plan := planUpsert(values, rec)
	if plan.stale {
		slog.DebugContext(ctx, "Skipping stale ledger export",
			"ledger_key", rec.Key.String(),
			"version", rec.Version,
			"sheet_version", plan.sheetVersion)
		c.rows.Set(cacheKey, rowRef{row: plan.row, version: plan.sheetVersion})
		return nil
	}
	if plan.writeHeader {
		hdr := fmt.Sprintf("%s!%s1:%s1", sheet, firstColumn, lastColumn)
		if err := c.values.Update(ctx, c.spreadsheetID, hdr, [][]any{headerRow()}); err != nil {
			return fmt.Errorf("write header %s: %w", hdr, err)
		}
	}
	if err := c.writeRow(ctx, sheet, plan.row, rec); err != nil {
		return err
	}
	c.rows.Set(cacheKey, rowRef{row: plan.row, version: rec.Version})
	return nil
}

func (c *Client) writeRow(ctx context.Context, sheet string, row int, rec core.BalanceRecord) error {
	rng := fmt.Sprintf("%s!%s%d:%s%d", sheet, firstColumn, row, lastColumn, row)
	if err := c.values.Update(ctx, c.spreadsheetID, rng, [][]any{balanceRow(rec)}); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// serviceValues adapts *gsheet.Service to valuesAPI.
type serviceValues struct {
	svc *gsheet.Service
}

func (s *serviceValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s *serviceValues) Update(ctx context.Context, spreadsheetID, rng string, values [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}
