package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	applog "budget/internal/log"

	"github.com/robfig/cron/v3"
)

// Backend names accepted by DATA_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var validBackends = []string{BackendMemory, BackendSQLite, BackendPostgres}

type Config struct {
	// Storage
	DataBackend  string
	SQLiteDBPath string
	PostgresDSN  string

	// AMQP ledger events; empty URL disables publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID   string
	GoogleLedgerSheetName string

	// Days re-exported when the ledger worker starts; 0 disables
	ExportBackfillDays int

	// Recurring worker
	RecurringSchedule   string
	RecurringMaxCatchUp int
	ReminderWindowDays  int

	LogLevel        string
	ShutdownTimeout time.Duration
}

func Load() *Config {
	return &Config{
		DataBackend:  getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/budget.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budget"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_changes"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleLedgerSheetName: getEnv("GOOGLE_LEDGER_SHEET_NAME", "Ledger"),
		ExportBackfillDays:    getEnvInt("EXPORT_BACKFILL_DAYS", 7),

		RecurringSchedule:   getEnv("RECURRING_SCHEDULE", "@every 1h"),
		RecurringMaxCatchUp: getEnvInt("RECURRING_MAX_CATCHUP", 12),
		ReminderWindowDays:  getEnvInt("REMINDER_WINDOW_DAYS", 7),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(validBackends, c.DataBackend) {
		errs = append(errs, fmt.Errorf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errs = append(errs, errors.New("SQLite database path cannot be empty when using sqlite backend"))
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errs = append(errs, fmt.Errorf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when using postgres backend"))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Errorf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, errors.New("AMQP exchange name cannot be empty when AMQP URL is provided"))
		}
		if c.AMQPQueue == "" {
			errs = append(errs, errors.New("AMQP queue name cannot be empty when AMQP URL is provided"))
		}
	}

	if _, err := cron.ParseStandard(c.RecurringSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid recurring schedule '%s': %v", c.RecurringSchedule, err))
	}
	if c.RecurringMaxCatchUp < 1 || c.RecurringMaxCatchUp > 366 {
		errs = append(errs, fmt.Errorf("invalid recurring max catch-up %d: must be between 1 and 366", c.RecurringMaxCatchUp))
	}
	if c.ExportBackfillDays < 0 || c.ExportBackfillDays > 366 {
		errs = append(errs, fmt.Errorf("invalid export backfill %d: must be between 0 and 366 days", c.ExportBackfillDays))
	}
	if c.ReminderWindowDays < 0 || c.ReminderWindowDays > 60 {
		errs = append(errs, fmt.Errorf("invalid reminder window %d: must be between 0 and 60 days", c.ReminderWindowDays))
	}

	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.ShutdownTimeout < time.Second {
		errs = append(errs, fmt.Errorf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateExport checks the settings the ledger export worker needs on top
// of Validate.
func (c *Config) ValidateExport() error {
	var errs []error
	if c.DataBackend == BackendMemory {
		errs = append(errs, errors.New("DATA_BACKEND=memory keeps records private to one process; the ledger export worker needs sqlite or postgres"))
	}
	if c.AMQPURL == "" {
		errs = append(errs, errors.New("AMQP_URL is required for the ledger export worker"))
	}
	if strings.TrimSpace(c.GoogleSpreadsheetID) == "" {
		errs = append(errs, errors.New("GOOGLE_SPREADSHEET_ID is required for the ledger export worker"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
