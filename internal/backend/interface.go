package backend

import (
	"context"

	"budget/internal/core"
	"budget/internal/services"

	"github.com/google/uuid"
)

// Store is the persistence every backend provides to the services.
type Store interface {
	services.LedgerStore
	services.TransactionRepository
	services.IncomeSourceRepository
	services.RecurringExpenseRepository
	ListLedgerUsers(ctx context.Context, from, to core.Date) ([]uuid.UUID, error)
	Close() error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Store Store
	// Publisher is nil when AMQP is not configured or unreachable.
	Publisher services.LedgerPublisher
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string
	PostgresDSN  string

	// Optional ledger event publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
