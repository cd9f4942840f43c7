package sheets

import (
	"context"

	"budget/internal/core"
)

// Ports for outbound adapters.
type (
	// BalanceExporter writes a daily ledger record to an external sheet.
	// Exporting the same key twice updates the existing row; an older
	// version never overwrites a newer one.
	BalanceExporter interface {
		ExportBalance(ctx context.Context, rec core.BalanceRecord) error
	}
)
