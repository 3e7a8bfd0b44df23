package export

import (
	"context"

	"tally/internal/core"
)

// CashflowWriter publishes a monthly cashflow series to an external sheet.
type CashflowWriter interface {
	WriteCashflow(ctx context.Context, ownerID string, points []core.CashflowPoint) error
}
