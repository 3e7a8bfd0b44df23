package storage

import (
	"context"
	"time"

	"tally/internal/core"
)

// TransactionFilter narrows a transaction query. Start/End form a half-open
// [Start, End) range on CreatedAt; nil means unbounded on that side (the
// analytics layer never passes unbounded ranges, but raw listing may).
type TransactionFilter struct {
	OwnerID    string
	Type       core.TransactionType // empty matches both IN and OUT
	CategoryID *string              // nil: any; pointer to "": uncategorized only
	Start      *time.Time
	End        *time.Time
}

// Store is the read side of the ledger, the only surface the analytics
// engine consumes. All amounts cross this boundary as exact decimals.
type Store interface {
	QueryTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
	QueryBudgetAllocations(ctx context.Context, ownerID string, period core.Period) ([]core.BudgetAllocation, error)
	// QueryOpeningBalance returns core.ErrOpeningBalanceNotFound when no row
	// exists for (owner, period). A zero balance is a different state.
	QueryOpeningBalance(ctx context.Context, ownerID string, period core.Period) (core.OpeningBalance, error)
	QueryCategories(ctx context.Context, typ core.TransactionType) ([]core.Category, error)
	// QueryOwners lists every owner with at least one transaction, sorted.
	// The periodic detection sweep iterates this set.
	QueryOwners(ctx context.Context) ([]string, error)
}

// Ledger adds the write side used by intake and budget endpoints.
type Ledger interface {
	Store

	CreateTransaction(ctx context.Context, tx core.Transaction) (string, error)
	UpdateTransaction(ctx context.Context, tx core.Transaction) error
	DeleteTransaction(ctx context.Context, ownerID, id string) error

	// CreateBudget writes the period's allocation set atomically: either
	// every allocation lands or none do.
	CreateBudget(ctx context.Context, ownerID string, period core.Period, allocations []core.BudgetAllocation) (string, error)

	SetOpeningBalance(ctx context.Context, ob core.OpeningBalance) error
}
