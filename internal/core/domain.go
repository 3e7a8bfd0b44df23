package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeIn  TransactionType = "IN"
	TypeOut TransactionType = "OUT"
)

type (
	TransactionType string

	// Transaction is a single ledger entry. Amounts are always positive;
	// the direction is carried by Type. CreatedAt is stored in UTC and
	// interpreted in the configured reporting timezone.
	Transaction struct {
		ID          string          `json:"id"`
		OwnerID     string          `json:"owner_id"`
		Type        TransactionType `json:"type"`
		CategoryID  string          `json:"category_id,omitempty"` // empty means uncategorized
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	// Category is shared reference data, never scoped to an owner.
	Category struct {
		ID              string
		Name            string
		Description     string
		TransactionType TransactionType
	}

	// BudgetAllocation is the planned amount for one category in one period.
	BudgetAllocation struct {
		ID         string
		OwnerID    string
		Period     Period
		CategoryID string
		Amount     decimal.Decimal
	}

	// OpeningBalance is a manually recorded starting balance for a period.
	// At most one row exists per (owner, period). The amount may be negative.
	OpeningBalance struct {
		OwnerID string
		Period  Period
		Amount  decimal.Decimal
	}
)

var (
	ErrUnauthenticated        = errors.New("no resolvable owner")
	ErrInvalidRange           = errors.New("invalid date range")
	ErrOpeningBalanceNotFound = errors.New("opening balance not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrStoreUnavailable       = errors.New("ledger store unavailable")

	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyOwner       = errors.New("empty owner id")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidPeriod    = errors.New("invalid period")
)

func (t TransactionType) Valid() bool {
	return t == TypeIn || t == TypeOut
}

func (tx Transaction) Validate() error {
	if strings.TrimSpace(tx.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if !tx.Type.Valid() {
		return ErrInvalidType
	}
	if !tx.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(tx.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(tx.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if tx.CreatedAt.IsZero() {
		return errors.New("created_at cannot be zero")
	}
	return nil
}

func (b BudgetAllocation) Validate() error {
	if strings.TrimSpace(b.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if err := b.Period.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(b.CategoryID) == "" {
		return errors.New("empty category id")
	}
	if !b.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
