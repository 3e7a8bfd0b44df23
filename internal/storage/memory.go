package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tally/internal/core"
)

// MemoryStore is an in-memory Ledger used by tests and the memory backend.
type MemoryStore struct {
	mu           sync.Mutex
	transactions []core.Transaction
	categories   []core.Category
	budgets      map[string][]core.BudgetAllocation // key: owner + "/" + period
	balances     map[string]core.OpeningBalance     // key: owner + "/" + period
}

var _ Ledger = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		budgets:  make(map[string][]core.BudgetAllocation),
		balances: make(map[string]core.OpeningBalance),
	}
}

// SeedCategories replaces the shared category reference data.
func (s *MemoryStore) SeedCategories(cats []core.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append([]core.Category(nil), cats...)
}

func (s *MemoryStore) QueryTransactions(_ context.Context, f TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, tx := range s.transactions {
		if tx.OwnerID != f.OwnerID {
			continue
		}
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if f.CategoryID != nil && tx.CategoryID != *f.CategoryID {
			continue
		}
		if f.Start != nil && tx.CreatedAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && !tx.CreatedAt.Before(*f.End) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) QueryBudgetAllocations(_ context.Context, ownerID string, period core.Period) ([]core.BudgetAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allocs := s.budgets[budgetKey(ownerID, period)]
	return append([]core.BudgetAllocation(nil), allocs...), nil
}

func (s *MemoryStore) QueryOpeningBalance(_ context.Context, ownerID string, period core.Period) (core.OpeningBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ob, ok := s.balances[budgetKey(ownerID, period)]
	if !ok {
		return core.OpeningBalance{}, core.ErrOpeningBalanceNotFound
	}
	return ob, nil
}

func (s *MemoryStore) QueryCategories(_ context.Context, typ core.TransactionType) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.categories {
		if typ != "" && c.TransactionType != typ {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) QueryOwners(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, tx := range s.transactions {
		if !seen[tx.OwnerID] {
			seen[tx.OwnerID] = true
			out = append(out, tx.OwnerID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) CreateTransaction(_ context.Context, tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	s.transactions = append(s.transactions, tx)
	return tx.ID, nil
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.transactions {
		if cur.ID == tx.ID && cur.OwnerID == tx.OwnerID {
			tx.CreatedAt = tx.CreatedAt.UTC()
			s.transactions[i] = tx
			return nil
		}
	}
	return core.ErrTransactionNotFound
}

func (s *MemoryStore) DeleteTransaction(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.transactions {
		if cur.ID == id && cur.OwnerID == ownerID {
			s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) CreateBudget(_ context.Context, ownerID string, period core.Period, allocations []core.BudgetAllocation) (string, error) {
	// Validate the whole set before touching state so the write stays atomic.
	for i := range allocations {
		allocations[i].OwnerID = ownerID
		allocations[i].Period = period
		if allocations[i].ID == "" {
			allocations[i].ID = uuid.NewString()
		}
		if err := allocations[i].Validate(); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[budgetKey(ownerID, period)] = append([]core.BudgetAllocation(nil), allocations...)
	return uuid.NewString(), nil
}

func (s *MemoryStore) SetOpeningBalance(_ context.Context, ob core.OpeningBalance) error {
	if strings.TrimSpace(ob.OwnerID) == "" {
		return core.ErrEmptyOwner
	}
	if err := ob.Period.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[budgetKey(ob.OwnerID, ob.Period)] = ob
	return nil
}

func budgetKey(ownerID string, period core.Period) string {
	return ownerID + "/" + period.String()
}
