package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

func mustCreate(t *testing.T, s *MemoryStore, tx core.Transaction) string {
	t.Helper()
	id, err := s.CreateTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	return id
}

func sampleTx(owner string, at time.Time) core.Transaction {
	return core.Transaction{
		OwnerID:     owner,
		Type:        core.TypeOut,
		CategoryID:  "food",
		Amount:      decimal.NewFromInt(100),
		Description: "groceries",
		CreatedAt:   at,
	}
}

func TestQueryTransactions_Filters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	mustCreate(t, s, sampleTx("o1", base))
	inTx := sampleTx("o1", base.Add(time.Hour))
	inTx.Type = core.TypeIn
	inTx.CategoryID = "salary"
	mustCreate(t, s, inTx)
	uncat := sampleTx("o1", base.Add(2*time.Hour))
	uncat.CategoryID = ""
	mustCreate(t, s, uncat)
	mustCreate(t, s, sampleTx("o2", base))

	tests := []struct {
		name   string
		filter TransactionFilter
		want   int
	}{
		{"owner only", TransactionFilter{OwnerID: "o1"}, 3},
		{"other owner invisible", TransactionFilter{OwnerID: "o2"}, 1},
		{"by type", TransactionFilter{OwnerID: "o1", Type: core.TypeOut}, 2},
		{"by category", TransactionFilter{OwnerID: "o1", CategoryID: ptr("food")}, 1},
		{"uncategorized only", TransactionFilter{OwnerID: "o1", CategoryID: ptr("")}, 1},
		{"unknown owner", TransactionFilter{OwnerID: "nobody"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryTransactions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryTransactions() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("QueryTransactions() returned %d rows, want %d", len(got), tt.want)
			}
		})
	}
}

func TestQueryTransactions_HalfOpenRange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	mustCreate(t, s, sampleTx("o1", start))                     // at start: included
	mustCreate(t, s, sampleTx("o1", end.Add(-time.Nanosecond))) // just before end: included
	mustCreate(t, s, sampleTx("o1", end))                       // at end: excluded
	mustCreate(t, s, sampleTx("o1", start.Add(-time.Second)))   // before start: excluded

	got, err := s.QueryTransactions(ctx, TransactionFilter{OwnerID: "o1", Start: &start, End: &end})
	if err != nil {
		t.Fatalf("QueryTransactions() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("QueryTransactions() returned %d rows, want 2 ([start, end) semantics)", len(got))
	}
}

func TestUpdateTransaction(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	id := mustCreate(t, s, sampleTx("o1", at))

	updated := sampleTx("o1", at)
	updated.ID = id
	updated.Amount = decimal.NewFromInt(250)
	if err := s.UpdateTransaction(ctx, updated); err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}

	got, err := s.QueryTransactions(ctx, TransactionFilter{OwnerID: "o1"})
	if err != nil {
		t.Fatalf("QueryTransactions() error = %v", err)
	}
	if len(got) != 1 || !got[0].Amount.Equal(decimal.NewFromInt(250)) {
		t.Errorf("after update got %+v, want single row with amount 250", got)
	}
}

func TestUpdateTransaction_NotFound(t *testing.T) {
	s := NewMemoryStore()
	missing := sampleTx("o1", time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	missing.ID = "nope"
	if err := s.UpdateTransaction(context.Background(), missing); !errors.Is(err, core.ErrTransactionNotFound) {
		t.Fatalf("UpdateTransaction() error = %v, want ErrTransactionNotFound", err)
	}
}

func TestUpdateTransaction_WrongOwner(t *testing.T) {
	s := NewMemoryStore()
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	id := mustCreate(t, s, sampleTx("o1", at))

	other := sampleTx("o2", at)
	other.ID = id
	if err := s.UpdateTransaction(context.Background(), other); !errors.Is(err, core.ErrTransactionNotFound) {
		t.Fatalf("UpdateTransaction() across owners error = %v, want ErrTransactionNotFound", err)
	}
}

func TestDeleteTransaction(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	id := mustCreate(t, s, sampleTx("o1", at))

	if err := s.DeleteTransaction(ctx, "o1", id); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}
	got, _ := s.QueryTransactions(ctx, TransactionFilter{OwnerID: "o1"})
	if len(got) != 0 {
		t.Errorf("after delete got %d rows, want 0", len(got))
	}
	// Deleting again is a no-op, not an error.
	if err := s.DeleteTransaction(ctx, "o1", id); err != nil {
		t.Errorf("second DeleteTransaction() error = %v, want nil", err)
	}
}

func TestCreateBudget_ReplacesAllocations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	period := core.Period("2026-02")

	if _, err := s.CreateBudget(ctx, "o1", period, []core.BudgetAllocation{
		{CategoryID: "food", Amount: decimal.NewFromInt(500)},
	}); err != nil {
		t.Fatalf("CreateBudget() error = %v", err)
	}
	if _, err := s.CreateBudget(ctx, "o1", period, []core.BudgetAllocation{
		{CategoryID: "food", Amount: decimal.NewFromInt(600)},
		{CategoryID: "rent", Amount: decimal.NewFromInt(1000)},
	}); err != nil {
		t.Fatalf("CreateBudget() error = %v", err)
	}

	got, err := s.QueryBudgetAllocations(ctx, "o1", period)
	if err != nil {
		t.Fatalf("QueryBudgetAllocations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("allocations = %d, want 2 (second write replaces the first)", len(got))
	}
	for _, a := range got {
		if a.OwnerID != "o1" || a.Period != period {
			t.Errorf("allocation %+v missing owner/period stamp", a)
		}
		if a.ID == "" {
			t.Errorf("allocation for %s has no generated id", a.CategoryID)
		}
	}
}

func TestCreateBudget_InvalidAllocationRejectsWholeSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	period := core.Period("2026-02")

	_, err := s.CreateBudget(ctx, "o1", period, []core.BudgetAllocation{
		{CategoryID: "food", Amount: decimal.NewFromInt(500)},
		{CategoryID: "rent", Amount: decimal.NewFromInt(-5)},
	})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("CreateBudget() error = %v, want ErrInvalidAmount", err)
	}

	got, _ := s.QueryBudgetAllocations(ctx, "o1", period)
	if len(got) != 0 {
		t.Errorf("allocations = %d after failed write, want 0 (atomic)", len(got))
	}
}

func TestOpeningBalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	period := core.Period("2026-02")

	if _, err := s.QueryOpeningBalance(ctx, "o1", period); !errors.Is(err, core.ErrOpeningBalanceNotFound) {
		t.Fatalf("QueryOpeningBalance() error = %v, want ErrOpeningBalanceNotFound", err)
	}

	if err := s.SetOpeningBalance(ctx, core.OpeningBalance{
		OwnerID: "o1",
		Period:  period,
		Amount:  decimal.NewFromInt(-150),
	}); err != nil {
		t.Fatalf("SetOpeningBalance() error = %v", err)
	}

	got, err := s.QueryOpeningBalance(ctx, "o1", period)
	if err != nil {
		t.Fatalf("QueryOpeningBalance() error = %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(-150)) {
		t.Errorf("amount = %s, want -150 (negative balances allowed)", got.Amount)
	}

	// Upsert overwrites.
	if err := s.SetOpeningBalance(ctx, core.OpeningBalance{
		OwnerID: "o1",
		Period:  period,
		Amount:  decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("SetOpeningBalance() error = %v", err)
	}
	got, _ = s.QueryOpeningBalance(ctx, "o1", period)
	if !got.Amount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("amount after upsert = %s, want 200", got.Amount)
	}
}

func TestQueryCategories_ByType(t *testing.T) {
	s := NewMemoryStore()
	s.SeedCategories([]core.Category{
		{ID: "salary", Name: "Salary", TransactionType: core.TypeIn},
		{ID: "food", Name: "Food", TransactionType: core.TypeOut},
	})

	got, err := s.QueryCategories(context.Background(), core.TypeOut)
	if err != nil {
		t.Fatalf("QueryCategories() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "food" {
		t.Errorf("QueryCategories(OUT) = %+v, want only food", got)
	}
}

func TestQueryOwners(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.QueryOwners(ctx)
	if err != nil {
		t.Fatalf("QueryOwners() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("QueryOwners() on empty store = %v, want none", got)
	}

	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	mustCreate(t, s, sampleTx("zoe", at))
	mustCreate(t, s, sampleTx("amy", at))
	mustCreate(t, s, sampleTx("zoe", at.Add(time.Hour))) // duplicate owner

	got, err = s.QueryOwners(ctx)
	if err != nil {
		t.Fatalf("QueryOwners() error = %v", err)
	}
	want := []string{"amy", "zoe"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("QueryOwners() = %v, want %v (distinct, sorted)", got, want)
	}
}

func ptr(s string) *string { return &s }
