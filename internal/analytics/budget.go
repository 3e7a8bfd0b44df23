package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/storage"
	"tally/internal/timewindow"
)

// Comparator joins planned budget allocations against actual spend for a
// period.
type Comparator struct {
	agg     *Aggregator
	store   storage.Store
	windows *timewindow.Resolver
}

func NewComparator(agg *Aggregator, store storage.Store, windows *timewindow.Resolver) *Comparator {
	return &Comparator{agg: agg, store: store, windows: windows}
}

// Compare builds the budget-variance report for (owner, period). Both
// category slices cover the union of planned and spent categories: a plan
// with no spend shows actual = 0, spend with no plan shows planned = 0.
// That surfaces overspending and unplanned-category spending alike.
//
// Variance is planned - actual (positive = under budget). The variance
// percent is actual / planned * 100 and is defined as 0 when nothing was
// planned: an owner with no budget set is "0% used", not a division error.
func (c *Comparator) Compare(ctx context.Context, ownerID string, period core.Period) (core.BudgetComparison, error) {
	if err := period.Validate(); err != nil {
		return core.BudgetComparison{}, err
	}

	allocations, err := c.store.QueryBudgetAllocations(ctx, ownerID, period)
	if err != nil {
		return core.BudgetComparison{}, fmt.Errorf("query budget allocations: %w", err)
	}

	start, end := period.Bounds(c.windows.Location())
	actual, err := c.agg.GroupByCategory(ctx, ownerID, core.TypeOut, start, end)
	if err != nil {
		return core.BudgetComparison{}, fmt.Errorf("aggregate actual spend: %w", err)
	}

	cats, err := c.store.QueryCategories(ctx, "")
	if err != nil {
		return core.BudgetComparison{}, fmt.Errorf("query categories: %w", err)
	}
	names := make(map[string]string, len(cats))
	for _, cat := range cats {
		names[cat.ID] = cat.Name
	}
	nameOf := func(id string) string {
		if n := names[id]; n != "" {
			return n
		}
		return UncategorizedLabel
	}

	planned := make(map[string]decimal.Decimal, len(allocations))
	plannedTotal := decimal.Zero
	for _, a := range allocations {
		planned[a.CategoryID] = planned[a.CategoryID].Add(a.Amount)
		plannedTotal = plannedTotal.Add(a.Amount)
	}

	spent := make(map[string]decimal.Decimal, len(actual))
	actualTotal := decimal.Zero
	for _, row := range actual {
		spent[row.CategoryID] = row.Total
		actualTotal = actualTotal.Add(row.Total)
	}

	// Union of both sides, so categories missing on one side still appear.
	union := make(map[string]bool, len(planned)+len(spent))
	for id := range planned {
		union[id] = true
	}
	for id := range spent {
		union[id] = true
	}

	var plannedRows, actualRows []core.CategoryTotal
	for id := range union {
		plannedRows = append(plannedRows, core.CategoryTotal{
			CategoryID:   id,
			CategoryName: nameOf(id),
			Total:        planned[id], // map miss is decimal zero
		})
		actualRows = append(actualRows, core.CategoryTotal{
			CategoryID:   id,
			CategoryName: nameOf(id),
			Total:        spent[id],
		})
	}
	byName := func(rows []core.CategoryTotal) {
		sort.Slice(rows, func(i, j int) bool { return rows[i].CategoryName < rows[j].CategoryName })
	}
	byName(plannedRows)
	byName(actualRows)

	variancePercent := decimal.Zero
	if plannedTotal.IsPositive() {
		variancePercent = actualTotal.Div(plannedTotal).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return core.BudgetComparison{
		Period:            period,
		PlannedTotal:      plannedTotal,
		ActualTotal:       actualTotal,
		Variance:          plannedTotal.Sub(actualTotal),
		VariancePercent:   variancePercent,
		PlannedByCategory: plannedRows,
		ActualByCategory:  actualRows,
	}, nil
}
