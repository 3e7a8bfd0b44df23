// Package analytics turns the raw ledger into time-windowed aggregates,
// budget-variance comparisons, and spending-anomaly signals. Every
// operation is a pure read over the store followed by arithmetic; there is
// no shared mutable state between requests.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/storage"
	"tally/internal/timewindow"
)

// UncategorizedLabel is the fallback name for transactions without a
// category. They are surfaced explicitly, never dropped from totals.
const UncategorizedLabel = "Uncategorized"

// maxMonthsBack caps month-indexed series. 120 months matches the export
// ceiling; it keeps the zero-fill allocation and the ledger scan bounded
// no matter what the caller asks for.
const maxMonthsBack = 120

// Aggregator is the single source of truth for sums, counts, and group-bys.
// Consumers never re-derive totals from raw rows.
type Aggregator struct {
	store        storage.Store
	windows      *timewindow.Resolver
	maxRangeDays int
	clock        func() time.Time
}

func NewAggregator(store storage.Store, windows *timewindow.Resolver, maxRangeDays int) *Aggregator {
	return &Aggregator{
		store:        store,
		windows:      windows,
		maxRangeDays: maxRangeDays,
		clock:        time.Now,
	}
}

// WithClock fixes the aggregator's notion of "now". Tests use this; the
// zero behavior is time.Now.
func (a *Aggregator) WithClock(clock func() time.Time) *Aggregator {
	a.clock = clock
	return a
}

// checkRange enforces finite, well-ordered ranges. Spans over the
// configured maximum are clamped to the trailing window rather than
// scanning an unbounded slice of the ledger.
func (a *Aggregator) checkRange(ctx context.Context, start, end time.Time) (time.Time, time.Time, error) {
	if start.IsZero() || end.IsZero() {
		return start, end, fmt.Errorf("unbounded range: %w", core.ErrInvalidRange)
	}
	if !start.Before(end) {
		return start, end, fmt.Errorf("start %s not before end %s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), core.ErrInvalidRange)
	}
	if a.maxRangeDays > 0 {
		floor := a.windows.ShiftDays(end, -a.maxRangeDays)
		if start.Before(floor) {
			slog.WarnContext(ctx, "Range clamped to maximum span",
				"requested_start", start.Format(time.RFC3339),
				"clamped_start", floor.Format(time.RFC3339),
				"max_range_days", a.maxRangeDays)
			start = floor
		}
	}
	return start, end, nil
}

// Sum totals transactions in [start, end). Type and category narrow the
// query when non-empty / non-nil.
func (a *Aggregator) Sum(ctx context.Context, ownerID string, typ core.TransactionType, categoryID *string, start, end time.Time) (decimal.Decimal, error) {
	start, end, err := a.checkRange(ctx, start, end)
	if err != nil {
		return decimal.Zero, err
	}

	txs, err := a.store.QueryTransactions(ctx, storage.TransactionFilter{
		OwnerID:    ownerID,
		Type:       typ,
		CategoryID: categoryID,
		Start:      &start,
		End:        &end,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("query transactions for sum: %w", err)
	}

	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Amount)
	}
	return total, nil
}

// Count returns the number of transactions in [start, end).
func (a *Aggregator) Count(ctx context.Context, ownerID string, start, end time.Time) (int, error) {
	start, end, err := a.checkRange(ctx, start, end)
	if err != nil {
		return 0, err
	}
	txs, err := a.store.QueryTransactions(ctx, storage.TransactionFilter{
		OwnerID: ownerID,
		Start:   &start,
		End:     &end,
	})
	if err != nil {
		return 0, fmt.Errorf("query transactions for count: %w", err)
	}
	return len(txs), nil
}

// GroupByCategory sums per category for [start, end). Rows with zero total
// do not occur here (a category only appears when it has transactions);
// filtering zero rows is the caller's business, not the aggregator's.
func (a *Aggregator) GroupByCategory(ctx context.Context, ownerID string, typ core.TransactionType, start, end time.Time) ([]core.CategoryTotal, error) {
	start, end, err := a.checkRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	txs, err := a.store.QueryTransactions(ctx, storage.TransactionFilter{
		OwnerID: ownerID,
		Type:    typ,
		Start:   &start,
		End:     &end,
	})
	if err != nil {
		return nil, fmt.Errorf("query transactions for category group: %w", err)
	}

	names, err := a.categoryNames(ctx)
	if err != nil {
		return nil, err
	}

	byCat := make(map[string]*core.CategoryTotal)
	for _, tx := range txs {
		row, ok := byCat[tx.CategoryID]
		if !ok {
			name := names[tx.CategoryID]
			if name == "" {
				name = UncategorizedLabel
			}
			row = &core.CategoryTotal{
				CategoryID:   tx.CategoryID,
				CategoryName: name,
				Total:        decimal.Zero,
			}
			byCat[tx.CategoryID] = row
		}
		row.Total = row.Total.Add(tx.Amount)
		row.Count++
		if tx.CreatedAt.After(row.LastAt) {
			row.LastAt = tx.CreatedAt
		}
	}

	out := make([]core.CategoryTotal, 0, len(byCat))
	for _, row := range byCat {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].CategoryName < out[j].CategoryName
	})
	return out, nil
}

// GroupByDay sums per calendar day in the reporting timezone for
// [start, end). Only days with transactions are returned; callers that need
// a fixed bucket count zero-fill on their side.
func (a *Aggregator) GroupByDay(ctx context.Context, ownerID string, typ core.TransactionType, start, end time.Time) ([]core.DayTotal, error) {
	start, end, err := a.checkRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	txs, err := a.store.QueryTransactions(ctx, storage.TransactionFilter{
		OwnerID: ownerID,
		Type:    typ,
		Start:   &start,
		End:     &end,
	})
	if err != nil {
		return nil, fmt.Errorf("query transactions for day group: %w", err)
	}

	byDay := make(map[string]*core.DayTotal)
	for _, tx := range txs {
		key := a.windows.DayKey(tx.CreatedAt)
		row, ok := byDay[key]
		if !ok {
			row = &core.DayTotal{Day: key, Total: decimal.Zero}
			byDay[key] = row
		}
		row.Total = row.Total.Add(tx.Amount)
		row.Count++
	}

	out := make([]core.DayTotal, 0, len(byDay))
	for _, row := range byDay {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// MonthlyOptions narrows a GroupByMonth query.
type MonthlyOptions struct {
	CategoryID         string   // only this category when non-empty
	ExcludeCategoryIDs []string // skip these categories
}

// GroupByMonth sums per calendar month for the monthsBack months ending at
// the current month. It always returns exactly monthsBack rows (after
// clamping to maxMonthsBack), oldest first; months with no transactions
// carry a zero total, so chart series have no gaps.
func (a *Aggregator) GroupByMonth(ctx context.Context, ownerID string, typ core.TransactionType, monthsBack int, opt MonthlyOptions) ([]core.MonthTotal, error) {
	if monthsBack < 1 {
		return nil, fmt.Errorf("months_back %d: %w", monthsBack, core.ErrInvalidRange)
	}
	if monthsBack > maxMonthsBack {
		slog.WarnContext(ctx, "Month span clamped to maximum",
			"requested_months", monthsBack,
			"max_months", maxMonthsBack)
		monthsBack = maxMonthsBack
	}

	now := a.clock()
	current := a.windows.PeriodOf(now)
	first := current.AddMonths(-(monthsBack - 1))

	loc := a.windows.Location()
	start := first.Start(loc)
	_, end := current.Bounds(loc)

	txs, err := a.store.QueryTransactions(ctx, storage.TransactionFilter{
		OwnerID: ownerID,
		Type:    typ,
		Start:   &start,
		End:     &end,
	})
	if err != nil {
		return nil, fmt.Errorf("query transactions for month group: %w", err)
	}

	excluded := make(map[string]bool, len(opt.ExcludeCategoryIDs))
	for _, id := range opt.ExcludeCategoryIDs {
		excluded[id] = true
	}

	byMonth := make(map[core.Period]*core.MonthTotal, monthsBack)
	out := make([]core.MonthTotal, monthsBack)
	for i := 0; i < monthsBack; i++ {
		p := first.AddMonths(i)
		out[i] = core.MonthTotal{Month: p, Total: decimal.Zero}
		byMonth[p] = &out[i]
	}

	for _, tx := range txs {
		if opt.CategoryID != "" && tx.CategoryID != opt.CategoryID {
			continue
		}
		if excluded[tx.CategoryID] {
			continue
		}
		row, ok := byMonth[a.windows.PeriodOf(tx.CreatedAt)]
		if !ok {
			continue
		}
		row.Total = row.Total.Add(tx.Amount)
		row.Count++
	}

	return out, nil
}

// CategoryMonthlyTotals returns, per category, the sum for each calendar
// month that had transactions in [start, end). The anomaly baseline is the
// average of these monthly sums; months without data are absent on purpose
// so the average runs over months-with-data only.
func (a *Aggregator) CategoryMonthlyTotals(ctx context.Context, ownerID string, typ core.TransactionType, start, end time.Time) (map[string]map[core.Period]decimal.Decimal, error) {
	start, end, err := a.checkRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	txs, err := a.store.QueryTransactions(ctx, storage.TransactionFilter{
		OwnerID: ownerID,
		Type:    typ,
		Start:   &start,
		End:     &end,
	})
	if err != nil {
		return nil, fmt.Errorf("query transactions for category-month totals: %w", err)
	}

	out := make(map[string]map[core.Period]decimal.Decimal)
	for _, tx := range txs {
		months, ok := out[tx.CategoryID]
		if !ok {
			months = make(map[core.Period]decimal.Decimal)
			out[tx.CategoryID] = months
		}
		p := a.windows.PeriodOf(tx.CreatedAt)
		months[p] = months[p].Add(tx.Amount)
	}
	return out, nil
}

// CountByDay counts transactions (both types) per calendar day in [start, end).
func (a *Aggregator) CountByDay(ctx context.Context, ownerID string, start, end time.Time) ([]core.DayCount, error) {
	start, end, err := a.checkRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	txs, err := a.store.QueryTransactions(ctx, storage.TransactionFilter{
		OwnerID: ownerID,
		Start:   &start,
		End:     &end,
	})
	if err != nil {
		return nil, fmt.Errorf("query transactions for day counts: %w", err)
	}

	counts := make(map[string]int)
	for _, tx := range txs {
		counts[a.windows.DayKey(tx.CreatedAt)]++
	}

	out := make([]core.DayCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, core.DayCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (a *Aggregator) categoryNames(ctx context.Context) (map[string]string, error) {
	cats, err := a.store.QueryCategories(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names, nil
}
