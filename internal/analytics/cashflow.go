package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/storage"
	"tally/internal/timewindow"
)

const (
	dailyBuckets   = 30
	weeklyBuckets  = 12
	monthlyBuckets = 12
)

// Calculator produces net cashflow, average-spending, saving-rate, and
// cashflow-overtime series from aggregated ledger data.
type Calculator struct {
	agg     *Aggregator
	store   storage.Store
	windows *timewindow.Resolver
	clock   func() time.Time
}

func NewCalculator(agg *Aggregator, store storage.Store, windows *timewindow.Resolver) *Calculator {
	return &Calculator{
		agg:     agg,
		store:   store,
		windows: windows,
		clock:   time.Now,
	}
}

func (c *Calculator) WithClock(clock func() time.Time) *Calculator {
	c.clock = clock
	return c
}

// Cashflow returns the current-month position: opening balance + income
// - expenses. A missing opening balance is an error, not a zero: a silent
// zero would misrepresent net worth.
func (c *Calculator) Cashflow(ctx context.Context, ownerID string) (core.Cashflow, error) {
	now := c.clock()
	w := c.windows.Resolve(now)
	monthEnd := c.windows.ShiftMonths(w.MonthStart, 1)
	period := c.windows.PeriodOf(now)

	var (
		income, expenses decimal.Decimal
		opening          core.OpeningBalance
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		income, err = c.agg.Sum(gctx, ownerID, core.TypeIn, nil, w.MonthStart, monthEnd)
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = c.agg.Sum(gctx, ownerID, core.TypeOut, nil, w.MonthStart, monthEnd)
		return err
	})
	g.Go(func() error {
		var err error
		opening, err = c.store.QueryOpeningBalance(gctx, ownerID, period)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Cashflow{}, fmt.Errorf("cashflow for %s: %w", period, err)
	}

	return core.Cashflow{
		Period:   period,
		Income:   income,
		Expenses: expenses,
		Net:      opening.Amount.Add(income).Sub(expenses),
	}, nil
}

// AverageSpending averages OUT-type spend over trailing windows of 30 days,
// 12 weeks, and 12 months, each paired with the window immediately
// preceding it. Buckets with no transactions contribute zero, so the
// divisor is always the fixed bucket count.
func (c *Calculator) AverageSpending(ctx context.Context, ownerID string) (core.AverageSpending, error) {
	now := c.clock()

	dayEnd := c.windows.NextDayStart(now)
	dayStart := c.windows.ShiftDays(dayEnd, -dailyBuckets)
	dayPrevStart := c.windows.ShiftDays(dayStart, -dailyBuckets)

	weekEnd := c.windows.ShiftDays(c.windows.WeekStart(now), 7)
	weekStart := c.windows.ShiftDays(weekEnd, -7*weeklyBuckets)
	weekPrevStart := c.windows.ShiftDays(weekStart, -7*weeklyBuckets)

	monthEnd := c.windows.ShiftMonths(c.windows.MonthStart(now), 1)
	monthStart := c.windows.ShiftMonths(monthEnd, -monthlyBuckets)
	monthPrevStart := c.windows.ShiftMonths(monthStart, -monthlyBuckets)

	sums := make([]decimal.Decimal, 6)
	ranges := []struct {
		start, end time.Time
	}{
		{dayStart, dayEnd},
		{dayPrevStart, dayStart},
		{weekStart, weekEnd},
		{weekPrevStart, weekStart},
		{monthStart, monthEnd},
		{monthPrevStart, monthStart},
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, rng := range ranges {
		g.Go(func() error {
			total, err := c.agg.Sum(gctx, ownerID, core.TypeOut, nil, rng.start, rng.end)
			if err != nil {
				return err
			}
			sums[i] = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.AverageSpending{}, fmt.Errorf("average spending: %w", err)
	}

	avg := func(total decimal.Decimal, buckets int) decimal.Decimal {
		return total.Div(decimal.NewFromInt(int64(buckets))).Round(2)
	}

	return core.AverageSpending{
		Daily:   core.AverageValue{Value: avg(sums[0], dailyBuckets), Previous: avg(sums[1], dailyBuckets)},
		Weekly:  core.AverageValue{Value: avg(sums[2], weeklyBuckets), Previous: avg(sums[3], weeklyBuckets)},
		Monthly: core.AverageValue{Value: avg(sums[4], monthlyBuckets), Previous: avg(sums[5], monthlyBuckets)},
	}, nil
}

// SavingRate returns, for each of the last monthsBack calendar months with
// at least one transaction in the savings category, the share of income
// moved to savings. The rate is clamped to [0, 100] and is 0 whenever
// income is zero or negative; a divide-by-zero is a legitimate business
// state here, never an error.
func (c *Calculator) SavingRate(ctx context.Context, ownerID, savingsCategoryID string, monthsBack int) ([]core.SavingRatePoint, error) {
	income, err := c.agg.GroupByMonth(ctx, ownerID, core.TypeIn, monthsBack, MonthlyOptions{})
	if err != nil {
		return nil, fmt.Errorf("saving rate income series: %w", err)
	}
	saving, err := c.agg.GroupByMonth(ctx, ownerID, "", monthsBack, MonthlyOptions{CategoryID: savingsCategoryID})
	if err != nil {
		return nil, fmt.Errorf("saving rate savings series: %w", err)
	}

	var out []core.SavingRatePoint
	for i := range saving {
		if saving[i].Count == 0 {
			continue
		}
		point := core.SavingRatePoint{
			Month:       saving[i].Month,
			IncomeTotal: income[i].Total,
			SavingTotal: saving[i].Total,
			SavingRate:  decimal.Zero,
		}
		if income[i].Total.IsPositive() {
			rate := saving[i].Total.Div(income[i].Total).Mul(decimal.NewFromInt(100)).Round(2)
			point.SavingRate = clampRate(rate)
		}
		out = append(out, point)
	}
	return out, nil
}

// CashflowOvertime returns the monthly income/expense/cashflow series.
// Expense totals skip the excluded categories (transfers to savings are
// not true expenses). Months with neither income nor expense are dropped:
// no activity is not worth charting. This is the one place zero rows are
// filtered after the fact.
func (c *Calculator) CashflowOvertime(ctx context.Context, ownerID string, monthsBack int, excludedCategoryIDs []string) ([]core.CashflowPoint, error) {
	income, err := c.agg.GroupByMonth(ctx, ownerID, core.TypeIn, monthsBack, MonthlyOptions{})
	if err != nil {
		return nil, fmt.Errorf("cashflow overtime income series: %w", err)
	}
	expense, err := c.agg.GroupByMonth(ctx, ownerID, core.TypeOut, monthsBack, MonthlyOptions{ExcludeCategoryIDs: excludedCategoryIDs})
	if err != nil {
		return nil, fmt.Errorf("cashflow overtime expense series: %w", err)
	}

	var out []core.CashflowPoint
	for i := range income {
		if income[i].Total.IsZero() && expense[i].Total.IsZero() {
			continue
		}
		out = append(out, core.CashflowPoint{
			Month:        income[i].Month,
			IncomeTotal:  income[i].Total,
			ExpenseTotal: expense[i].Total,
			Cashflow:     income[i].Total.Sub(expense[i].Total),
		})
	}
	return out, nil
}

func clampRate(rate decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if rate.IsNegative() {
		return decimal.Zero
	}
	if rate.GreaterThan(hundred) {
		return hundred
	}
	return rate
}
