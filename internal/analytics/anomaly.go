package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/storage"
	"tally/internal/timewindow"
)

const (
	recentWindowDays   = 30
	baselineWindowDays = 90

	severityHighAt   = 80
	severityMediumAt = 50
)

// DetectorConfig carries the tunable business constants of the anomaly
// algorithm. Both are deliberate configuration, not universal truths.
type DetectorConfig struct {
	// BaselineFloor is the minimum baseline denominator. Categories with a
	// tiny or zero history would otherwise produce exaggerated deviations.
	BaselineFloor decimal.Decimal
	// ThresholdPercent is the deviation above which a category is reported.
	ThresholdPercent decimal.Decimal
}

// Detector compares each category's trailing 30-day spend against its
// historical monthly baseline. The baseline is recomputed on every request;
// it is a pure function of the ledger, not stored state.
type Detector struct {
	agg     *Aggregator
	store   storage.Store
	windows *timewindow.Resolver
	cfg     DetectorConfig
	clock   func() time.Time
}

func NewDetector(agg *Aggregator, store storage.Store, windows *timewindow.Resolver, cfg DetectorConfig) *Detector {
	return &Detector{
		agg:     agg,
		store:   store,
		windows: windows,
		cfg:     cfg,
		clock:   time.Now,
	}
}

func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// Detect returns the anomalous categories for an owner, largest deviation
// first. That ordering is load-bearing for the consuming "top anomalies"
// view.
//
// Per category:
//   - recent = sum of OUT spend over the last 30 days
//   - baseline = average of monthly sums over [now-90d, now-30d), across
//     however many of those months had data
//   - deviation = (recent - max(baseline, floor)) / max(baseline, floor) * 100,
//     rounded to 2 places; with no baseline history any recent spend is a
//     full-scale anomaly (deviation 100)
func (d *Detector) Detect(ctx context.Context, ownerID string) ([]core.Anomaly, error) {
	now := d.clock()
	recentStart := d.windows.ShiftDays(now, -recentWindowDays)
	baselineStart := d.windows.ShiftDays(now, -baselineWindowDays)

	var (
		recent   []core.CategoryTotal
		baseline map[string]map[core.Period]decimal.Decimal
		cats     []core.Category
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recent, err = d.agg.GroupByCategory(gctx, ownerID, core.TypeOut, recentStart, now)
		return err
	})
	g.Go(func() error {
		var err error
		baseline, err = d.agg.CategoryMonthlyTotals(gctx, ownerID, core.TypeOut, baselineStart, recentStart)
		return err
	})
	g.Go(func() error {
		var err error
		cats, err = d.store.QueryCategories(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detect anomalies: %w", err)
	}

	types := make(map[string]core.TransactionType, len(cats))
	for _, c := range cats {
		types[c.ID] = c.TransactionType
	}

	var out []core.Anomaly
	for _, row := range recent {
		avg, hasBaseline := baselineAverage(baseline[row.CategoryID])

		var deviation decimal.Decimal
		if hasBaseline {
			floor := avg
			if floor.LessThan(d.cfg.BaselineFloor) {
				floor = d.cfg.BaselineFloor
			}
			deviation = row.Total.Sub(floor).Div(floor).Mul(decimal.NewFromInt(100)).Round(2)
		} else {
			// No history at all: any spend registers full-scale.
			deviation = decimal.NewFromInt(100)
		}

		if !deviation.GreaterThan(d.cfg.ThresholdPercent) {
			continue
		}

		txType := types[row.CategoryID]
		if txType == "" {
			txType = core.TypeOut
		}

		out = append(out, core.Anomaly{
			CategoryID:        row.CategoryID,
			Name:              row.CategoryName,
			TransactionType:   txType,
			TotalRecent:       row.Total,
			AvgBaseline:       avg,
			LastTransactionAt: row.LastAt,
			DeviationPercent:  deviation,
			Severity:          severityOf(deviation),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeviationPercent.Equal(out[j].DeviationPercent) {
			return out[i].DeviationPercent.GreaterThan(out[j].DeviationPercent)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// MarkReport returns every transaction within the last intervalDays, each
// flagged with whether its category is currently anomalous. The flag set
// comes from Detect, so this report and the anomaly list can never
// disagree on which categories are anomalous.
func (d *Detector) MarkReport(ctx context.Context, ownerID string, intervalDays int) ([]core.FlaggedTransaction, error) {
	if intervalDays < 1 {
		return nil, fmt.Errorf("interval_days %d: %w", intervalDays, core.ErrInvalidRange)
	}

	anomalies, err := d.Detect(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	anomalous := make(map[string]bool, len(anomalies))
	for _, a := range anomalies {
		anomalous[a.CategoryID] = true
	}

	now := d.clock()
	start := d.windows.ShiftDays(now, -intervalDays)
	txs, err := d.store.QueryTransactions(ctx, storage.TransactionFilter{
		OwnerID: ownerID,
		Start:   &start,
		End:     &now,
	})
	if err != nil {
		return nil, fmt.Errorf("query transactions for mark report: %w", err)
	}

	out := make([]core.FlaggedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = core.FlaggedTransaction{
			Transaction: tx,
			IsAnomaly:   anomalous[tx.CategoryID],
		}
	}
	return out, nil
}

// baselineAverage averages the monthly sums across months that had data.
// Zero months with data means the baseline is undefined, which is distinct
// from a zero baseline.
func baselineAverage(months map[core.Period]decimal.Decimal) (decimal.Decimal, bool) {
	if len(months) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, total := range months {
		sum = sum.Add(total)
	}
	return sum.Div(decimal.NewFromInt(int64(len(months)))), true
}

// severityOf tiers a deviation. Tiers are evaluated in descending-threshold
// order, first match wins, so every anomaly lands in exactly one tier.
func severityOf(deviation decimal.Decimal) core.Severity {
	switch {
	case deviation.GreaterThanOrEqual(decimal.NewFromInt(severityHighAt)):
		return core.SeverityHigh
	case deviation.GreaterThanOrEqual(decimal.NewFromInt(severityMediumAt)):
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}
