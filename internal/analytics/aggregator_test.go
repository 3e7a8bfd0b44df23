package analytics

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/storage"
	"tally/internal/timewindow"
)

var testNow = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func testResolver(t *testing.T) *timewindow.Resolver {
	t.Helper()
	r, err := timewindow.NewResolver("UTC")
	if err != nil {
		t.Fatalf("NewResolver(UTC) error = %v", err)
	}
	return r
}

func seedTx(t *testing.T, s *storage.MemoryStore, owner string, typ core.TransactionType, categoryID, amount string, at time.Time) {
	t.Helper()
	d, err := decimal.NewFromString(amount)
	if err != nil {
		t.Fatalf("bad amount %q: %v", amount, err)
	}
	_, err = s.CreateTransaction(context.Background(), core.Transaction{
		OwnerID:     owner,
		Type:        typ,
		CategoryID:  categoryID,
		Amount:      d,
		Description: "seed",
		CreatedAt:   at,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
}

func newTestAggregator(t *testing.T, s *storage.MemoryStore) *Aggregator {
	t.Helper()
	return NewAggregator(s, testResolver(t), 366).WithClock(func() time.Time { return testNow })
}

func TestSum_HalfOpenRange(t *testing.T) {
	s := storage.NewMemoryStore()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	seedTx(t, s, "o1", core.TypeOut, "c1", "10", start)                      // inclusive start
	seedTx(t, s, "o1", core.TypeOut, "c1", "20", end.Add(-time.Second))      // inside
	seedTx(t, s, "o1", core.TypeOut, "c1", "40", end)                        // excluded: end is exclusive
	seedTx(t, s, "o1", core.TypeIn, "c1", "80", start.Add(time.Hour))        // excluded: wrong type
	seedTx(t, s, "o2", core.TypeOut, "c1", "160", start.Add(time.Hour))      // excluded: other owner
	seedTx(t, s, "o1", core.TypeOut, "c1", "320", start.Add(-24*time.Hour))  // excluded: before start

	agg := newTestAggregator(t, s)
	got, err := agg.Sum(context.Background(), "o1", core.TypeOut, nil, start, end)
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if !got.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Sum() = %s, want 30", got)
	}
}

func TestSum_InvalidRanges(t *testing.T) {
	agg := newTestAggregator(t, storage.NewMemoryStore())
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		start, end time.Time
	}{
		{"zero start", time.Time{}, at},
		{"zero end", at, time.Time{}},
		{"start equals end", at, at},
		{"start after end", at.Add(time.Hour), at},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Sum(context.Background(), "o1", core.TypeOut, nil, tt.start, tt.end)
			if !errors.Is(err, core.ErrInvalidRange) {
				t.Errorf("Sum() error = %v, want ErrInvalidRange", err)
			}
		})
	}
}

func TestSum_ClampsOversizedRange(t *testing.T) {
	s := storage.NewMemoryStore()
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	inside := end.AddDate(0, 0, -5)
	outside := end.AddDate(0, 0, -20)
	seedTx(t, s, "o1", core.TypeOut, "c1", "10", inside)
	seedTx(t, s, "o1", core.TypeOut, "c1", "99", outside)

	agg := NewAggregator(s, testResolver(t), 10)
	got, err := agg.Sum(context.Background(), "o1", core.TypeOut, nil, end.AddDate(-1, 0, 0), end)
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Sum() over clamped range = %s, want 10", got)
	}
}

func TestGroupByCategory_UncategorizedFallback(t *testing.T) {
	s := storage.NewMemoryStore()
	s.SeedCategories([]core.Category{
		{ID: "food", Name: "Food", TransactionType: core.TypeOut},
	})
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seedTx(t, s, "o1", core.TypeOut, "food", "100", start.AddDate(0, 0, 1))
	seedTx(t, s, "o1", core.TypeOut, "food", "50", start.AddDate(0, 0, 2))
	seedTx(t, s, "o1", core.TypeOut, "", "75", start.AddDate(0, 0, 3))

	agg := newTestAggregator(t, s)
	rows, err := agg.GroupByCategory(context.Background(), "o1", core.TypeOut, start, end)
	if err != nil {
		t.Fatalf("GroupByCategory() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("GroupByCategory() returned %d rows, want 2", len(rows))
	}
	// Sorted by total descending.
	if rows[0].CategoryName != "Food" || !rows[0].Total.Equal(decimal.NewFromInt(150)) {
		t.Errorf("row 0 = %s/%s, want Food/150", rows[0].CategoryName, rows[0].Total)
	}
	if rows[0].Count != 2 {
		t.Errorf("row 0 count = %d, want 2", rows[0].Count)
	}
	if rows[1].CategoryName != UncategorizedLabel || !rows[1].Total.Equal(decimal.NewFromInt(75)) {
		t.Errorf("row 1 = %s/%s, want %s/75", rows[1].CategoryName, rows[1].Total, UncategorizedLabel)
	}
	wantLast := start.AddDate(0, 0, 2)
	if !rows[0].LastAt.Equal(wantLast) {
		t.Errorf("row 0 last at = %v, want %v", rows[0].LastAt, wantLast)
	}
}

func TestGroupByMonth_ZeroFillInvariant(t *testing.T) {
	s := storage.NewMemoryStore()
	// Activity only in December and February; January must still appear.
	seedTx(t, s, "o1", core.TypeOut, "c1", "100", time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC))
	seedTx(t, s, "o1", core.TypeOut, "c1", "200", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))

	agg := newTestAggregator(t, s)
	for _, monthsBack := range []int{1, 3, 5, 12} {
		rows, err := agg.GroupByMonth(context.Background(), "o1", core.TypeOut, monthsBack, MonthlyOptions{})
		if err != nil {
			t.Fatalf("GroupByMonth(%d) error = %v", monthsBack, err)
		}
		if len(rows) != monthsBack {
			t.Fatalf("GroupByMonth(%d) returned %d rows, want exactly %d", monthsBack, len(rows), monthsBack)
		}
	}

	rows, err := agg.GroupByMonth(context.Background(), "o1", core.TypeOut, 3, MonthlyOptions{})
	if err != nil {
		t.Fatalf("GroupByMonth(3) error = %v", err)
	}
	want := []struct {
		month core.Period
		total int64
	}{
		{"2025-12", 100},
		{"2026-01", 0},
		{"2026-02", 200},
	}
	for i, w := range want {
		if rows[i].Month != w.month || !rows[i].Total.Equal(decimal.NewFromInt(w.total)) {
			t.Errorf("row %d = %s/%s, want %s/%d", i, rows[i].Month, rows[i].Total, w.month, w.total)
		}
	}
}

func TestGroupByMonth_ClampsOversizedSpan(t *testing.T) {
	s := storage.NewMemoryStore()
	seedTx(t, s, "o1", core.TypeOut, "c1", "200", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))

	agg := newTestAggregator(t, s)
	rows, err := agg.GroupByMonth(context.Background(), "o1", core.TypeOut, 1_000_000, MonthlyOptions{})
	if err != nil {
		t.Fatalf("GroupByMonth(1_000_000) error = %v", err)
	}
	if len(rows) != 120 {
		t.Fatalf("GroupByMonth(1_000_000) returned %d rows, want 120 (clamped)", len(rows))
	}
	// The clamp anchors on the current month, so the newest row survives.
	last := rows[len(rows)-1]
	if last.Month != core.Period("2026-02") || !last.Total.Equal(decimal.NewFromInt(200)) {
		t.Errorf("newest row = %s/%s, want 2026-02/200", last.Month, last.Total)
	}
	if rows[0].Month != core.Period("2016-03") {
		t.Errorf("oldest row = %s, want 2016-03", rows[0].Month)
	}
}

func TestGroupByMonth_RejectsNonPositiveSpan(t *testing.T) {
	agg := newTestAggregator(t, storage.NewMemoryStore())
	for _, monthsBack := range []int{0, -5} {
		if _, err := agg.GroupByMonth(context.Background(), "o1", core.TypeOut, monthsBack, MonthlyOptions{}); !errors.Is(err, core.ErrInvalidRange) {
			t.Errorf("GroupByMonth(%d) error = %v, want ErrInvalidRange", monthsBack, err)
		}
	}
}

func TestGroupByMonth_CategoryFilters(t *testing.T) {
	s := storage.NewMemoryStore()
	at := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	seedTx(t, s, "o1", core.TypeOut, "food", "100", at)
	seedTx(t, s, "o1", core.TypeOut, "savings", "40", at)

	agg := newTestAggregator(t, s)

	only, err := agg.GroupByMonth(context.Background(), "o1", core.TypeOut, 1, MonthlyOptions{CategoryID: "savings"})
	if err != nil {
		t.Fatalf("GroupByMonth(only savings) error = %v", err)
	}
	if !only[0].Total.Equal(decimal.NewFromInt(40)) {
		t.Errorf("category-only total = %s, want 40", only[0].Total)
	}

	excl, err := agg.GroupByMonth(context.Background(), "o1", core.TypeOut, 1, MonthlyOptions{ExcludeCategoryIDs: []string{"savings"}})
	if err != nil {
		t.Fatalf("GroupByMonth(exclude savings) error = %v", err)
	}
	if !excl[0].Total.Equal(decimal.NewFromInt(100)) {
		t.Errorf("excluded total = %s, want 100", excl[0].Total)
	}
}

func TestAggregation_Idempotent(t *testing.T) {
	s := storage.NewMemoryStore()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTx(t, s, "o1", core.TypeOut, "c1", "12.34", start.AddDate(0, 0, 3))
	seedTx(t, s, "o1", core.TypeIn, "c2", "99.99", start.AddDate(0, 1, 0))

	agg := newTestAggregator(t, s)
	ctx := context.Background()

	first, err := agg.GroupByCategory(ctx, "o1", core.TypeOut, start, end)
	if err != nil {
		t.Fatalf("GroupByCategory() error = %v", err)
	}
	second, err := agg.GroupByCategory(ctx, "o1", core.TypeOut, start, end)
	if err != nil {
		t.Fatalf("GroupByCategory() second run error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated aggregation differs: %v vs %v", first, second)
	}

	s1, _ := agg.Sum(ctx, "o1", "", nil, start, end)
	s2, _ := agg.Sum(ctx, "o1", "", nil, start, end)
	if !s1.Equal(s2) {
		t.Errorf("repeated sum differs: %s vs %s", s1, s2)
	}
}

func TestGroupByDay(t *testing.T) {
	s := storage.NewMemoryStore()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)
	seedTx(t, s, "o1", core.TypeOut, "c1", "10", start.Add(9*time.Hour))
	seedTx(t, s, "o1", core.TypeOut, "c1", "15", start.Add(20*time.Hour))
	seedTx(t, s, "o1", core.TypeOut, "c1", "5", start.AddDate(0, 0, 3))

	agg := newTestAggregator(t, s)
	rows, err := agg.GroupByDay(context.Background(), "o1", core.TypeOut, start, end)
	if err != nil {
		t.Fatalf("GroupByDay() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("GroupByDay() returned %d rows, want 2", len(rows))
	}
	if rows[0].Day != "2026-02-01" || !rows[0].Total.Equal(decimal.NewFromInt(25)) || rows[0].Count != 2 {
		t.Errorf("row 0 = %+v, want 2026-02-01/25/2", rows[0])
	}
	if rows[1].Day != "2026-02-04" || !rows[1].Total.Equal(decimal.NewFromInt(5)) {
		t.Errorf("row 1 = %+v, want 2026-02-04/5", rows[1])
	}
}

func TestCountByDay_SkipsEmptyDays(t *testing.T) {
	s := storage.NewMemoryStore()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	seedTx(t, s, "o1", core.TypeOut, "c1", "10", start)
	seedTx(t, s, "o1", core.TypeIn, "c2", "10", start)
	seedTx(t, s, "o1", core.TypeOut, "c1", "10", start.AddDate(0, 0, 10))

	agg := newTestAggregator(t, s)
	days, err := agg.CountByDay(context.Background(), "o1", start, end)
	if err != nil {
		t.Fatalf("CountByDay() error = %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("CountByDay() returned %d rows, want 2 (zero days omitted)", len(days))
	}
	if days[0].Date != "2026-02-01" || days[0].Count != 2 {
		t.Errorf("day 0 = %+v, want 2026-02-01/2", days[0])
	}
}
