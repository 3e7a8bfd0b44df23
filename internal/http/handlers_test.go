package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/analytics"
	"tally/internal/core"
	"tally/internal/identity"
	"tally/internal/storage"
	"tally/internal/timewindow"
)

var testNow = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, store *storage.MemoryStore) *Server {
	t.Helper()
	r, err := timewindow.NewResolver("UTC")
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	clock := func() time.Time { return testNow }
	agg := analytics.NewAggregator(store, r, 366).WithClock(clock)
	engine := Engine{
		Aggregator: agg,
		Calculator: analytics.NewCalculator(agg, store, r).WithClock(clock),
		Comparator: analytics.NewComparator(agg, store, r),
		Detector: analytics.NewDetector(agg, store, r, analytics.DetectorConfig{
			BaselineFloor:    decimal.NewFromInt(100000),
			ThresholdPercent: decimal.NewFromInt(30),
		}).WithClock(clock),
		Heatmap: analytics.NewHeatmapBuilder(agg),
	}
	srv := NewServer(":0", store, r, engine, nil)
	t.Cleanup(func() { srv.rateLimiter.stop(); close(srv.stopCacheCleanup) })
	return srv
}

func doRequest(t *testing.T, srv *Server, method, target, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if owner != "" {
		r.Header.Set(identity.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, r)
	return rec
}

func seedHTTPTx(t *testing.T, s *storage.MemoryStore, owner, typ, category, amount string, at time.Time) {
	t.Helper()
	a, err := decimal.NewFromString(amount)
	if err != nil {
		t.Fatalf("bad amount %q: %v", amount, err)
	}
	if _, err := s.CreateTransaction(context.Background(), core.Transaction{
		OwnerID:     owner,
		Type:        core.TransactionType(typ),
		CategoryID:  category,
		Amount:      a,
		Description: "seed",
		CreatedAt:   at,
	}); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
}

func TestMissingOwnerIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStore())
	rec := doRequest(t, srv, http.MethodGet, "/api/cashflow", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHealthEndpointsNeedNoOwner(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStore())
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doRequest(t, srv, http.MethodGet, path, "", "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestCashflowEndpoint(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.SetOpeningBalance(context.Background(), core.OpeningBalance{
		OwnerID: "o1",
		Period:  core.Period("2026-02"),
		Amount:  decimal.NewFromInt(1000),
	}); err != nil {
		t.Fatalf("SetOpeningBalance() error = %v", err)
	}
	seedHTTPTx(t, store, "o1", "IN", "salary", "3000", time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	seedHTTPTx(t, store, "o1", "OUT", "rent", "1200", time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC))

	srv := newTestServer(t, store)
	rec := doRequest(t, srv, http.MethodGet, "/api/cashflow", "o1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got core.Cashflow
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !got.Net.Equal(decimal.NewFromInt(2800)) {
		t.Errorf("net = %s, want 2800", got.Net)
	}
}

func TestCashflowMissingOpeningBalanceIs404(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStore())
	rec := doRequest(t, srv, http.MethodGet, "/api/cashflow", "o1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (opening balance is never silently zero)", rec.Code)
	}
}

func TestBudgetCompareRejectsBadPeriod(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStore())
	rec := doRequest(t, srv, http.MethodGet, "/api/budget/compare?period=02-2026", "o1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSpendingByCategoryRejectsHalfRange(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStore())
	rec := doRequest(t, srv, http.MethodGet, "/api/spending/categories?start=2026-01-01", "o1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (lone start is an invalid range)", rec.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := newTestServer(t, store)

	body := `{"type":"OUT","category_id":"food","amount":"12.50","description":"lunch","created_at":"2026-02-10T12:00:00Z"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/transactions", "o1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created transactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" || created.Amount != "12.5" {
		t.Errorf("created = %+v, want generated id and amount 12.5", created)
	}

	rec = doRequest(t, srv, http.MethodPut, "/api/transactions/"+created.ID, "o1",
		`{"type":"OUT","category_id":"food","amount":"15","description":"lunch again","created_at":"2026-02-10T12:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/transactions?start=2026-02-01&end=2026-03-01", "o1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed []transactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed) != 1 || listed[0].Amount != "15" {
		t.Errorf("listed = %+v, want single updated transaction", listed)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/transactions/"+created.ID, "o1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
}

func TestUpdateMissingTransactionIs404(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStore())
	rec := doRequest(t, srv, http.MethodPut, "/api/transactions/nope", "o1",
		`{"type":"OUT","amount":"15","description":"x","created_at":"2026-02-10T12:00:00Z"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCreateTransactionRejectsBadAmount(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStore())
	for _, amount := range []string{"-5", "0", "abc", ""} {
		rec := doRequest(t, srv, http.MethodPost, "/api/transactions", "o1",
			`{"type":"OUT","amount":"`+amount+`","description":"x"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("amount %q: status = %d, want 400", amount, rec.Code)
		}
	}
}

func TestAnomaliesEndpoint(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SeedCategories([]core.Category{
		{ID: "food", Name: "Food", TransactionType: core.TypeOut},
	})
	// No baseline, spend in the recent window: full-scale anomaly.
	seedHTTPTx(t, store, "o1", "OUT", "food", "50000", testNow.AddDate(0, 0, -5))

	srv := newTestServer(t, store)
	rec := doRequest(t, srv, http.MethodGet, "/api/anomalies", "o1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var anomalies []core.Anomaly
	if err := json.Unmarshal(rec.Body.Bytes(), &anomalies); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].Severity != core.SeverityHigh {
		t.Errorf("anomalies = %+v, want one high-severity entry", anomalies)
	}
}

func TestBudgetEndpointRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := newTestServer(t, store)

	rec := doRequest(t, srv, http.MethodPost, "/api/budgets", "o1",
		`{"period":"2026-02","allocations":[{"category_id":"food","amount":"500"},{"category_id":"rent","amount":"1000"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create budget status = %d, body = %s", rec.Code, rec.Body.String())
	}

	seedHTTPTx(t, store, "o1", "OUT", "food", "620", time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC))

	rec = doRequest(t, srv, http.MethodGet, "/api/budget/compare?period=2026-02", "o1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("compare status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got core.BudgetComparison
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !got.PlannedTotal.Equal(decimal.NewFromInt(1500)) || !got.ActualTotal.Equal(decimal.NewFromInt(620)) {
		t.Errorf("comparison = planned %s actual %s, want 1500/620", got.PlannedTotal, got.ActualTotal)
	}
}

func TestReportCacheInvalidatedByWrites(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := newTestServer(t, store)
	target := "/api/spending/categories?start=2026-02-01&end=2026-03-01"

	rec := doRequest(t, srv, http.MethodGet, target, "o1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first read status = %d", rec.Code)
	}

	body := `{"type":"OUT","category_id":"food","amount":"100","description":"lunch","created_at":"2026-02-10T12:00:00Z"}`
	if rec := doRequest(t, srv, http.MethodPost, "/api/transactions", "o1", body); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, target, "o1", "")
	var rows []core.CategoryTotal
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows after write = %d, want 1 (cache invalidated)", len(rows))
	}
}

func TestOpeningBalanceEndpoint(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := newTestServer(t, store)

	rec := doRequest(t, srv, http.MethodPut, "/api/opening-balance", "o1",
		`{"period":"2026-02","amount":"-150.25"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	got, err := store.QueryOpeningBalance(context.Background(), "o1", core.Period("2026-02"))
	if err != nil {
		t.Fatalf("QueryOpeningBalance() error = %v", err)
	}
	want, _ := decimal.NewFromString("-150.25")
	if !got.Amount.Equal(want) {
		t.Errorf("amount = %s, want -150.25", got.Amount)
	}
}
