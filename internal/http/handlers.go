package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/internal/alert"
	"tally/internal/analytics"
	"tally/internal/core"
	"tally/internal/identity"
	"tally/internal/storage"
)

var errBadRequest = errors.New("bad request")

// cachedReport serves a GET report through the LRU cache. compute runs only
// on a miss; the encoded body is cached per owner+URL.
func (s *Server) cachedReport(w http.ResponseWriter, r *http.Request, ownerID string, compute func() (any, error)) {
	key := ownerID + "|" + r.URL.Path + "?" + r.URL.RawQuery
	if body, ok := s.reportCache.Get(key); ok {
		writeRawJSON(w, http.StatusOK, body)
		return
	}

	result, err := compute()
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.reportCache.Set(key, body)
	writeRawJSON(w, http.StatusOK, body)
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := identity.OwnerFromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	return owner, true
}

func (s *Server) handleCashflow(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.calculator.Cashflow(r.Context(), owner)
	})
}

func (s *Server) handleAverageSpending(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.calculator.AverageSpending(r.Context(), owner)
	})
}

func (s *Server) handleSpendingByCategory(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	typ, err := parseTxType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if typ == "" {
		typ = core.TypeOut
	}
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.aggregator.GroupByCategory(r.Context(), owner, typ, start, end)
	})
}

func (s *Server) handleSpendingByDay(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	typ, err := parseTxType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if typ == "" {
		typ = core.TypeOut
	}
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.aggregator.GroupByDay(r.Context(), owner, typ, start, end)
	})
}

func (s *Server) handleSpendingByMonth(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	typ, err := parseTxType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if typ == "" {
		typ = core.TypeOut
	}
	opt := analytics.MonthlyOptions{
		CategoryID: strings.TrimSpace(r.URL.Query().Get("category")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("exclude")); raw != "" {
		opt.ExcludeCategoryIDs = strings.Split(raw, ",")
	}
	months := parseMonths(r, 12)
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.aggregator.GroupByMonth(r.Context(), owner, typ, months, opt)
	})
}

func (s *Server) handleSavingRate(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		writeError(w, r, fmt.Errorf("missing category parameter: %w", errBadRequest))
		return
	}
	months := parseMonths(r, 12)
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.calculator.SavingRate(r.Context(), owner, category, months)
	})
}

func (s *Server) handleCashflowOvertime(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	months := parseMonths(r, 12)
	var exclude []string
	if raw := strings.TrimSpace(r.URL.Query().Get("exclude")); raw != "" {
		exclude = strings.Split(raw, ",")
	}
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.calculator.CashflowOvertime(r.Context(), owner, months, exclude)
	})
}

func (s *Server) handleBudgetCompare(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	period, err := s.parsePeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.comparator.Compare(r.Context(), owner, period)
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	anomalies, err := s.detector.Detect(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Alerts are best-effort: a broker hiccup never fails the report.
	if s.publisher != nil {
		for _, a := range anomalies {
			if err := s.publisher.PublishAnomaly(r.Context(), alert.NewAnomalyAlert(owner, a)); err != nil {
				slog.ErrorContext(r.Context(), "Failed to publish anomaly alert",
					"owner_id", owner,
					"category_id", a.CategoryID,
					"error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleAnomalyReport(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	intervalDays := 30
	if v := strings.TrimSpace(r.URL.Query().Get("interval_days")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("interval_days %q: %w", v, errBadRequest))
			return
		}
		intervalDays = n
	}
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.detector.MarkReport(r.Context(), owner, intervalDays)
	})
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cachedReport(w, r, owner, func() (any, error) {
		return s.heatmap.Build(r.Context(), owner, start, end)
	})
}

type categoryResponse struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	TransactionType core.TransactionType `json:"transaction_type"`
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	typ, err := parseTxType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cats, err := s.store.QueryCategories(r.Context(), typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryResponse, len(cats))
	for i, c := range cats {
		out[i] = categoryResponse{
			ID:              c.ID,
			Name:            c.Name,
			Description:     c.Description,
			TransactionType: c.TransactionType,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type transactionRequest struct {
	Type        string `json:"type"`
	CategoryID  string `json:"category_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"` // RFC 3339; defaults to now
}

type transactionResponse struct {
	ID          string               `json:"id"`
	Type        core.TransactionType `json:"type"`
	CategoryID  string               `json:"category_id,omitempty"`
	Amount      string               `json:"amount"`
	Description string               `json:"description"`
	CreatedAt   time.Time            `json:"created_at"`
}

func toTransactionResponse(tx core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		Type:        tx.Type,
		CategoryID:  tx.CategoryID,
		Amount:      tx.Amount.String(),
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt,
	}
}

func (s *Server) decodeTransaction(r *http.Request, ownerID string) (core.Transaction, error) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return core.Transaction{}, fmt.Errorf("decode body: %w", errBadRequest)
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Transaction{}, err
	}

	createdAt := time.Now().UTC()
	if v := strings.TrimSpace(req.CreatedAt); v != "" {
		createdAt, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("created_at %q: %w", v, errBadRequest)
		}
		createdAt = createdAt.UTC()
	}

	return core.Transaction{
		OwnerID:     ownerID,
		Type:        core.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type))),
		CategoryID:  strings.TrimSpace(req.CategoryID),
		Amount:      amount,
		Description: sanitizeInput(req.Description),
		CreatedAt:   createdAt,
	}, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	typ, err := parseTxType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter := storage.TransactionFilter{
		OwnerID: owner,
		Type:    typ,
		Start:   &start,
		End:     &end,
	}
	if v, present := r.URL.Query()["category"]; present && len(v) > 0 {
		category := strings.TrimSpace(v[0])
		filter.CategoryID = &category
	}

	txs, err := s.store.QueryTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionResponse(tx)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	tx, err := s.decodeTransaction(r, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.store.CreateTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reportCache.DeletePrefix(owner + "|")

	tx.ID = id
	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	tx, err := s.decodeTransaction(r, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx.ID = r.PathValue("id")

	if err := s.store.UpdateTransaction(r.Context(), tx); err != nil {
		writeError(w, r, err)
		return
	}
	s.reportCache.DeletePrefix(owner + "|")

	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteTransaction(r.Context(), owner, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.reportCache.DeletePrefix(owner + "|")

	w.WriteHeader(http.StatusNoContent)
}

type budgetRequest struct {
	Period      string `json:"period"`
	Allocations []struct {
		CategoryID string `json:"category_id"`
		Amount     string `json:"amount"`
	} `json:"allocations"`
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode body: %w", errBadRequest))
		return
	}
	period, err := core.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, r, err)
		return
	}

	allocations := make([]core.BudgetAllocation, len(req.Allocations))
	for i, a := range req.Allocations {
		amount, err := core.ParseAmount(a.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		allocations[i] = core.BudgetAllocation{
			CategoryID: strings.TrimSpace(a.CategoryID),
			Amount:     amount,
		}
	}

	id, err := s.store.CreateBudget(r.Context(), owner, period, allocations)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reportCache.DeletePrefix(owner + "|")

	writeJSON(w, http.StatusCreated, map[string]string{
		"budget_id": id,
		"period":    period.String(),
	})
}

type openingBalanceRequest struct {
	Period string `json:"period"`
	Amount string `json:"amount"`
}

func (s *Server) handleSetOpeningBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req openingBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode body: %w", errBadRequest))
		return
	}
	period, err := core.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := core.ParseSignedAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.store.SetOpeningBalance(r.Context(), core.OpeningBalance{
		OwnerID: owner,
		Period:  period,
		Amount:  amount,
	}); err != nil {
		writeError(w, r, err)
		return
	}
	s.reportCache.DeletePrefix(owner + "|")

	writeJSON(w, http.StatusOK, map[string]string{
		"period": period.String(),
		"amount": amount.String(),
	})
}
