package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/internal/core"
)

var errTooManyRequests = errors.New("too many requests")

// defaultRangeDays is the trailing window used when a report request does
// not pin its own range.
const defaultRangeDays = 30

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are a
// 500 with a generic body; the detail goes to the log, not the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		status = http.StatusUnauthorized
		msg = err.Error()
	case errors.Is(err, core.ErrInvalidRange),
		errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, core.ErrEmptyOwner),
		errors.Is(err, core.ErrEmptyDescription):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, core.ErrOpeningBalanceNotFound),
		errors.Is(err, core.ErrTransactionNotFound):
		status = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, core.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		msg = err.Error()
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, errTooManyRequests):
		status = http.StatusTooManyRequests
		msg = err.Error()
	}

	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

// parseRange reads start/end query parameters (RFC 3339 or YYYY-MM-DD,
// interpreted in the reporting timezone). When both are absent the trailing
// 30 days are used. A lone start or end is an invalid range.
func (s *Server) parseRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := strings.TrimSpace(r.URL.Query().Get("start"))
	endStr := strings.TrimSpace(r.URL.Query().Get("end"))

	if startStr == "" && endStr == "" {
		now := time.Now().UTC()
		return s.windows.ShiftDays(now, -defaultRangeDays), now, nil
	}
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, core.ErrInvalidRange
	}

	start, err := s.parseTime(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, core.ErrInvalidRange
	}
	end, err := s.parseTime(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, core.ErrInvalidRange
	}
	return start, end, nil
}

func (s *Server) parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, s.windows.Location())
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parsePeriod reads the period query parameter, defaulting to the current
// month in the reporting timezone.
func (s *Server) parsePeriod(r *http.Request) (core.Period, error) {
	v := strings.TrimSpace(r.URL.Query().Get("period"))
	if v == "" {
		return s.windows.PeriodOf(time.Now()), nil
	}
	return core.ParsePeriod(v)
}

func parseMonths(r *http.Request, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get("months"))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func parseTxType(r *http.Request) (core.TransactionType, error) {
	v := strings.TrimSpace(r.URL.Query().Get("type"))
	if v == "" {
		return "", nil
	}
	typ := core.TransactionType(strings.ToUpper(v))
	if !typ.Valid() {
		return "", core.ErrInvalidType
	}
	return typ, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
