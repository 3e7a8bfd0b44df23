package core

import (
	"time"
)

// Period is a calendar month anchor in "YYYY-MM" form. It is the single
// canonical month field for budgets and opening balances.
type Period string

const periodLayout = "2006-01"

// PeriodOf returns the period containing t, interpreted in loc.
func PeriodOf(t time.Time, loc *time.Location) Period {
	return Period(t.In(loc).Format(periodLayout))
}

// ParsePeriod parses a "YYYY-MM" string.
func ParsePeriod(s string) (Period, error) {
	if _, err := time.Parse(periodLayout, s); err != nil {
		return "", ErrInvalidPeriod
	}
	return Period(s), nil
}

func (p Period) Validate() error {
	_, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string { return string(p) }

// Start returns the first instant of the period's month in loc, as a UTC
// instant suitable for storage-layer comparison.
func (p Period) Start(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(periodLayout, string(p), loc)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Bounds returns the half-open [start, end) instants covering the period's
// calendar month in loc. Month lengths are respected; the end is the first
// instant of the following month, never a fixed 30-day offset.
func (p Period) Bounds(loc *time.Location) (start, end time.Time) {
	t, err := time.ParseInLocation(periodLayout, string(p), loc)
	if err != nil {
		return time.Time{}, time.Time{}
	}
	return t.UTC(), t.AddDate(0, 1, 0).UTC()
}

// AddMonths returns the period n calendar months away (n may be negative).
func (p Period) AddMonths(n int) Period {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return p
	}
	return Period(t.AddDate(0, n, 0).Format(periodLayout))
}
