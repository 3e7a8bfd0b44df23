// Package timewindow is the single place window boundaries are computed.
// Every other component consumes already-normalized instants from here
// instead of re-deriving start-of-month logic on its own.
package timewindow

import (
	"fmt"
	"time"

	"tally/internal/core"
)

// Resolver computes canonical day/week/month boundaries for a reference
// instant in a fixed reporting timezone. Weeks start on Monday.
type Resolver struct {
	loc *time.Location
}

// Windows holds the current and previous boundaries for each granularity,
// as UTC instants suitable for storage-layer comparison. All windows are
// half-open [start, end).
type Windows struct {
	DayStart   time.Time
	WeekStart  time.Time
	MonthStart time.Time

	PrevDayStart   time.Time
	PrevWeekStart  time.Time
	PrevMonthStart time.Time
}

// NewResolver loads the reporting timezone. An unresolvable timezone is a
// configuration error; callers treat it as fatal at startup.
func NewResolver(tz string) (*Resolver, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load reporting timezone %q: %w", tz, err)
	}
	return &Resolver{loc: loc}, nil
}

func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve computes all window boundaries for ref. The reference instant is
// first converted into the reporting timezone, truncated to the start of
// each unit, then converted back to UTC. Previous windows are exactly one
// unit prior to truncation: the previous month is one calendar month back,
// never a fixed 30-day offset.
func (r *Resolver) Resolve(ref time.Time) Windows {
	local := ref.In(r.loc)

	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	week := r.weekStartLocal(local)
	month := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, r.loc)

	return Windows{
		DayStart:   day.UTC(),
		WeekStart:  week.UTC(),
		MonthStart: month.UTC(),

		PrevDayStart:   day.AddDate(0, 0, -1).UTC(),
		PrevWeekStart:  week.AddDate(0, 0, -7).UTC(),
		PrevMonthStart: month.AddDate(0, -1, 0).UTC(),
	}
}

// DayStart returns the start of ref's calendar day, as a UTC instant.
func (r *Resolver) DayStart(ref time.Time) time.Time {
	local := ref.In(r.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc).UTC()
}

// NextDayStart returns the start of the day after ref. Callers normalize
// "end of day" to this rather than 23:59:59.999 to keep ranges half-open.
func (r *Resolver) NextDayStart(ref time.Time) time.Time {
	local := ref.In(r.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc).AddDate(0, 0, 1).UTC()
}

// WeekStart returns the start of ref's Monday-anchored week, as a UTC instant.
func (r *Resolver) WeekStart(ref time.Time) time.Time {
	return r.weekStartLocal(ref.In(r.loc)).UTC()
}

// MonthStart returns the first instant of ref's calendar month, as a UTC instant.
func (r *Resolver) MonthStart(ref time.Time) time.Time {
	local := ref.In(r.loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, r.loc).UTC()
}

// ShiftDays moves a boundary by n calendar days in the reporting timezone,
// so DST transitions keep day boundaries aligned.
func (r *Resolver) ShiftDays(t time.Time, n int) time.Time {
	return t.In(r.loc).AddDate(0, 0, n).UTC()
}

// ShiftMonths moves a boundary by n calendar months in the reporting timezone.
func (r *Resolver) ShiftMonths(t time.Time, n int) time.Time {
	return t.In(r.loc).AddDate(0, n, 0).UTC()
}

// PeriodOf returns the calendar month period containing ref.
func (r *Resolver) PeriodOf(ref time.Time) core.Period {
	return core.PeriodOf(ref, r.loc)
}

// DayKey formats an instant as its calendar day in the reporting timezone.
func (r *Resolver) DayKey(t time.Time) string {
	return t.In(r.loc).Format("2006-01-02")
}

func (r *Resolver) weekStartLocal(local time.Time) time.Time {
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	// time.Weekday has Sunday == 0; shift so Monday == 0.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
