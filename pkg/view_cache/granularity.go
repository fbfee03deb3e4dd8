package view_cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/solcal/solcal/pkg/calendar"
)

type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
	Year  Granularity = "year"
)

func ParseGranularity(value string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(value)); g {
	case Day, Week, Month, Year:
		return g, nil
	}
	return "", fmt.Errorf("%w: unknown view granularity %q", calendar.ErrValidation, value)
}

// Range is a half-open interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Touches reports whether the closed interval [from, to] meets r, so that
// zero length ranges count too.
func (r Range) Touches(from, to time.Time) bool {
	return from.Before(r.To) && !to.Before(r.From)
}

// RangeFor derives the range a view of granularity g shows around anchor.
// Boundaries are local midnights in loc; weeks start on weekStart.
func RangeFor(g Granularity, anchor time.Time, loc *time.Location, weekStart time.Weekday) Range {
	a := anchor.In(loc)
	day := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, loc)
	switch g {
	case Week:
		delta := (int(day.Weekday()) - int(weekStart) + 7) % 7
		start := day.AddDate(0, 0, -delta)
		return Range{From: start, To: start.AddDate(0, 0, 7)}
	case Month:
		start := time.Date(a.Year(), a.Month(), 1, 0, 0, 0, 0, loc)
		return Range{From: start, To: start.AddDate(0, 1, 0)}
	case Year:
		start := time.Date(a.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return Range{From: start, To: start.AddDate(1, 0, 0)}
	default:
		return Range{From: day, To: day.AddDate(0, 0, 1)}
	}
}
