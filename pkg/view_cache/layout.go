package view_cache

import (
	"sort"
	"time"

	"github.com/solcal/solcal/pkg/calendar"
)

type Occurrence struct {
	CalendarID string
	UID        string
	Summary    string
	Location   string
	Color      string
	// Start and End are in the display location; all-day occurrences start
	// and end at local midnight.
	Start   time.Time
	End     time.Time
	AllDay  bool
	Pending bool
	// Column and Columns place a timed occurrence among the ones it overlaps
	// with on the same day.
	Column  int
	Columns int
}

type DayBucket struct {
	Date   time.Time
	AllDay []Occurrence
	Timed  []Occurrence
}

// Layout is the display ready projection of a range of the event store.
type Layout struct {
	Granularity Granularity
	Range       Range
	Days        []DayBucket
	// Truncated is set when at least one recurring event hit the expansion cap.
	Truncated bool
}

// BuildLayout projects events onto the days of r. colors maps calendar ids
// to their color.
func BuildLayout(g Granularity, r Range, events []calendar.Event, colors map[string]string) Layout {
	loc := r.From.Location()
	layout := Layout{Granularity: g, Range: r}
	for day := r.From; day.Before(r.To); day = day.AddDate(0, 0, 1) {
		layout.Days = append(layout.Days, DayBucket{Date: day})
	}
	dates := Range{From: floatingDate(r.From), To: floatingDate(r.To)}

	for _, e := range events {
		window := r
		if e.AllDay {
			window = dates
		}
		spans, truncated := expand(e, window)
		layout.Truncated = layout.Truncated || truncated
		for _, s := range spans {
			occ := Occurrence{
				CalendarID: e.CalendarID,
				UID:        e.UID,
				Summary:    e.Summary,
				Location:   e.Location,
				Color:      colors[e.CalendarID],
				Start:      s.start.In(loc),
				End:        s.end.In(loc),
				AllDay:     e.AllDay,
				Pending:    e.Pending,
			}
			if e.AllDay {
				occ.Start, occ.End = localDate(s.start, loc), localDate(s.end, loc)
			}
			place(&layout, occ)
		}
	}

	for i := range layout.Days {
		sortOccurrences(layout.Days[i].AllDay)
		sortOccurrences(layout.Days[i].Timed)
		assignColumns(layout.Days[i].Timed)
	}
	return layout
}

// place adds occ to every day bucket it overlaps.
func place(layout *Layout, occ Occurrence) {
	for i := range layout.Days {
		day := Range{From: layout.Days[i].Date, To: layout.Days[i].Date.AddDate(0, 0, 1)}
		if !occurs(occ.Start, occ.End, day) {
			continue
		}
		if occ.AllDay {
			layout.Days[i].AllDay = append(layout.Days[i].AllDay, occ)
		} else {
			layout.Days[i].Timed = append(layout.Days[i].Timed, occ)
		}
	}
}

func sortOccurrences(occs []Occurrence) {
	sort.SliceStable(occs, func(i, j int) bool {
		if !occs[i].Start.Equal(occs[j].Start) {
			return occs[i].Start.Before(occs[j].Start)
		}
		if !occs[i].End.Equal(occs[j].End) {
			return occs[i].End.After(occs[j].End)
		}
		if occs[i].CalendarID != occs[j].CalendarID {
			return occs[i].CalendarID < occs[j].CalendarID
		}
		return occs[i].UID < occs[j].UID
	})
}

// assignColumns gives each occurrence of a group of transitively overlapping
// occurrences the lowest free column. occs must be sorted by start.
func assignColumns(occs []Occurrence) {
	groupStart := 0
	var groupEnd time.Time
	var columnEnds []time.Time

	closeGroup := func(until int) {
		for i := groupStart; i < until; i++ {
			occs[i].Columns = len(columnEnds)
		}
	}

	for i := range occs {
		if i > groupStart && !occs[i].Start.Before(groupEnd) {
			closeGroup(i)
			groupStart, columnEnds = i, nil
		}
		column := -1
		for c, end := range columnEnds {
			if !occs[i].Start.Before(end) {
				column = c
				break
			}
		}
		if column < 0 {
			column = len(columnEnds)
			columnEnds = append(columnEnds, time.Time{})
		}
		columnEnds[column] = visibleEnd(occs[i])
		occs[i].Column = column
		if i == groupStart || columnEnds[column].After(groupEnd) {
			groupEnd = columnEnds[column]
		}
	}
	closeGroup(len(occs))
}

// visibleEnd gives zero length occurrences a minute of room so that two of
// them at the same time do not share a column.
func visibleEnd(occ Occurrence) time.Time {
	if occ.End.After(occ.Start) {
		return occ.End
	}
	return occ.Start.Add(time.Minute)
}

func floatingDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func localDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
