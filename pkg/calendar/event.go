package calendar

import (
	"time"
)

type Event struct {
	UID         string
	CalendarID  string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	// TZID is the zone DTSTART/DTEND were expressed in; empty for UTC and floating times.
	TZID   string
	AllDay bool
	RRule  string
	// ExDates are the excluded recurrence instances.
	ExDates []time.Time
	// ETag is empty until a remote server confirmed this version. It is never generated locally.
	ETag string
	// Href locates the resource on the remote collection.
	Href         string
	LastModified time.Time
	// Raw is the encoded iCalendar payload, kept so properties the model does not interpret survive.
	Raw string
	// Pending marks local edits that were not pushed to the remote server yet.
	Pending bool
	// Deleted marks a tombstone: a deletion waiting to be pushed. Tombstones are never listed.
	Deleted bool
}

func (e Event) IsRecurring() bool {
	return e.RRule != ""
}

// AffectedRange is the time span whose views change when this event changes.
// Recurring events affect everything from their first occurrence onwards.
func (e Event) AffectedRange() (time.Time, time.Time) {
	if e.IsRecurring() {
		return e.Start, FarFuture
	}
	return e.Start, e.End
}

// FarFuture bounds open ended ranges.
var FarFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// SameContent reports whether two versions carry the same interpreted content.
// Version metadata (etag, href, timestamps, raw payload, sync flags) is ignored.
func (e Event) SameContent(other Event) bool {
	if e.UID != other.UID || e.Summary != other.Summary || e.Description != other.Description ||
		e.Location != other.Location || e.TZID != other.TZID || e.AllDay != other.AllDay || e.RRule != other.RRule {
		return false
	}
	if !e.Start.Equal(other.Start) || !e.End.Equal(other.End) {
		return false
	}
	if len(e.ExDates) != len(other.ExDates) {
		return false
	}
	for i := range e.ExDates {
		if !e.ExDates[i].Equal(other.ExDates[i]) {
			return false
		}
	}
	return true
}

// Span merges two ranges into the smallest range covering both.
func Span(fromA, toA, fromB, toB time.Time) (time.Time, time.Time) {
	from, to := fromA, toA
	if fromB.Before(from) {
		from = fromB
	}
	if toB.After(to) {
		to = toB
	}
	return from, to
}
