package view_cache

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/teambition/rrule-go"
)

// MaxOccurrencesPerEvent caps recurrence expansion of a single event per view.
const MaxOccurrencesPerEvent = 1000

type span struct {
	start time.Time
	end   time.Time
}

// expand lists the occurrences of e that overlap r. Recurring events are
// expanded with their EXDATEs removed. The second result reports whether the
// cap cut the list short.
func expand(e calendar.Event, r Range) ([]span, bool) {
	duration := e.End.Sub(e.Start)
	if !e.IsRecurring() {
		if occurs(e.Start, e.End, r) {
			return []span{{e.Start, e.End}}, false
		}
		return nil, false
	}

	rule, err := rrule.StrToRRule(e.RRule)
	if err != nil {
		log.Errorf("view: cannot expand %s/%s, invalid RRULE %q: %v", e.CalendarID, e.UID, e.RRule, err)
		return nil, false
	}
	rule.DTStart(e.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	// occurrences starting before r.From may still be running
	after := r.From.Add(-duration).In(e.Start.Location())
	before := r.To.In(e.Start.Location())

	var out []span
	for _, start := range set.Between(after, before, true) {
		end := start.Add(duration)
		if !occurs(start, end, r) {
			continue
		}
		if len(out) == MaxOccurrencesPerEvent {
			log.Warnf("view: %s/%s has more than %d occurrences in range, truncating", e.CalendarID, e.UID, MaxOccurrencesPerEvent)
			return out, true
		}
		out = append(out, span{start, end})
	}
	return out, false
}

// occurs treats a zero length occurrence as a point in time.
func occurs(start, end time.Time, r Range) bool {
	if start.Equal(end) {
		return !start.Before(r.From) && start.Before(r.To)
	}
	return start.Before(r.To) && end.After(r.From)
}
