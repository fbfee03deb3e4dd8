package ics

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

const layoutLocal = "20060102T150405"

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// transition is a change of UTC offset as seen from the tz database.
type transition struct {
	at         time.Time
	fromOffset int
	toOffset   int
	name       string
	dst        bool
}

// timezoneComponent describes loc as a VTIMEZONE, starting with the offset
// changes of the given year. A zone with exactly two changes a year gets
// yearly recurring observances; others are written as they happen in that year.
func timezoneComponent(tzid string, loc *time.Location, year int) *ical.Component {
	tz := ical.NewComponent(ical.CompTimezone)
	setValue(tz, ical.PropTimezoneID, tzid)

	changes := offsetChanges(loc, year)
	if len(changes) == 0 {
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
		name, offset := start.Zone()
		tz.Children = append(tz.Children, observance(transition{
			at:         start,
			fromOffset: offset,
			toOffset:   offset,
			name:       name,
			dst:        start.IsDST(),
		}, false))
		return tz
	}
	for _, c := range changes {
		tz.Children = append(tz.Children, observance(c, len(changes) == 2))
	}
	return tz
}

func observance(c transition, yearly bool) *ical.Component {
	kind := ical.CompTimezoneStandard
	if c.dst {
		kind = ical.CompTimezoneDaylight
	}
	comp := ical.NewComponent(kind)
	// onsets are given in the wall clock in effect before the change
	local := c.at.UTC().Add(time.Duration(c.fromOffset) * time.Second)
	setValue(comp, ical.PropDateTimeStart, local.Format(layoutLocal))
	setValue(comp, ical.PropTimezoneOffsetFrom, utcOffset(c.fromOffset))
	setValue(comp, ical.PropTimezoneOffsetTo, utcOffset(c.toOffset))
	if c.name != "" {
		setValue(comp, ical.PropTimezoneName, c.name)
	}
	if yearly {
		setValue(comp, ical.PropRecurrenceRule, yearlyRule(local))
	}
	return comp
}

// yearlyRule names the onset's weekday by its position in the month, counting
// from the end when it falls in the last seven days.
func yearlyRule(t time.Time) string {
	daysInMonth := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	nth := (t.Day()-1)/7 + 1
	if t.Day()+7 > daysInMonth {
		nth = -1
	}
	return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%d%s", int(t.Month()), nth, weekdayCodes[t.Weekday()])
}

func utcOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d%02d", sign, seconds/3600, seconds%3600/60)
}

// offsetChanges lists the offset changes of loc during year, each located to
// the second.
func offsetChanges(loc *time.Location, year int) []transition {
	var out []transition
	day := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := day.AddDate(1, 0, 0)
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		_, before := day.In(loc).Zone()
		_, after := next.In(loc).Zone()
		if before == after {
			continue
		}
		lo, hi := day, next
		for hi.Sub(lo) > time.Second {
			mid := lo.Add(hi.Sub(lo) / 2)
			if _, off := mid.In(loc).Zone(); off == before {
				lo = mid
			} else {
				hi = mid
			}
		}
		at := hi.In(loc)
		name, _ := at.Zone()
		out = append(out, transition{at: hi, fromOffset: before, toOffset: after, name: name, dst: at.IsDST()})
	}
	return out
}
