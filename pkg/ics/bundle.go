package ics

import (
	"fmt"

	"github.com/emersion/go-ical"
	"github.com/solcal/solcal/pkg/calendar"
)

const propCalendarName = "X-WR-CALNAME"

// DecodeCalendar splits a multi-event VCALENDAR (an import file or a collection
// export) into events. Each event gets its own payload holding the calendar
// properties, every VTIMEZONE and the VEVENTs sharing its uid.
func DecodeCalendar(text string) ([]calendar.Event, error) {
	cal, err := parseCalendar(text)
	if err != nil {
		return nil, err
	}

	timezones := childrenNamed(cal.Component, ical.CompTimezone)
	var order []string
	groups := make(map[string][]*ical.Component)
	for i, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		uid := propValue(child, ical.PropUID)
		if uid == "" {
			return nil, parseError(ical.CompEvent, "component #%d: missing %s", i+1, ical.PropUID)
		}
		if _, ok := groups[uid]; !ok {
			order = append(order, uid)
		}
		groups[uid] = append(groups[uid], child)
	}

	events := make([]calendar.Event, 0, len(order))
	for _, uid := range order {
		single := ical.NewCalendar()
		for name, props := range cal.Props {
			single.Props[name] = props
		}
		single.Children = append(append([]*ical.Component{}, timezones...), groups[uid]...)
		text, err := encodeCalendar(single)
		if err != nil {
			return nil, fmt.Errorf("%w: event %q: %v", calendar.ErrParse, uid, err)
		}
		event, err := Decode(text)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// EncodeCalendar merges events into one VCALENDAR. Timezone definitions shared
// by several events are written once.
func EncodeCalendar(name string, events []calendar.Event) (string, error) {
	out := ical.NewCalendar()
	ensureCalendarProps(out)
	if name != "" {
		setText(out.Component, propCalendarName, name)
	}

	seenTimezones := make(map[string]bool)
	for _, e := range events {
		text, err := Encode(e)
		if err != nil {
			return "", err
		}
		cal, err := parseCalendar(text)
		if err != nil {
			return "", err
		}
		for _, child := range cal.Children {
			if child.Name == ical.CompTimezone {
				tzid := propValue(child, ical.PropTimezoneID)
				if seenTimezones[tzid] {
					continue
				}
				seenTimezones[tzid] = true
			}
			out.Children = append(out.Children, child)
		}
	}
	return encodeCalendar(out)
}
