// Package ics converts between iCalendar text and calendar events.
//
// Decoding keeps the input text as the event's raw payload. Encoding patches
// the interpreted fields into that payload, so properties, parameters and
// components the event model does not know about (alarms, attendees, vendor
// X- properties, recurrence overrides) survive a decode/encode round trip.
package ics

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/solcal/solcal/pkg/calendar"
)

const ProductID = "-//solcal//solcal 1.0//EN"

func parseError(component string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", calendar.ErrParse, component, fmt.Sprintf(format, args...))
}

func parseCalendar(text string) (*ical.Calendar, error) {
	if strings.TrimSpace(text) == "" {
		return nil, parseError(ical.CompCalendar, "empty payload")
	}
	cal, err := ical.NewDecoder(strings.NewReader(text)).Decode()
	if err != nil {
		return nil, parseError(ical.CompCalendar, "%v", err)
	}
	if cal.Name != ical.CompCalendar {
		return nil, parseError(cal.Name, "expected %s", ical.CompCalendar)
	}
	return cal, nil
}

func encodeCalendar(cal *ical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("%w: encode calendar: %v", calendar.ErrValidation, err)
	}
	return buf.String(), nil
}

func childrenNamed(comp *ical.Component, name string) []*ical.Component {
	var out []*ical.Component
	for _, child := range comp.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}

// masterEvent returns the VEVENT without RECURRENCE-ID; overrides of single instances carry one.
func masterEvent(events []*ical.Component) *ical.Component {
	for _, e := range events {
		if e.Props.Get(ical.PropRecurrenceID) == nil {
			return e
		}
	}
	if len(events) > 0 {
		return events[0]
	}
	return nil
}

// Decode parses a VCALENDAR holding a single event (plus its recurrence overrides).
func Decode(text string) (calendar.Event, error) {
	cal, err := parseCalendar(text)
	if err != nil {
		return calendar.Event{}, err
	}
	events := childrenNamed(cal.Component, ical.CompEvent)
	if len(events) == 0 {
		return calendar.Event{}, parseError(ical.CompCalendar, "no %s component", ical.CompEvent)
	}
	master := masterEvent(events)
	event, err := eventFromComponent(master)
	if err != nil {
		return calendar.Event{}, err
	}
	for _, other := range events {
		if uid := propValue(other, ical.PropUID); uid != event.UID {
			return calendar.Event{}, parseError(ical.CompEvent, "payload mixes events %q and %q", event.UID, uid)
		}
	}
	event.Raw = text
	return event, nil
}

func propValue(comp *ical.Component, name string) string {
	if p := comp.Props.Get(name); p != nil {
		return p.Value
	}
	return ""
}

func textValue(comp *ical.Component, name string) (string, error) {
	p := comp.Props.Get(name)
	if p == nil {
		return "", nil
	}
	text, err := p.Text()
	if err != nil {
		return "", parseError(ical.CompEvent, "%s: %v", name, err)
	}
	return text, nil
}

func eventFromComponent(comp *ical.Component) (calendar.Event, error) {
	var e calendar.Event
	var err error

	e.UID = strings.TrimSpace(propValue(comp, ical.PropUID))
	if e.UID == "" {
		return calendar.Event{}, parseError(ical.CompEvent, "missing %s", ical.PropUID)
	}
	if e.Summary, err = textValue(comp, ical.PropSummary); err != nil {
		return calendar.Event{}, err
	}
	if e.Description, err = textValue(comp, ical.PropDescription); err != nil {
		return calendar.Event{}, err
	}
	if e.Location, err = textValue(comp, ical.PropLocation); err != nil {
		return calendar.Event{}, err
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return calendar.Event{}, parseError(ical.CompEvent, "event %q: missing %s", e.UID, ical.PropDateTimeStart)
	}
	e.Start, e.TZID, e.AllDay, err = parseTimeProp(startProp)
	if err != nil {
		return calendar.Event{}, parseError(ical.CompEvent, "event %q: %s: %v", e.UID, ical.PropDateTimeStart, err)
	}

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		e.End, _, _, err = parseTimeProp(comp.Props.Get(ical.PropDateTimeEnd))
		if err != nil {
			return calendar.Event{}, parseError(ical.CompEvent, "event %q: %s: %v", e.UID, ical.PropDateTimeEnd, err)
		}
	case comp.Props.Get(ical.PropDuration) != nil:
		d, err := comp.Props.Get(ical.PropDuration).Duration()
		if err != nil {
			return calendar.Event{}, parseError(ical.CompEvent, "event %q: %s: %v", e.UID, ical.PropDuration, err)
		}
		e.End = e.Start.Add(d)
	case e.AllDay:
		e.End = e.Start.AddDate(0, 0, 1)
	default:
		e.End = e.Start
	}

	e.RRule = strings.TrimSpace(propValue(comp, ical.PropRecurrenceRule))
	for _, p := range comp.Props[ical.PropExceptionDates] {
		dates, err := parseTimeList(&p)
		if err != nil {
			return calendar.Event{}, parseError(ical.CompEvent, "event %q: %s: %v", e.UID, ical.PropExceptionDates, err)
		}
		e.ExDates = append(e.ExDates, dates...)
	}

	for _, name := range []string{ical.PropLastModified, ical.PropDateTimeStamp} {
		if p := comp.Props.Get(name); p != nil {
			t, _, _, err := parseTimeProp(p)
			if err != nil {
				return calendar.Event{}, parseError(ical.CompEvent, "event %q: %s: %v", e.UID, name, err)
			}
			e.LastModified = t.UTC()
			break
		}
	}
	return e, nil
}

// Encode renders the event as a VCALENDAR, starting from its raw payload when it has one.
func Encode(e calendar.Event) (string, error) {
	cal := baseCalendar(e.Raw)
	ensureCalendarProps(cal)

	events := childrenNamed(cal.Component, ical.CompEvent)
	master := masterEvent(events)
	if master == nil {
		master = ical.NewComponent(ical.CompEvent)
		cal.Children = append(cal.Children, master)
	}
	tzid := timezoneParam(cal, e)
	patchEvent(master, e, tzid)
	// overrides follow the master's uid
	for _, other := range events {
		if other != master {
			setValue(other, ical.PropUID, e.UID)
		}
	}
	return encodeCalendar(cal)
}

func baseCalendar(raw string) *ical.Calendar {
	if raw != "" {
		if cal, err := parseCalendar(raw); err == nil {
			return cal
		}
	}
	return ical.NewCalendar()
}

func ensureCalendarProps(cal *ical.Calendar) {
	if cal.Props.Get(ical.PropProductID) == nil {
		setValue(cal.Component, ical.PropProductID, ProductID)
	}
	if cal.Props.Get(ical.PropVersion) == nil {
		setValue(cal.Component, ical.PropVersion, "2.0")
	}
}

func setValue(comp *ical.Component, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	comp.Props.Set(prop)
}

func setText(comp *ical.Component, name, text string) {
	if text == "" {
		delete(comp.Props, name)
		return
	}
	prop := ical.NewProp(name)
	prop.SetText(text)
	comp.Props.Set(prop)
}

// timezoneParam returns the TZID parameter value the event's times are written
// with, or "" for UTC. A zone the calendar has no VTIMEZONE for gets one
// generated from the tz database.
func timezoneParam(cal *ical.Calendar, e calendar.Event) string {
	name, loc := resolveTZID(e.TZID)
	if e.AllDay || loc == time.UTC {
		return ""
	}
	for _, tz := range childrenNamed(cal.Component, ical.CompTimezone) {
		id := propValue(tz, ical.PropTimezoneID)
		if resolved, _ := resolveTZID(id); resolved == name {
			return id
		}
	}
	// VTIMEZONEs precede the events
	cal.Children = append([]*ical.Component{timezoneComponent(name, loc, e.Start.Year()-1)}, cal.Children...)
	return name
}

func patchEvent(comp *ical.Component, e calendar.Event, tzid string) {
	setValue(comp, ical.PropUID, e.UID)
	setText(comp, ical.PropSummary, e.Summary)
	setText(comp, ical.PropDescription, e.Description)
	setText(comp, ical.PropLocation, e.Location)

	comp.Props.Set(newTimeProp(ical.PropDateTimeStart, e.Start, tzid, e.AllDay))
	delete(comp.Props, ical.PropDuration)
	comp.Props.Set(newTimeProp(ical.PropDateTimeEnd, e.End, tzid, e.AllDay))

	if e.RRule != "" {
		setValue(comp, ical.PropRecurrenceRule, e.RRule)
	} else {
		delete(comp.Props, ical.PropRecurrenceRule)
	}
	delete(comp.Props, ical.PropExceptionDates)
	for _, d := range e.ExDates {
		comp.Props.Add(newTimeProp(ical.PropExceptionDates, d, tzid, e.AllDay))
	}

	switch {
	case !e.LastModified.IsZero():
		comp.Props.Set(newUTCProp(ical.PropLastModified, e.LastModified))
		comp.Props.Set(newUTCProp(ical.PropDateTimeStamp, e.LastModified))
	case comp.Props.Get(ical.PropDateTimeStamp) == nil:
		comp.Props.Set(newUTCProp(ical.PropDateTimeStamp, time.Now()))
	}
}
