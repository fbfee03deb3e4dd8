package ics

import (
	"errors"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const layoutDate = "20060102"

// resolveTZID maps a TZID parameter onto an IANA zone. Vendor prefixed ids such as
// "/freeassociation.sourceforge.net/Europe/Berlin" are reduced to their zone name.
// Unknown zones resolve to ("", UTC).
func resolveTZID(tzid string) (string, *time.Location) {
	if tzid == "" {
		return "", time.UTC
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return tzid, loc
	}
	parts := strings.Split(strings.Trim(tzid, "/"), "/")
	for i := range parts {
		candidate := strings.Join(parts[i:], "/")
		if loc, err := time.LoadLocation(candidate); err == nil && candidate != "" {
			return candidate, loc
		}
	}
	return "", time.UTC
}

func isDateValue(prop *ical.Prop, value string) bool {
	if strings.EqualFold(prop.Params.Get(ical.ParamValue), string(ical.ValueDate)) {
		return true
	}
	return len(value) == len(layoutDate) && !strings.Contains(value, "T")
}

// parseTime parses one DATE or DATE-TIME value of prop. The TZID parameter is
// resolved here and handed to go-ical as a location, since the library only
// knows plain IANA names.
func parseTime(prop *ical.Prop, value string) (t time.Time, tzid string, allDay bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, "", false, errors.New("empty time value")
	}

	single := ical.NewProp(prop.Name)
	single.Value = value
	if isDateValue(prop, value) {
		single.SetValueType(ical.ValueDate)
		t, err = single.DateTime(time.UTC)
		return t, "", true, err
	}
	single.SetValueType(ical.ValueDateTime)

	if strings.HasSuffix(value, "Z") {
		t, err = single.DateTime(time.UTC)
		return t.UTC(), "", false, err
	}
	tzid, loc := resolveTZID(prop.Params.Get(ical.ParamTimezoneID))
	t, err = single.DateTime(loc)
	return t, tzid, false, err
}

func parseTimeProp(prop *ical.Prop) (time.Time, string, bool, error) {
	return parseTime(prop, prop.Value)
}

// parseTimeList parses a possibly comma separated EXDATE value.
func parseTimeList(prop *ical.Prop) ([]time.Time, error) {
	var out []time.Time
	for _, v := range strings.Split(prop.Value, ",") {
		t, _, _, err := parseTime(prop, v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// newTimeProp builds a DATE or DATE-TIME property. With a tzid the time is
// written in that zone's wall clock and the parameter is kept verbatim, so it
// keeps pointing at the calendar's VTIMEZONE. Everything else is UTC.
func newTimeProp(name string, t time.Time, tzid string, allDay bool) *ical.Prop {
	prop := ical.NewProp(name)
	if allDay {
		prop.SetDate(t)
		return prop
	}
	if _, loc := resolveTZID(tzid); loc != time.UTC {
		prop.SetDateTime(t.In(loc))
		prop.Params.Set(ical.ParamTimezoneID, tzid)
		return prop
	}
	prop.SetDateTime(t.UTC())
	return prop
}

func newUTCProp(name string, t time.Time) *ical.Prop {
	prop := ical.NewProp(name)
	prop.SetDateTime(t.UTC())
	return prop
}
