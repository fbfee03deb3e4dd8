package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/solcal/solcal/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) string {
	return strings.ReplaceAll(strings.TrimLeft(s, "\n"), "\n", "\r\n")
}

var meetingWithExtras = crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Example Corp//Groupware//EN
X-VENDOR-FLAG:keep-me
BEGIN:VTIMEZONE
TZID:Europe/Berlin
BEGIN:STANDARD
DTSTART:19701025T030000
TZOFFSETFROM:+0200
TZOFFSETTO:+0100
END:STANDARD
END:VTIMEZONE
BEGIN:VEVENT
UID:meeting-1@example.com
DTSTAMP:20260301T080000Z
LAST-MODIFIED:20260301T080000Z
SUMMARY:Planning\, Q2
DESCRIPTION:Line one\nLine two
LOCATION:Room 4
DTSTART;TZID=Europe/Berlin:20260302T100000
DTEND;TZID=Europe/Berlin:20260302T110000
RRULE:FREQ=WEEKLY;BYDAY=MO
EXDATE;TZID=Europe/Berlin:20260309T100000
ATTENDEE;CN=Bob;ROLE=REQ-PARTICIPANT:mailto:bob@example.com
X-CUSTOM;X-PARAM=yes:custom value
BEGIN:VALARM
ACTION:DISPLAY
DESCRIPTION:Reminder
TRIGGER:-PT15M
END:VALARM
END:VEVENT
BEGIN:VEVENT
UID:meeting-1@example.com
RECURRENCE-ID;TZID=Europe/Berlin:20260316T100000
DTSTAMP:20260301T080000Z
SUMMARY:Planning (moved)
DTSTART;TZID=Europe/Berlin:20260316T140000
DTEND;TZID=Europe/Berlin:20260316T150000
END:VEVENT
END:VCALENDAR
`)

func TestDecode_InterpretsFields(t *testing.T) {
	// when
	e, err := Decode(meetingWithExtras)

	// then
	require.NoError(t, err)
	berlin, _ := time.LoadLocation("Europe/Berlin")
	assert.Equal(t, "meeting-1@example.com", e.UID)
	assert.Equal(t, "Planning, Q2", e.Summary)
	assert.Equal(t, "Line one\nLine two", e.Description)
	assert.Equal(t, "Room 4", e.Location)
	assert.Equal(t, "Europe/Berlin", e.TZID)
	assert.True(t, time.Date(2026, 3, 2, 10, 0, 0, 0, berlin).Equal(e.Start))
	assert.True(t, time.Date(2026, 3, 2, 11, 0, 0, 0, berlin).Equal(e.End))
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", e.RRule)
	require.Len(t, e.ExDates, 1)
	assert.True(t, time.Date(2026, 3, 9, 10, 0, 0, 0, berlin).Equal(e.ExDates[0]))
	assert.True(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC).Equal(e.LastModified))
	assert.Equal(t, meetingWithExtras, e.Raw)
	assert.Empty(t, e.ETag)
}

func TestEncode_RoundTripKeepsOpaqueData(t *testing.T) {
	// given
	decoded, err := Decode(meetingWithExtras)
	require.NoError(t, err)

	// when
	text, err := Encode(decoded)
	require.NoError(t, err)
	again, err := Decode(text)
	require.NoError(t, err)

	// then
	assert.True(t, decoded.SameContent(again))
	assert.True(t, decoded.LastModified.Equal(again.LastModified))
	for _, opaque := range []string{
		"X-VENDOR-FLAG:keep-me",
		"BEGIN:VTIMEZONE",
		"BEGIN:VALARM",
		"TRIGGER:-PT15M",
		"mailto:bob@example.com",
		"X-PARAM=yes",
		"custom value",
		"RECURRENCE-ID;TZID=Europe/Berlin:20260316T100000",
		"Planning (moved)",
	} {
		assert.Contains(t, text, opaque)
	}
}

func TestEncode_EditedFieldsArePatchedIntoRaw(t *testing.T) {
	// given
	decoded, err := Decode(meetingWithExtras)
	require.NoError(t, err)
	decoded.Summary = "Planning, Q3"
	decoded.Location = ""
	decoded.RRule = ""
	decoded.ExDates = nil
	decoded.LastModified = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// when
	text, err := Encode(decoded)
	require.NoError(t, err)
	again, err := Decode(text)
	require.NoError(t, err)

	// then
	assert.Equal(t, "Planning, Q3", again.Summary)
	assert.Empty(t, again.Location)
	assert.Empty(t, again.RRule)
	assert.Empty(t, again.ExDates)
	assert.True(t, decoded.LastModified.Equal(again.LastModified))
	assert.Contains(t, text, "BEGIN:VALARM")
}

func TestEncode_NewEventWithoutRaw(t *testing.T) {
	testCases := []struct {
		name  string
		event calendar.Event
	}{
		{
			name: "utc timed",
			event: calendar.Event{
				UID: "abc", Summary: "Lunch",
				Start:        time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
				End:          time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC),
				LastModified: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
			},
		},
		{
			name: "all day with exdate",
			event: calendar.Event{
				UID: "holiday", Summary: "Holiday", AllDay: true, RRule: "FREQ=YEARLY",
				Start:        time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC),
				End:          time.Date(2026, 12, 26, 0, 0, 0, 0, time.UTC),
				ExDates:      []time.Time{time.Date(2027, 12, 25, 0, 0, 0, 0, time.UTC)},
				LastModified: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
			},
		},
		{
			name: "zoned with description",
			event: calendar.Event{
				UID: "zoned", Summary: "Call; with, escapes", Description: "first\nsecond", TZID: "America/New_York",
				Start:        time.Date(2026, 6, 1, 16, 0, 0, 0, time.UTC),
				End:          time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC),
				LastModified: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			text, err := Encode(tc.event)
			require.NoError(t, err)
			assert.Contains(t, text, "PRODID:")
			assert.Contains(t, text, "VERSION:2.0")

			decoded, err := Decode(text)
			require.NoError(t, err)
			assert.True(t, tc.event.SameContent(decoded), "decoded %+v", decoded)
			assert.True(t, tc.event.LastModified.Equal(decoded.LastModified))
			assert.Equal(t, text, decoded.Raw)
		})
	}
}

func TestDecode_DurationAndDefaults(t *testing.T) {
	withDuration := crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:test
BEGIN:VEVENT
UID:d1
DTSTAMP:20260101T000000Z
SUMMARY:Workshop
DTSTART:20260110T090000Z
DURATION:PT1H30M
END:VEVENT
END:VCALENDAR
`)
	e, err := Decode(withDuration)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, e.End.Sub(e.Start))

	for value, want := range map[string]time.Duration{
		"P1D":      24 * time.Hour,
		"P1W":      7 * 24 * time.Hour,
		"P1DT2H3S": 26*time.Hour + 3*time.Second,
	} {
		e, err = Decode(strings.Replace(withDuration, "PT1H30M", value, 1))
		require.NoError(t, err, value)
		assert.Equal(t, want, e.End.Sub(e.Start), value)
	}
	_, err = Decode(strings.Replace(withDuration, "PT1H30M", "PT1D", 1))
	require.ErrorIs(t, err, calendar.ErrParse)

	allDay := crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:test
BEGIN:VEVENT
UID:d2
DTSTAMP:20260101T000000Z
SUMMARY:Offsite
DTSTART;VALUE=DATE:20260110
END:VEVENT
END:VCALENDAR
`)
	e, err = Decode(allDay)
	require.NoError(t, err)
	assert.True(t, e.AllDay)
	assert.Equal(t, 24*time.Hour, e.End.Sub(e.Start))
}

func TestDecode_VendorPrefixedTZID(t *testing.T) {
	text := crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:test
BEGIN:VEVENT
UID:tz
DTSTAMP:20260101T000000Z
SUMMARY:Berlin
DTSTART;TZID=/freeassociation.sourceforge.net/Europe/Berlin:20260110T090000
DTEND;TZID=/freeassociation.sourceforge.net/Europe/Berlin:20260110T100000
END:VEVENT
END:VCALENDAR
`)
	e, err := Decode(text)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", e.TZID)
	assert.Equal(t, 8, e.Start.UTC().Hour())
}

func TestDecode_MalformedInput(t *testing.T) {
	testCases := []struct {
		name      string
		text      string
		component string
	}{
		{"empty", "", "VCALENDAR"},
		{"not icalendar", "hello world", "VCALENDAR"},
		{"no event", crlf("BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:x\nEND:VCALENDAR\n"), "VCALENDAR"},
		{"missing uid", crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:x
BEGIN:VEVENT
DTSTART:20260110T090000Z
SUMMARY:No uid
END:VEVENT
END:VCALENDAR
`), "VEVENT"},
		{"bad dtstart", crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:x
BEGIN:VEVENT
UID:x1
DTSTART:tomorrow
END:VEVENT
END:VCALENDAR
`), "VEVENT"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.text)
			require.ErrorIs(t, err, calendar.ErrParse)
			assert.Contains(t, err.Error(), tc.component)
		})
	}
}

func TestEncode_ZonedEventCarriesItsTimezone(t *testing.T) {
	// given
	event := calendar.Event{
		UID: "berlin", Summary: "Standup", TZID: "Europe/Berlin", RRule: "FREQ=WEEKLY",
		Start:        time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 1, 12, 8, 15, 0, 0, time.UTC),
		ExDates:      []time.Time{time.Date(2026, 7, 13, 7, 0, 0, 0, time.UTC)},
		LastModified: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	// when
	text, err := Encode(event)
	require.NoError(t, err)

	// then
	assert.Equal(t, 1, strings.Count(text, "BEGIN:VTIMEZONE"))
	assert.Less(t, strings.Index(text, "BEGIN:VTIMEZONE"), strings.Index(text, "BEGIN:VEVENT"))
	assert.Contains(t, text, "TZID:Europe/Berlin\r\n")
	assert.Contains(t, text, "BEGIN:DAYLIGHT\r\nDTSTART:20250330T020000\r\n")
	assert.Contains(t, text, "RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU")
	assert.Contains(t, text, "RRULE:FREQ=YEARLY;BYMONTH=10;BYDAY=-1SU")
	assert.Contains(t, text, "TZOFFSETTO:+0200")
	assert.Contains(t, text, "TZOFFSETTO:+0100")
	assert.Contains(t, text, "DTSTART;TZID=Europe/Berlin:20260112T090000")
	assert.Contains(t, text, "EXDATE;TZID=Europe/Berlin:20260713T090000")

	decoded, err := Decode(text)
	require.NoError(t, err)
	assert.True(t, event.SameContent(decoded), "decoded %+v", decoded)

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(again, "BEGIN:VTIMEZONE"))
}

func TestEncode_ZoneWithoutDaylightSaving(t *testing.T) {
	// given
	event := calendar.Event{
		UID: "tokyo", Summary: "Sync", TZID: "Asia/Tokyo",
		Start:        time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC),
		LastModified: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	// when
	text, err := Encode(event)
	require.NoError(t, err)

	// then
	assert.Contains(t, text, "BEGIN:STANDARD")
	assert.NotContains(t, text, "BEGIN:DAYLIGHT")
	assert.Contains(t, text, "TZOFFSETFROM:+0900")
	assert.Contains(t, text, "DTSTART;TZID=Asia/Tokyo:20260302T100000")
}

func TestEncode_ReusesVendorPrefixedTimezone(t *testing.T) {
	// given
	raw := crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:test
BEGIN:VTIMEZONE
TZID:/freeassociation.sourceforge.net/Europe/Berlin
BEGIN:STANDARD
DTSTART:19701025T030000
TZOFFSETFROM:+0200
TZOFFSETTO:+0100
END:STANDARD
END:VTIMEZONE
BEGIN:VEVENT
UID:tz
DTSTAMP:20260101T000000Z
SUMMARY:Berlin
DTSTART;TZID=/freeassociation.sourceforge.net/Europe/Berlin:20260110T090000
DTEND;TZID=/freeassociation.sourceforge.net/Europe/Berlin:20260110T100000
END:VEVENT
END:VCALENDAR
`)
	event, err := Decode(raw)
	require.NoError(t, err)
	event.Summary = "Berlin, moved"
	event.Start = event.Start.Add(time.Hour)
	event.End = event.End.Add(time.Hour)

	// when
	text, err := Encode(event)
	require.NoError(t, err)

	// then
	assert.Equal(t, 1, strings.Count(text, "BEGIN:VTIMEZONE"))
	assert.Contains(t, text, "DTSTART;TZID=/freeassociation.sourceforge.net/Europe/Berlin:20260110T100000")
	decoded, err := Decode(text)
	require.NoError(t, err)
	assert.True(t, event.SameContent(decoded), "decoded %+v", decoded)
}
