package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const eventColumns = `calendar_id, uid, summary, description, location, start_ms, end_ms, tzid, all_day, rrule, exdates,
	etag, href, last_modified_ms, raw, pending, deleted`

// InsertEvent fails with ErrConflict when the uid already exists in the calendar; the stored row is left untouched.
func (r *RepositoryImpl) InsertEvent(ctx context.Context, event Event) error {
	query := `INSERT INTO events (` + eventColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT (calendar_id, uid) DO NOTHING`
	res, err := r.getQueryer().ExecContext(ctx, query, eventArgs(event)...)
	if err != nil {
		return storageErr("could not insert event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: event %q already exists in calendar %q", ErrConflict, event.UID, event.CalendarID)
	}
	return nil
}

func (r *RepositoryImpl) GetEvent(ctx context.Context, calendarId string, uid string) (Event, error) {
	row := r.getQueryer().QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE calendar_id = ? AND uid = ?`,
		calendarId, uid)
	event, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("%w: event %q in calendar %q", ErrNotFound, uid, calendarId)
	}
	if err != nil {
		return Event{}, storageErr("could not read event", err)
	}
	return event, nil
}

func (r *RepositoryImpl) UpdateEvent(ctx context.Context, event Event) error {
	query := `UPDATE events SET summary = ?, description = ?, location = ?, start_ms = ?, end_ms = ?, tzid = ?, all_day = ?,
			  	rrule = ?, exdates = ?, etag = ?, href = ?, last_modified_ms = ?, raw = ?, pending = ?, deleted = ?
			  WHERE calendar_id = ? AND uid = ?`
	args := eventArgs(event)
	// reorder: value columns first, key columns last
	res, err := r.getQueryer().ExecContext(ctx, query, append(args[2:], args[0], args[1])...)
	if err != nil {
		return storageErr("could not update event", err)
	}
	return expectOneRow(res, fmt.Sprintf("event %q in calendar %q", event.UID, event.CalendarID))
}

func (r *RepositoryImpl) DeleteEvent(ctx context.Context, calendarId string, uid string) error {
	res, err := r.getQueryer().ExecContext(ctx, `DELETE FROM events WHERE calendar_id = ? AND uid = ?`, calendarId, uid)
	if err != nil {
		return storageErr("could not delete event", err)
	}
	return expectOneRow(res, fmt.Sprintf("event %q in calendar %q", uid, calendarId))
}

// ListEvents returns the events of a calendar overlapping [from, to). Recurring
// events are returned when their series starts before to; callers expand them.
func (r *RepositoryImpl) ListEvents(ctx context.Context, calendarId string, from, to time.Time) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
			  WHERE calendar_id = ?
			    AND deleted = 0
			    AND start_ms < ?
			    AND (end_ms > ? OR rrule <> '' OR (end_ms = start_ms AND start_ms >= ?))
			  ORDER BY start_ms, uid`
	return r.queryEvents(ctx, query, calendarId, to.UnixMilli(), from.UnixMilli(), from.UnixMilli())
}

func (r *RepositoryImpl) ListVisibleEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	query := `SELECT ` + prefixed("e", eventColumns) + ` FROM events e
			  JOIN calendars c ON c.id = e.calendar_id
			  WHERE c.visible = 1
			    AND e.deleted = 0
			    AND e.start_ms < ?
			    AND (e.end_ms > ? OR e.rrule <> '' OR (e.end_ms = e.start_ms AND e.start_ms >= ?))
			  ORDER BY e.start_ms, e.calendar_id, e.uid`
	return r.queryEvents(ctx, query, to.UnixMilli(), from.UnixMilli(), from.UnixMilli())
}

func (r *RepositoryImpl) ListCalendarEvents(ctx context.Context, calendarId string, includeDeleted bool) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE calendar_id = ? AND (deleted = 0 OR ?) ORDER BY start_ms, uid`
	return r.queryEvents(ctx, query, calendarId, boolToInt(includeDeleted))
}

func (r *RepositoryImpl) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := r.getQueryer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("could not query events", err)
	}
	defer rows.Close()

	events := make([]Event, 0, 10)
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, storageErr("could not scan event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("could not iterate events", err)
	}
	return events, nil
}

func prefixed(alias string, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func eventArgs(e Event) []any {
	return []any{
		e.CalendarID,
		e.UID,
		e.Summary,
		e.Description,
		e.Location,
		e.Start.UnixMilli(),
		e.End.UnixMilli(),
		e.TZID,
		boolToInt(e.AllDay),
		e.RRule,
		encodeExDates(e.ExDates),
		nullString(e.ETag),
		nullString(e.Href),
		e.LastModified.UnixMilli(),
		e.Raw,
		boolToInt(e.Pending),
		boolToInt(e.Deleted),
	}
}

func scanEvent(scan func(dest ...any) error) (Event, error) {
	var e Event
	var startMs, endMs, lastModifiedMs int64
	var allDay, pending, deleted int
	var exdates string
	var etag, href sql.NullString
	err := scan(&e.CalendarID, &e.UID, &e.Summary, &e.Description, &e.Location, &startMs, &endMs, &e.TZID, &allDay,
		&e.RRule, &exdates, &etag, &href, &lastModifiedMs, &e.Raw, &pending, &deleted)
	if err != nil {
		return Event{}, err
	}
	e.AllDay = allDay == 1
	e.Start = restoreTime(startMs, e.TZID, e.AllDay)
	e.End = restoreTime(endMs, e.TZID, e.AllDay)
	e.ExDates, err = decodeExDates(exdates, e.TZID, e.AllDay)
	if err != nil {
		return Event{}, err
	}
	e.ETag = etag.String
	e.Href = href.String
	e.LastModified = time.UnixMilli(lastModifiedMs).UTC()
	e.Pending = pending == 1
	e.Deleted = deleted == 1
	return e, nil
}

// restoreTime puts a stored instant back into the event's zone. All-day dates are stored as UTC midnight.
func restoreTime(ms int64, tzid string, allDay bool) time.Time {
	t := time.UnixMilli(ms).UTC()
	if allDay || tzid == "" {
		return t
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return t.In(loc)
	}
	return t
}

func encodeExDates(dates []time.Time) string {
	parts := make([]string, 0, len(dates))
	for _, d := range dates {
		parts = append(parts, strconv.FormatInt(d.UnixMilli(), 10))
	}
	return strings.Join(parts, ",")
}

func decodeExDates(value string, tzid string, allDay bool) ([]time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	dates := make([]time.Time, 0, len(parts))
	for _, p := range parts {
		ms, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid exdate %q: %w", p, err)
		}
		dates = append(dates, restoreTime(ms, tzid, allDay))
	}
	return dates, nil
}
