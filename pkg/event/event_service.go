package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/internal/utils"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/solcal/solcal/pkg/calendar_provider"
	"github.com/solcal/solcal/pkg/ics"
)

type EventService interface {
	CreateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error)
	UpdateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID string, uid string) error
	GetEvent(ctx context.Context, calendarID string, uid string) (calendar.Event, error)
	ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error)
	ListCalendarEvents(ctx context.Context, calendarID string, from, to time.Time) ([]calendar.Event, error)

	Import(ctx context.Context, calendarID string, text string) (ImportResult, error)
	RevertImport(ctx context.Context, calendarID string, uids []string) (int, error)
	Export(ctx context.Context, calendarID string) (string, error)
	ExportAll(ctx context.Context) (string, error)
	ListBackups(ctx context.Context, calendarID string) ([]calendar.Backup, error)
	RestoreBackup(ctx context.Context, calendarID string, backupID int64) (calendar.Event, error)
}

type SourceProvider interface {
	SourceFor(ctx context.Context, cal calendar.Calendar) (calendar_provider.Source, error)
}

// EventServiceImpl is the only writer of events. It validates, routes the
// mutation to the calendar's source and announces the affected range so
// derived views can be dropped.
type EventServiceImpl struct {
	repo    calendar.Repository
	sources SourceProvider
	bus     *event_bus.EventBus
	clock   utils.Clock
	locks   *calendarLocks
}

func NewEventService(repo calendar.Repository, sources SourceProvider, bus *event_bus.EventBus, clock utils.Clock) *EventServiceImpl {
	return &EventServiceImpl{repo: repo, sources: sources, bus: bus, clock: clock, locks: newCalendarLocks()}
}

func (s *EventServiceImpl) CreateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error) {
	cal, err := s.repo.GetCalendar(ctx, event.CalendarID)
	if err != nil {
		return calendar.Event{}, err
	}
	unlock := s.locks.lock(cal.ID)
	defer unlock()
	return s.createLocked(ctx, cal, event)
}

func (s *EventServiceImpl) createLocked(ctx context.Context, cal calendar.Calendar, event calendar.Event) (calendar.Event, error) {
	if event.UID == "" {
		event.UID = uuid.NewString()
	}
	event.CalendarID = cal.ID
	event.ETag, event.Href, event.Pending, event.Deleted = "", "", false, false
	event.LastModified = s.now()
	if err := calendar.ValidateEvent(event); err != nil {
		return calendar.Event{}, err
	}
	raw, err := ics.Encode(event)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("%w: %v", calendar.ErrValidation, err)
	}
	event.Raw = raw

	source, err := s.sources.SourceFor(ctx, cal)
	if err != nil {
		return calendar.Event{}, err
	}
	created, err := source.CreateEvent(ctx, event)
	if err != nil && cal.IsRemote() && errors.Is(err, calendar.ErrNetwork) {
		log.Warnf("Server of calendar %s unreachable, keeping event %s for the next sync: %v", cal.ID, event.UID, err)
		event.Pending = true
		if err := s.repo.InsertEvent(ctx, event); err != nil {
			return calendar.Event{}, err
		}
		created, err = event, nil
	}
	if err != nil {
		return calendar.Event{}, err
	}

	from, to := created.AffectedRange()
	s.publishChange(ctx, created, event_bus.EventCreated, from, to)
	return created, nil
}

// UpdateEvent replaces the interpreted fields of an existing event. Anything
// else its stored payload carries is kept.
func (s *EventServiceImpl) UpdateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error) {
	cal, err := s.repo.GetCalendar(ctx, event.CalendarID)
	if err != nil {
		return calendar.Event{}, err
	}
	unlock := s.locks.lock(cal.ID)
	defer unlock()

	current, err := s.current(ctx, cal.ID, event.UID)
	if err != nil {
		return calendar.Event{}, err
	}
	event.Raw = current.Raw
	return s.updateLocked(ctx, cal, current, event)
}

// updateLocked writes event over current. event.Raw is the payload the
// interpreted fields are patched into.
func (s *EventServiceImpl) updateLocked(ctx context.Context, cal calendar.Calendar, current, event calendar.Event) (calendar.Event, error) {
	event.CalendarID = cal.ID
	event.ETag, event.Href, event.Deleted = current.ETag, current.Href, false
	event.Pending = current.Pending
	if event.SameContent(current) && event.Raw == current.Raw {
		return current, nil
	}
	event.LastModified = s.now()
	if err := calendar.ValidateEvent(event); err != nil {
		return calendar.Event{}, err
	}
	raw, err := ics.Encode(event)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("%w: %v", calendar.ErrValidation, err)
	}
	event.Raw = raw

	var updated calendar.Event
	if cal.IsRemote() && current.Pending {
		// earlier edits are still queued; this one joins them
		updated, err = s.storePending(ctx, event)
	} else {
		source, srcErr := s.sources.SourceFor(ctx, cal)
		if srcErr != nil {
			return calendar.Event{}, srcErr
		}
		updated, err = source.UpdateEvent(ctx, event)
		if err != nil && cal.IsRemote() && errors.Is(err, calendar.ErrNetwork) {
			log.Warnf("Server of calendar %s unreachable, keeping change of %s for the next sync: %v", cal.ID, event.UID, err)
			updated, err = s.storePending(ctx, event)
		}
	}
	if err != nil {
		return calendar.Event{}, err
	}

	oldFrom, oldTo := current.AffectedRange()
	newFrom, newTo := updated.AffectedRange()
	from, to := calendar.Span(oldFrom, oldTo, newFrom, newTo)
	s.publishChange(ctx, updated, event_bus.EventUpdated, from, to)
	return updated, nil
}

func (s *EventServiceImpl) storePending(ctx context.Context, event calendar.Event) (calendar.Event, error) {
	event.Pending = true
	if err := s.repo.UpdateEvent(ctx, event); err != nil {
		return calendar.Event{}, err
	}
	return event, nil
}

func (s *EventServiceImpl) DeleteEvent(ctx context.Context, calendarID string, uid string) error {
	cal, err := s.repo.GetCalendar(ctx, calendarID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(cal.ID)
	defer unlock()
	return s.deleteLocked(ctx, cal, uid)
}

func (s *EventServiceImpl) deleteLocked(ctx context.Context, cal calendar.Calendar, uid string) error {
	current, err := s.current(ctx, cal.ID, uid)
	if err != nil {
		return err
	}
	source, err := s.sources.SourceFor(ctx, cal)
	if err != nil {
		return err
	}
	err = source.DeleteEvent(ctx, current)
	if err != nil && cal.IsRemote() && errors.Is(err, calendar.ErrNetwork) {
		log.Warnf("Server of calendar %s unreachable, deletion of %s waits for the next sync: %v", cal.ID, uid, err)
		if current.Href == "" {
			err = s.repo.DeleteEvent(ctx, cal.ID, uid)
		} else {
			tombstone := current
			tombstone.Deleted, tombstone.Pending = true, true
			tombstone.LastModified = s.now()
			err = s.repo.UpdateEvent(ctx, tombstone)
		}
	}
	if err != nil {
		return err
	}

	from, to := current.AffectedRange()
	s.publishChange(ctx, current, event_bus.EventDeleted, from, to)
	return nil
}

func (s *EventServiceImpl) GetEvent(ctx context.Context, calendarID string, uid string) (calendar.Event, error) {
	return s.current(ctx, calendarID, uid)
}

// ListEvents returns the events of all visible calendars overlapping [from, to).
func (s *EventServiceImpl) ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", calendar.ErrValidation)
	}
	return s.repo.ListVisibleEvents(ctx, from, to)
}

func (s *EventServiceImpl) ListCalendarEvents(ctx context.Context, calendarID string, from, to time.Time) ([]calendar.Event, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", calendar.ErrValidation)
	}
	if _, err := s.repo.GetCalendar(ctx, calendarID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, calendarID, from, to)
}

// current loads an event, hiding tombstones.
func (s *EventServiceImpl) current(ctx context.Context, calendarID string, uid string) (calendar.Event, error) {
	event, err := s.repo.GetEvent(ctx, calendarID, uid)
	if err != nil {
		return calendar.Event{}, err
	}
	if event.Deleted {
		return calendar.Event{}, fmt.Errorf("%w: event %s in calendar %s", calendar.ErrNotFound, uid, calendarID)
	}
	return event, nil
}

// now is second precise, the resolution iCalendar timestamps carry.
func (s *EventServiceImpl) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

func (s *EventServiceImpl) publishChange(ctx context.Context, event calendar.Event, op event_bus.EventOperation, from, to time.Time) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(event_bus.NewEvent(ctx, event_bus.EventChangedType, event_bus.EventChanged{
		CalendarID:   event.CalendarID,
		UID:          event.UID,
		Operation:    op,
		AffectedFrom: from,
		AffectedTo:   to,
		Pending:      event.Pending,
	}))
	if err != nil {
		log.Errorf("failed to publish change of event %s: %v", event.UID, err)
	}
}
