package event

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/solcal/solcal/pkg/ics"
)

const exportAllName = "All calendars"

type ImportResult struct {
	Imported int
	Skipped  int
	// UIDs lists the imported events so the import can be reverted.
	UIDs []string
}

// Import adds the events of an iCalendar file to a calendar. Events whose
// uid the calendar already has, and events that fail validation, are
// skipped.
func (s *EventServiceImpl) Import(ctx context.Context, calendarID string, text string) (ImportResult, error) {
	cal, err := s.repo.GetCalendar(ctx, calendarID)
	if err != nil {
		return ImportResult{}, err
	}
	events, err := ics.DecodeCalendar(text)
	if err != nil {
		return ImportResult{}, err
	}

	unlock := s.locks.lock(cal.ID)
	defer unlock()

	result := ImportResult{UIDs: []string{}}
	for _, event := range events {
		created, err := s.createLocked(ctx, cal, event)
		switch {
		case err == nil:
			result.Imported++
			result.UIDs = append(result.UIDs, created.UID)
		case errors.Is(err, calendar.ErrConflict):
			log.Debugf("Import into %s: skipping existing event %s", cal.ID, event.UID)
			result.Skipped++
		case errors.Is(err, calendar.ErrValidation):
			log.Warnf("Import into %s: skipping invalid event %s: %v", cal.ID, event.UID, err)
			result.Skipped++
		default:
			return result, err
		}
	}
	log.Infof("Imported %d event(s) into %s, skipped %d", result.Imported, cal.ID, result.Skipped)
	return result, nil
}

// RevertImport deletes the given events, ignoring those already gone. It
// returns how many were deleted.
func (s *EventServiceImpl) RevertImport(ctx context.Context, calendarID string, uids []string) (int, error) {
	cal, err := s.repo.GetCalendar(ctx, calendarID)
	if err != nil {
		return 0, err
	}
	unlock := s.locks.lock(cal.ID)
	defer unlock()

	removed := 0
	for _, uid := range uids {
		err := s.deleteLocked(ctx, cal, uid)
		if errors.Is(err, calendar.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *EventServiceImpl) Export(ctx context.Context, calendarID string) (string, error) {
	cal, err := s.repo.GetCalendar(ctx, calendarID)
	if err != nil {
		return "", err
	}
	events, err := s.repo.ListCalendarEvents(ctx, cal.ID, false)
	if err != nil {
		return "", err
	}
	return ics.EncodeCalendar(cal.Name, events)
}

// ExportAll exports the events of every visible calendar into one file.
func (s *EventServiceImpl) ExportAll(ctx context.Context) (string, error) {
	calendars, err := s.repo.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	var events []calendar.Event
	for _, cal := range calendars {
		if !cal.Visible {
			continue
		}
		calEvents, err := s.repo.ListCalendarEvents(ctx, cal.ID, false)
		if err != nil {
			return "", err
		}
		events = append(events, calEvents...)
	}
	return ics.EncodeCalendar(exportAllName, events)
}

func (s *EventServiceImpl) ListBackups(ctx context.Context, calendarID string) ([]calendar.Backup, error) {
	if _, err := s.repo.GetCalendar(ctx, calendarID); err != nil {
		return nil, err
	}
	return s.repo.ListBackups(ctx, calendarID)
}

// RestoreBackup brings back the version kept in a backup as a new edit of the
// event, then drops the backup.
func (s *EventServiceImpl) RestoreBackup(ctx context.Context, calendarID string, backupID int64) (calendar.Event, error) {
	cal, err := s.repo.GetCalendar(ctx, calendarID)
	if err != nil {
		return calendar.Event{}, err
	}
	unlock := s.locks.lock(cal.ID)
	defer unlock()

	backup, err := s.repo.GetBackup(ctx, cal.ID, backupID)
	if err != nil {
		return calendar.Event{}, err
	}
	restored, err := ics.Decode(backup.Raw)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("backup %d: %w", backupID, err)
	}
	restored.CalendarID = cal.ID

	current, err := s.repo.GetEvent(ctx, cal.ID, restored.UID)
	var result calendar.Event
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		result, err = s.createLocked(ctx, cal, restored)
	case err != nil:
		return calendar.Event{}, err
	case current.Deleted:
		// revive the tombstone instead of pushing its deletion
		current.Deleted = false
		result, err = s.updateLocked(ctx, cal, current, restored)
	default:
		result, err = s.updateLocked(ctx, cal, current, restored)
	}
	if err != nil {
		return calendar.Event{}, err
	}

	if err := s.repo.DeleteBackup(ctx, cal.ID, backupID); err != nil {
		log.Errorf("failed to delete restored backup %d: %v", backupID, err)
	}
	return result, nil
}
