package calendar_provider

import (
	"context"
	"strconv"
	"time"

	"github.com/solcal/solcal/pkg/calendar"
)

// LocalSource keeps events in the local store only. Every mutation bumps the
// calendar revision in the same transaction.
type LocalSource struct {
	repo     calendar.Repository
	calendar calendar.Calendar
}

func (s *LocalSource) source() {}

func (s *LocalSource) ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	return s.repo.ListEvents(ctx, s.calendar.ID, from, to)
}

func (s *LocalSource) GetEvent(ctx context.Context, uid string) (calendar.Event, error) {
	return s.repo.GetEvent(ctx, s.calendar.ID, uid)
}

func (s *LocalSource) CreateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error) {
	event.CalendarID = s.calendar.ID
	event.ETag, event.Href, event.Pending, event.Deleted = "", "", false, false
	err := s.repo.WithTransaction(ctx, func(repo calendar.Repository) error {
		if err := repo.InsertEvent(ctx, event); err != nil {
			return err
		}
		_, err := repo.BumpRevision(ctx, s.calendar.ID)
		return err
	})
	if err != nil {
		return calendar.Event{}, err
	}
	return event, nil
}

func (s *LocalSource) UpdateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error) {
	event.CalendarID = s.calendar.ID
	event.ETag, event.Href, event.Pending, event.Deleted = "", "", false, false
	err := s.repo.WithTransaction(ctx, func(repo calendar.Repository) error {
		if err := repo.UpdateEvent(ctx, event); err != nil {
			return err
		}
		_, err := repo.BumpRevision(ctx, s.calendar.ID)
		return err
	})
	if err != nil {
		return calendar.Event{}, err
	}
	return event, nil
}

func (s *LocalSource) DeleteEvent(ctx context.Context, event calendar.Event) error {
	return s.repo.WithTransaction(ctx, func(repo calendar.Repository) error {
		if err := repo.DeleteEvent(ctx, s.calendar.ID, event.UID); err != nil {
			return err
		}
		_, err := repo.BumpRevision(ctx, s.calendar.ID)
		return err
	})
}

func (s *LocalSource) ChangeIndicator(ctx context.Context) (string, error) {
	cal, err := s.repo.GetCalendar(ctx, s.calendar.ID)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(cal.Revision, 10), nil
}
