package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/internal/utils"
)

const DefaultColor = "#3B82F6"

// Service manages calendars: creation, metadata edits, visibility and removal.
type Service struct {
	repo  Repository
	bus   *event_bus.EventBus
	clock utils.Clock
}

func NewService(repo Repository, bus *event_bus.EventBus, clock utils.Clock) *Service {
	return &Service{repo: repo, bus: bus, clock: clock}
}

// CreateCalendar assigns an id derived from the name when none is given.
// Remote calendars get an Idle sync state in the same transaction.
func (s *Service) CreateCalendar(ctx context.Context, cal Calendar) (Calendar, error) {
	if cal.Color == "" {
		cal.Color = DefaultColor
	}
	cal.CTag = ""
	cal.Revision = 0
	cal.CreatedAt = s.clock.Now().UTC()
	if err := ValidateCalendar(cal); err != nil {
		return Calendar{}, err
	}

	err := s.repo.WithTransaction(ctx, func(repo Repository) error {
		if cal.ID == "" {
			id, err := generateId(ctx, repo, cal.Name)
			if err != nil {
				return err
			}
			cal.ID = id
		}
		if err := repo.CreateCalendar(ctx, cal); err != nil {
			return err
		}
		if cal.IsRemote() {
			return repo.SaveSyncState(ctx, SyncState{CalendarID: cal.ID, Status: SyncIdle})
		}
		return nil
	})
	if err != nil {
		return Calendar{}, err
	}
	log.Infof("created %s calendar %q", cal.Kind, cal.ID)
	s.publish(ctx, event_bus.CalendarChangedType, event_bus.CalendarChanged{CalendarID: cal.ID})
	return cal, nil
}

// generateId turns a name into a slug, suffixing -1, -2, ... until it is unused.
func generateId(ctx context.Context, repo Repository, name string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	base := strings.Trim(b.String(), "-")
	if base == "" {
		base = "calendar"
	}

	id := base
	for counter := 1; ; counter++ {
		_, err := repo.GetCalendar(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
		id = fmt.Sprintf("%s-%d", base, counter)
	}
}

func (s *Service) GetCalendar(ctx context.Context, id string) (Calendar, error) {
	return s.repo.GetCalendar(ctx, id)
}

func (s *Service) ListCalendars(ctx context.Context) ([]Calendar, error) {
	return s.repo.ListCalendars(ctx)
}

// CalendarUpdate carries the editable metadata; nil fields stay unchanged.
type CalendarUpdate struct {
	Name         *string
	Color        *string
	Visible      *bool
	SyncInterval *int
}

func (s *Service) UpdateCalendar(ctx context.Context, id string, update CalendarUpdate) (Calendar, error) {
	var updated Calendar
	err := s.repo.WithTransaction(ctx, func(repo Repository) error {
		cal, err := repo.GetCalendar(ctx, id)
		if err != nil {
			return err
		}
		if update.Name != nil {
			cal.Name = *update.Name
		}
		if update.Color != nil {
			cal.Color = *update.Color
		}
		if update.Visible != nil {
			cal.Visible = *update.Visible
		}
		if update.SyncInterval != nil {
			cal.SyncInterval = secondsToDuration(*update.SyncInterval)
		}
		if err := ValidateCalendar(cal); err != nil {
			return err
		}
		updated = cal
		return repo.UpdateCalendar(ctx, cal)
	})
	if err != nil {
		return Calendar{}, err
	}
	s.publish(ctx, event_bus.CalendarChangedType, event_bus.CalendarChanged{CalendarID: id})
	return updated, nil
}

func (s *Service) SetVisibility(ctx context.Context, id string, visible bool) (Calendar, error) {
	return s.UpdateCalendar(ctx, id, CalendarUpdate{Visible: &visible})
}

func (s *Service) ToggleVisibility(ctx context.Context, id string) (Calendar, error) {
	cal, err := s.repo.GetCalendar(ctx, id)
	if err != nil {
		return Calendar{}, err
	}
	return s.SetVisibility(ctx, id, !cal.Visible)
}

func (s *Service) SetColor(ctx context.Context, id string, color string) (Calendar, error) {
	return s.UpdateCalendar(ctx, id, CalendarUpdate{Color: &color})
}

// DeleteCalendar removes the calendar together with its events, backups and sync state.
func (s *Service) DeleteCalendar(ctx context.Context, id string) error {
	if err := s.repo.DeleteCalendar(ctx, id); err != nil {
		return err
	}
	log.Infof("deleted calendar %q", id)
	s.publish(ctx, event_bus.CalendarRemovedType, event_bus.CalendarRemoved{CalendarID: id})
	return nil
}

// EnsureDefaults creates the "Personal" and "Work" local calendars on an empty store.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	calendars, err := s.repo.ListCalendars(ctx)
	if err != nil {
		return err
	}
	if len(calendars) > 0 {
		return nil
	}
	for _, cal := range []Calendar{
		{ID: "personal", Name: "Personal", Color: DefaultColor, Kind: KindLocal, Visible: true},
		{ID: "work", Name: "Work", Color: "#10B981", Kind: KindLocal, Visible: true},
	} {
		if _, err := s.CreateCalendar(ctx, cal); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType event_bus.EventType, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event_bus.NewEvent(ctx, eventType, data)); err != nil {
		log.Errorf("failed to publish %s: %v", eventType, err)
	}
}
