package calendar_provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/pkg/calendar"
)

// EventCreator is the write path copied events go through.
type EventCreator interface {
	CreateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error)
}

type CopyResult struct {
	Copied  int
	Skipped int
	Failed  int
}

// Migrator copies events between calendars of any kind, e.g. to import a
// remote calendar into a local one or to publish a local one to a server.
type Migrator struct {
	repo     calendar.Repository
	provider *Provider
	creator  EventCreator
}

func NewMigrator(repo calendar.Repository, provider *Provider, creator EventCreator) *Migrator {
	return &Migrator{repo: repo, provider: provider, creator: creator}
}

// CopyEvents copies the events of fromCalendarID overlapping [from, to) into
// toCalendarID. Events whose uid already exists in the target are skipped;
// other failures are counted and the copy goes on.
func (m *Migrator) CopyEvents(ctx context.Context, fromCalendarID, toCalendarID string, from, to time.Time) (CopyResult, error) {
	if fromCalendarID == toCalendarID {
		return CopyResult{}, fmt.Errorf("%w: source and target calendar are the same", calendar.ErrValidation)
	}
	if !from.Before(to) {
		return CopyResult{}, fmt.Errorf("%w: from must be before to", calendar.ErrValidation)
	}
	sourceCal, err := m.repo.GetCalendar(ctx, fromCalendarID)
	if err != nil {
		return CopyResult{}, err
	}
	if _, err := m.repo.GetCalendar(ctx, toCalendarID); err != nil {
		return CopyResult{}, err
	}
	source, err := m.provider.SourceFor(ctx, sourceCal)
	if err != nil {
		return CopyResult{}, err
	}
	events, err := source.ListEvents(ctx, from, to)
	if err != nil {
		return CopyResult{}, fmt.Errorf("failed to get events from calendar %s: %w", fromCalendarID, err)
	}

	var result CopyResult
	for _, event := range events {
		event.CalendarID = toCalendarID
		event.ETag, event.Href, event.Pending, event.Deleted = "", "", false, false
		_, err := m.creator.CreateEvent(ctx, event)
		switch {
		case err == nil:
			result.Copied++
		case errors.Is(err, calendar.ErrConflict):
			result.Skipped++
		default:
			log.Errorf("failed to copy event %s to calendar %s: %v. Trying to continue", event.UID, toCalendarID, err)
			result.Failed++
		}
	}
	log.Infof("Copied %d event(s) from %s to %s (%d skipped, %d failed)", result.Copied, fromCalendarID, toCalendarID, result.Skipped, result.Failed)
	return result, nil
}
