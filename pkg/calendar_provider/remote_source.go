package calendar_provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/pkg/caldav"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/solcal/solcal/pkg/ics"
)

// RemoteSource writes through to a CalDAV collection: a mutation returns
// only after the server acknowledged it, and the local copy then records the
// server etag and href.
type RemoteSource struct {
	repo     calendar.Repository
	client   caldav.Client
	calendar calendar.Calendar
}

func (s *RemoteSource) source() {}

func (s *RemoteSource) Calendar() calendar.Calendar {
	return s.calendar
}

func (s *RemoteSource) Collection() string {
	return s.calendar.RemoteURL
}

func (s *RemoteSource) ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	resources, err := s.client.QueryRange(ctx, s.Collection(), from, to)
	if err != nil {
		return nil, err
	}
	events := make([]calendar.Event, 0, len(resources))
	for _, res := range resources {
		event, err := s.DecodeResource(res)
		if err != nil {
			log.Warnf("Skipping unreadable resource %s of calendar %s: %v", res.Href, s.calendar.ID, err)
			continue
		}
		if overlaps(event, from, to) {
			events = append(events, event)
		}
	}
	return events, nil
}

func (s *RemoteSource) GetEvent(ctx context.Context, uid string) (calendar.Event, error) {
	local, err := s.repo.GetEvent(ctx, s.calendar.ID, uid)
	if err != nil {
		return calendar.Event{}, err
	}
	if local.Deleted || local.Href == "" {
		return calendar.Event{}, fmt.Errorf("%w: event %s is not on the server", calendar.ErrNotFound, uid)
	}
	resources, err := s.client.FetchResources(ctx, s.Collection(), []string{local.Href})
	if err != nil {
		return calendar.Event{}, err
	}
	if len(resources) == 0 {
		return calendar.Event{}, fmt.Errorf("%w: %s", calendar.ErrNotFound, local.Href)
	}
	return s.DecodeResource(resources[0])
}

func (s *RemoteSource) CreateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error) {
	if _, err := s.repo.GetEvent(ctx, s.calendar.ID, event.UID); err == nil {
		return calendar.Event{}, fmt.Errorf("%w: event %s already exists in calendar %s", calendar.ErrConflict, event.UID, s.calendar.ID)
	} else if !errors.Is(err, calendar.ErrNotFound) {
		return calendar.Event{}, err
	}

	event.CalendarID = s.calendar.ID
	event.ETag, event.Href = "", ""
	etag, href, err := s.Push(ctx, event)
	if err != nil {
		return calendar.Event{}, err
	}
	event.ETag, event.Href, event.Pending, event.Deleted = etag, href, false, false
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		return calendar.Event{}, err
	}
	return event, nil
}

func (s *RemoteSource) UpdateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error) {
	current, err := s.repo.GetEvent(ctx, s.calendar.ID, event.UID)
	if err != nil {
		return calendar.Event{}, err
	}
	event.CalendarID = s.calendar.ID
	event.ETag, event.Href = current.ETag, current.Href
	etag, href, err := s.Push(ctx, event)
	if err != nil {
		return calendar.Event{}, err
	}
	event.ETag, event.Href, event.Pending, event.Deleted = etag, href, false, false
	if err := s.repo.UpdateEvent(ctx, event); err != nil {
		return calendar.Event{}, err
	}
	return event, nil
}

func (s *RemoteSource) DeleteEvent(ctx context.Context, event calendar.Event) error {
	current, err := s.repo.GetEvent(ctx, s.calendar.ID, event.UID)
	if err != nil {
		return err
	}
	if err := s.DeleteRemote(ctx, current); err != nil {
		return err
	}
	return s.repo.DeleteEvent(ctx, s.calendar.ID, event.UID)
}

func (s *RemoteSource) ChangeIndicator(ctx context.Context) (string, error) {
	return s.client.GetCTag(ctx, s.Collection())
}

func (s *RemoteSource) ListETags(ctx context.Context) (map[string]string, error) {
	return s.client.ListETags(ctx, s.Collection())
}

func (s *RemoteSource) FetchResources(ctx context.Context, hrefs []string) ([]caldav.Resource, error) {
	return s.client.FetchResources(ctx, s.Collection(), hrefs)
}

// Push uploads the event's payload. An event without href is created, one
// with href is updated conditionally on its etag. It returns the server etag
// and the href the event lives at.
func (s *RemoteSource) Push(ctx context.Context, event calendar.Event) (string, string, error) {
	href, ifMatch := event.Href, event.ETag
	if href == "" {
		href, ifMatch = caldav.ResourceHref(s.Collection(), event.UID), ""
	}
	etag, err := s.client.Put(ctx, href, event.Raw, ifMatch)
	if err != nil {
		return "", "", err
	}
	return etag, href, nil
}

// DeleteRemote removes the event's resource. A resource that is already gone
// counts as deleted.
func (s *RemoteSource) DeleteRemote(ctx context.Context, event calendar.Event) error {
	if event.Href == "" {
		return nil
	}
	err := s.client.Delete(ctx, event.Href, event.ETag)
	if errors.Is(err, calendar.ErrNotFound) {
		log.Debugf("Resource %s was already deleted on the server", event.Href)
		return nil
	}
	return err
}

// DecodeResource turns a fetched resource into an event of this calendar.
func (s *RemoteSource) DecodeResource(res caldav.Resource) (calendar.Event, error) {
	event, err := ics.Decode(res.Data)
	if err != nil {
		return calendar.Event{}, err
	}
	event.CalendarID = s.calendar.ID
	event.Href = res.Href
	event.ETag = res.ETag
	return event, nil
}
