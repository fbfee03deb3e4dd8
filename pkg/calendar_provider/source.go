package calendar_provider

import (
	"context"
	"time"

	"github.com/solcal/solcal/pkg/calendar"
)

// Source is the uniform event access of one calendar. The set of sources is
// closed: LocalSource and RemoteSource.
type Source interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error)
	GetEvent(ctx context.Context, uid string) (calendar.Event, error)
	CreateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error)
	UpdateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error)
	DeleteEvent(ctx context.Context, event calendar.Event) error
	// ChangeIndicator changes whenever the calendar's content changes: the
	// revision counter for local calendars, the ctag for remote ones.
	ChangeIndicator(ctx context.Context) (string, error)

	source()
}

func overlaps(e calendar.Event, from, to time.Time) bool {
	if !e.Start.Before(to) {
		return false
	}
	if e.IsRecurring() || e.End.After(from) {
		return true
	}
	return e.End.Equal(e.Start) && !e.Start.Before(from)
}
