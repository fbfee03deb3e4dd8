package calendar_provider

import (
	"context"
	"fmt"

	"github.com/solcal/solcal/pkg/caldav"
	"github.com/solcal/solcal/pkg/calendar"
)

// ClientProvider hands out the CalDAV client of a configured account.
type ClientProvider interface {
	ClientFor(ctx context.Context, accountID string) (caldav.Client, error)
}

type Provider struct {
	repo    calendar.Repository
	clients ClientProvider
}

func NewProvider(repo calendar.Repository, clients ClientProvider) *Provider {
	return &Provider{repo: repo, clients: clients}
}

// SourceFor resolves the source serving cal.
func (p *Provider) SourceFor(ctx context.Context, cal calendar.Calendar) (Source, error) {
	switch cal.Kind {
	case calendar.KindLocal:
		return &LocalSource{repo: p.repo, calendar: cal}, nil
	case calendar.KindRemote:
		return p.RemoteFor(ctx, cal)
	}
	return nil, fmt.Errorf("%w: calendar %s has unknown kind %q", calendar.ErrValidation, cal.ID, cal.Kind)
}

func (p *Provider) RemoteFor(ctx context.Context, cal calendar.Calendar) (*RemoteSource, error) {
	if !cal.IsRemote() {
		return nil, fmt.Errorf("%w: calendar %s is not a remote calendar", calendar.ErrValidation, cal.ID)
	}
	client, err := p.clients.ClientFor(ctx, cal.AccountID)
	if err != nil {
		return nil, err
	}
	return &RemoteSource{repo: p.repo, client: client, calendar: cal}, nil
}

// Discover lists the event collections of an account, ready to be added as
// remote calendars.
func (p *Provider) Discover(ctx context.Context, accountID string) ([]caldav.Collection, error) {
	client, err := p.clients.ClientFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return client.DiscoverCollections(ctx)
}
