package caldav

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/emersion/go-webdav"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/config"
	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/pkg/calendar"
)

// OAuthClients hands out HTTP clients that carry an account's OAuth2 token.
type OAuthClients interface {
	Client(ctx context.Context, accountID string) (*http.Client, error)
}

// Factory builds the client of one configured account.
type Factory func(ctx context.Context, accountID string, account config.Account) (Client, error)

// Pool keeps one Client per account and drops it when the account's
// configuration changes, so the next sync picks up new credentials.
type Pool struct {
	mu      sync.Mutex
	store   *config.Store
	oauth   OAuthClients
	factory Factory
	clients map[string]Client
}

func NewPool(store *config.Store, oauth OAuthClients, bus *event_bus.EventBus) *Pool {
	p := &Pool{store: store, oauth: oauth, clients: make(map[string]Client)}
	p.factory = p.newClient
	p.subscribe(bus)
	return p
}

// NewPoolWithFactory is NewPool with a custom client constructor.
func NewPoolWithFactory(store *config.Store, factory Factory, bus *event_bus.EventBus) *Pool {
	p := &Pool{store: store, factory: factory, clients: make(map[string]Client)}
	p.subscribe(bus)
	return p
}

func (p *Pool) subscribe(bus *event_bus.EventBus) {
	if bus == nil {
		return
	}
	event_bus.SubscribeTyped(bus, event_bus.ConfigUpdatedType, func(e event_bus.EventT[event_bus.ConfigUpdated]) error {
		p.Invalidate(e.Data.ChangedAccounts...)
		return nil
	})
}

func (p *Pool) ClientFor(ctx context.Context, accountID string) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[accountID]; ok {
		return client, nil
	}
	account, ok := p.store.Get().Accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: account %q is not configured", calendar.ErrAuth, accountID)
	}
	client, err := p.factory(ctx, accountID, account)
	if err != nil {
		return nil, err
	}
	p.clients[accountID] = client
	return client, nil
}

func (p *Pool) Invalidate(accountIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range accountIDs {
		if _, ok := p.clients[id]; ok {
			log.Debugf("Dropping CalDAV client of account %s", id)
			delete(p.clients, id)
		}
	}
}

func (p *Pool) newClient(ctx context.Context, accountID string, account config.Account) (Client, error) {
	var httpClient webdav.HTTPClient
	switch account.Auth {
	case config.AuthGoogle:
		if p.oauth == nil {
			return nil, fmt.Errorf("%w: account %s: OAuth2 is not configured", calendar.ErrAuth, accountID)
		}
		oauthClient, err := p.oauth.Client(ctx, accountID)
		if err != nil {
			return nil, err
		}
		httpClient = oauthClient
	default:
		secret, err := account.ResolveCredential()
		if err != nil {
			return nil, fmt.Errorf("%w: account %s: %v", calendar.ErrAuth, accountID, err)
		}
		httpClient = webdav.HTTPClientWithBasicAuth(&http.Client{}, account.Username, secret)
	}
	return NewClient(account.URL, httpClient, p.store.Get().Sync.RequestTimeout)
}
