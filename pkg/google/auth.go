package google

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/config"
	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/pkg/calendar"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CalendarScope grants CalDAV access to Google calendars.
const CalendarScope = "https://www.googleapis.com/auth/calendar"

// GoogleAuth runs the OAuth2 consent flow for accounts configured with
// auth "google" and hands out HTTP clients carrying their tokens.
type GoogleAuth struct {
	db       *sql.DB
	store    *config.Store
	bus      *event_bus.EventBus
	endpoint oauth2.Endpoint
	mu       sync.Mutex
}

func NewGoogleAuth(db *sql.DB, store *config.Store, bus *event_bus.EventBus) *GoogleAuth {
	return &GoogleAuth{db: db, store: store, bus: bus, endpoint: google.Endpoint}
}

func (g *GoogleAuth) oauthConfig() *oauth2.Config {
	cfg := g.store.Get()
	return &oauth2.Config{
		ClientID:     cfg.Google.ClientId,
		ClientSecret: cfg.Google.ClientSecret,
		Endpoint:     g.endpoint,
		RedirectURL:  cfg.Host + "/api/integrations/google/auth/callback",
		Scopes:       []string{CalendarScope},
	}
}

// Client returns an HTTP client authorized as accountID. Refreshed tokens
// are written back to the database.
func (g *GoogleAuth) Client(ctx context.Context, accountID string) (*http.Client, error) {
	token, err := g.getToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("%w: account %s has not been authorized with Google", calendar.ErrAuth, accountID)
	}
	refreshing := g.oauthConfig().TokenSource(context.Background(), token)
	source := oauth2.ReuseTokenSource(token, &persistingSource{auth: g, accountID: accountID, base: refreshing})
	return oauth2.NewClient(context.Background(), source), nil
}

func (g *GoogleAuth) getToken(ctx context.Context, accountID string) (*oauth2.Token, error) {
	var token oauth2.Token
	var accessToken, refreshToken sql.NullString
	var expiry sql.NullInt64
	err := g.db.QueryRowContext(ctx, "SELECT access_token, refresh_token, expiry FROM oauth_tokens WHERE account_id = ?", accountID).
		Scan(&accessToken, &refreshToken, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: unable to retrieve Google auth token: %v", calendar.ErrStorage, err)
	}
	if !accessToken.Valid {
		// consent started but never completed
		return nil, nil
	}

	token.AccessToken = accessToken.String
	token.RefreshToken = refreshToken.String
	token.TokenType = "Bearer"
	if expiry.Valid {
		token.Expiry = time.Unix(expiry.Int64, 0)
	}
	return &token, nil
}

func (g *GoogleAuth) saveToken(ctx context.Context, accountID string, token *oauth2.Token) error {
	_, err := g.db.ExecContext(ctx, "UPDATE oauth_tokens SET access_token = ?, refresh_token = ?, expiry = ? WHERE account_id = ?",
		token.AccessToken, token.RefreshToken, token.Expiry.Unix(), accountID)
	if err != nil {
		return fmt.Errorf("%w: unable to store Google auth token: %v", calendar.ErrStorage, err)
	}
	return nil
}

// credentialsChanged lets the CalDAV pool drop its client and the sync engine
// lift a halt caused by rejected credentials.
func (g *GoogleAuth) credentialsChanged(ctx context.Context, accountID string) {
	if g.bus == nil {
		return
	}
	event := event_bus.NewEvent(ctx, event_bus.ConfigUpdatedType, event_bus.ConfigUpdated{ChangedAccounts: []string{accountID}})
	if err := g.bus.Publish(event); err != nil {
		log.Errorf("failed to publish credential change of account %s: %v", accountID, err)
	}
}

type persistingSource struct {
	auth      *GoogleAuth
	accountID string
	base      oauth2.TokenSource
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh Google token of %s: %v", calendar.ErrAuth, s.accountID, err)
	}
	s.auth.mu.Lock()
	defer s.auth.mu.Unlock()
	if err := s.auth.saveToken(context.Background(), s.accountID, token); err != nil {
		log.Errorf("failed to persist refreshed token of account %s: %v", s.accountID, err)
	}
	return token, nil
}
