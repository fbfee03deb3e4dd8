package calendar_provider

import (
	"context"
	"testing"
	"time"

	"github.com/solcal/solcal/internal/test_utils"
	"github.com/solcal/solcal/pkg/caldav"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/solcal/solcal/pkg/ics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClients map[string]caldav.Client

func (s stubClients) ClientFor(ctx context.Context, accountID string) (caldav.Client, error) {
	client, ok := s[accountID]
	if !ok {
		return nil, calendar.ErrAuth
	}
	return client, nil
}

// eventCreatorStub inserts copied events straight into the target's source.
type eventCreatorStub struct {
	provider *Provider
	repo     calendar.Repository
}

func (s *eventCreatorStub) CreateEvent(ctx context.Context, event calendar.Event) (calendar.Event, error) {
	cal, err := s.repo.GetCalendar(ctx, event.CalendarID)
	if err != nil {
		return calendar.Event{}, err
	}
	source, err := s.provider.SourceFor(ctx, cal)
	if err != nil {
		return calendar.Event{}, err
	}
	return source.CreateEvent(ctx, event)
}

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupProviderTest(t *testing.T) (*Provider, calendar.Repository, *caldav.ClientStub, context.Context) {
	t.Helper()
	ctx := context.Background()
	repo := calendar.NewRepository(test_utils.SetupTestDB(t))
	require.NoError(t, repo.CreateCalendar(ctx, calendar.Calendar{
		ID: "home", Name: "Home", Color: "#112233", Kind: calendar.KindLocal, Visible: true, CreatedAt: monday,
	}))
	require.NoError(t, repo.CreateCalendar(ctx, calendar.Calendar{
		ID: "work", Name: "Work", Color: "#445566", Kind: calendar.KindRemote, Visible: true, CreatedAt: monday,
		RemoteURL: "https://dav.example.com/calendars/work/", AccountID: "acme",
	}))
	stub := caldav.NewClientStub()
	return NewProvider(repo, stubClients{"acme": stub}), repo, stub, ctx
}

func newEvent(t *testing.T, calendarID, uid string, start time.Time) calendar.Event {
	t.Helper()
	e := calendar.Event{
		UID: uid, CalendarID: calendarID, Summary: "Event " + uid,
		Start: start, End: start.Add(time.Hour), LastModified: monday,
	}
	raw, err := ics.Encode(e)
	require.NoError(t, err)
	e.Raw = raw
	return e
}

func sourceFor(t *testing.T, p *Provider, repo calendar.Repository, id string) Source {
	t.Helper()
	cal, err := repo.GetCalendar(context.Background(), id)
	require.NoError(t, err)
	source, err := p.SourceFor(context.Background(), cal)
	require.NoError(t, err)
	return source
}

func TestProvider_SourceForDispatchesOnKind(t *testing.T) {
	p, repo, _, _ := setupProviderTest(t)

	assert.IsType(t, &LocalSource{}, sourceFor(t, p, repo, "home"))
	assert.IsType(t, &RemoteSource{}, sourceFor(t, p, repo, "work"))

	_, err := p.SourceFor(context.Background(), calendar.Calendar{ID: "odd", Kind: "carrier-pigeon"})
	assert.ErrorIs(t, err, calendar.ErrValidation)
}

func TestLocalSource_MutationsBumpRevision(t *testing.T) {
	// given
	p, repo, _, ctx := setupProviderTest(t)
	source := sourceFor(t, p, repo, "home")
	before, err := source.ChangeIndicator(ctx)
	require.NoError(t, err)

	// when
	created, err := source.CreateEvent(ctx, newEvent(t, "home", "abc", monday))
	require.NoError(t, err)
	afterCreate, err := source.ChangeIndicator(ctx)
	require.NoError(t, err)
	created.Summary = "Renamed"
	_, err = source.UpdateEvent(ctx, created)
	require.NoError(t, err)
	afterUpdate, err := source.ChangeIndicator(ctx)
	require.NoError(t, err)

	// then
	assert.Empty(t, created.ETag)
	assert.NotEqual(t, before, afterCreate)
	assert.NotEqual(t, afterCreate, afterUpdate)
	events, err := source.ListEvents(ctx, monday, monday.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Renamed", events[0].Summary)
}

func TestLocalSource_DuplicateCreateConflicts(t *testing.T) {
	p, repo, _, ctx := setupProviderTest(t)
	source := sourceFor(t, p, repo, "home")
	_, err := source.CreateEvent(ctx, newEvent(t, "home", "abc", monday))
	require.NoError(t, err)

	_, err = source.CreateEvent(ctx, newEvent(t, "home", "abc", monday.Add(time.Hour)))

	require.ErrorIs(t, err, calendar.ErrConflict)
	stored, err := repo.GetEvent(ctx, "home", "abc")
	require.NoError(t, err)
	assert.True(t, monday.Equal(stored.Start))
}

func TestRemoteSource_CreateStoresServerEtag(t *testing.T) {
	// given
	p, repo, stub, ctx := setupProviderTest(t)
	source := sourceFor(t, p, repo, "work")

	// when
	created, err := source.CreateEvent(ctx, newEvent(t, "work", "abc", monday))

	// then
	require.NoError(t, err)
	assert.Equal(t, "/calendars/work/abc.ics", created.Href)
	res, ok := stub.Resource(created.Href)
	require.True(t, ok)
	assert.Equal(t, res.ETag, created.ETag)
	stored, err := repo.GetEvent(ctx, "work", "abc")
	require.NoError(t, err)
	assert.Equal(t, res.ETag, stored.ETag)
	assert.False(t, stored.Pending)
}

func TestRemoteSource_UpdateIsConditionalOnEtag(t *testing.T) {
	// given
	p, repo, stub, ctx := setupProviderTest(t)
	source := sourceFor(t, p, repo, "work")
	created, err := source.CreateEvent(ctx, newEvent(t, "work", "abc", monday))
	require.NoError(t, err)
	stub.SetResource(created.Href, created.Raw) // someone else wrote it

	// when
	_, err = source.UpdateEvent(ctx, created)

	// then
	require.ErrorIs(t, err, calendar.ErrConflict)
	stored, err := repo.GetEvent(ctx, "work", "abc")
	require.NoError(t, err)
	assert.Equal(t, created.ETag, stored.ETag)
}

func TestRemoteSource_NetworkFailureLeavesStoreUntouched(t *testing.T) {
	p, repo, stub, ctx := setupProviderTest(t)
	source := sourceFor(t, p, repo, "work")
	stub.FailNext(caldav.OpPut, calendar.ErrNetwork)

	_, err := source.CreateEvent(ctx, newEvent(t, "work", "abc", monday))

	require.ErrorIs(t, err, calendar.ErrNetwork)
	_, err = repo.GetEvent(ctx, "work", "abc")
	assert.ErrorIs(t, err, calendar.ErrNotFound)
}

func TestRemoteSource_DeleteRemovesBothCopies(t *testing.T) {
	// given
	p, repo, stub, ctx := setupProviderTest(t)
	source := sourceFor(t, p, repo, "work")
	created, err := source.CreateEvent(ctx, newEvent(t, "work", "abc", monday))
	require.NoError(t, err)

	// when
	err = source.DeleteEvent(ctx, created)

	// then
	require.NoError(t, err)
	assert.Equal(t, 0, stub.ResourceCount())
	_, err = repo.GetEvent(ctx, "work", "abc")
	assert.ErrorIs(t, err, calendar.ErrNotFound)
}

func TestRemoteSource_GetAndListReadTheServer(t *testing.T) {
	// given
	p, repo, stub, ctx := setupProviderTest(t)
	source := sourceFor(t, p, repo, "work")
	created, err := source.CreateEvent(ctx, newEvent(t, "work", "abc", monday))
	require.NoError(t, err)
	other := newEvent(t, "work", "later", monday.Add(48*time.Hour))
	stub.SetResource("/calendars/work/later.ics", other.Raw)
	stub.SetResource("/calendars/work/broken.ics", "not a calendar")

	// when
	fetched, err := source.GetEvent(ctx, "abc")
	require.NoError(t, err)
	listed, err := source.ListEvents(ctx, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)

	// then
	assert.Equal(t, created.Summary, fetched.Summary)
	assert.Equal(t, created.Href, fetched.Href)
	require.Len(t, listed, 1)
	assert.Equal(t, "abc", listed[0].UID)
	ctag, err := source.ChangeIndicator(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, ctag)
}

func TestProvider_Discover(t *testing.T) {
	p, _, stub, ctx := setupProviderTest(t)
	stub.Collections = []caldav.Collection{{Href: "/calendars/work/", Name: "Work"}}

	collections, err := p.Discover(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, stub.Collections, collections)

	_, err = p.Discover(ctx, "unknown")
	assert.ErrorIs(t, err, calendar.ErrAuth)
}

func TestMigrator_CopyEvents(t *testing.T) {
	// given
	p, repo, stub, ctx := setupProviderTest(t)
	local := sourceFor(t, p, repo, "home")
	_, err := local.CreateEvent(ctx, newEvent(t, "home", "a", monday))
	require.NoError(t, err)
	_, err = local.CreateEvent(ctx, newEvent(t, "home", "b", monday.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = local.CreateEvent(ctx, newEvent(t, "home", "outside", monday.Add(30*24*time.Hour)))
	require.NoError(t, err)
	migrator := NewMigrator(repo, p, &eventCreatorStub{provider: p, repo: repo})

	// when
	result, err := migrator.CopyEvents(ctx, "home", "work", monday, monday.Add(7*24*time.Hour))
	require.NoError(t, err)
	again, err := migrator.CopyEvents(ctx, "home", "work", monday, monday.Add(7*24*time.Hour))
	require.NoError(t, err)

	// then
	assert.Equal(t, CopyResult{Copied: 2}, result)
	assert.Equal(t, CopyResult{Skipped: 2}, again)
	assert.Equal(t, 2, stub.ResourceCount())
}

func TestMigrator_RejectsSameCalendar(t *testing.T) {
	p, repo, _, ctx := setupProviderTest(t)
	migrator := NewMigrator(repo, p, &eventCreatorStub{provider: p, repo: repo})

	_, err := migrator.CopyEvents(ctx, "home", "home", monday, monday.Add(time.Hour))

	assert.ErrorIs(t, err, calendar.ErrValidation)
}
