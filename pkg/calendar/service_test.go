package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test setup helper
func setupServiceTest(t *testing.T) (*Service, *event_bus.EventBus, context.Context) {
	repo := setupTestRepository(t)
	bus := event_bus.NewEventBus()
	clock := utils.NewMockClock(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	return NewService(repo, bus, clock), bus, context.Background()
}

func TestService_CreateCalendarGeneratesUniqueIds(t *testing.T) {
	service, _, ctx := setupServiceTest(t)

	first, err := service.CreateCalendar(ctx, Calendar{Name: "Family Events!", Kind: KindLocal, Visible: true})
	require.NoError(t, err)
	second, err := service.CreateCalendar(ctx, Calendar{Name: "Family Events", Kind: KindLocal, Visible: true})
	require.NoError(t, err)

	assert.Equal(t, "family-events", first.ID)
	assert.Equal(t, "family-events-1", second.ID)
	assert.Equal(t, DefaultColor, first.Color)
}

func TestService_CreateRemoteCalendarCreatesSyncState(t *testing.T) {
	service, bus, ctx := setupServiceTest(t)
	var changed []string
	event_bus.SubscribeTyped(bus, event_bus.CalendarChangedType, func(e event_bus.EventT[event_bus.CalendarChanged]) error {
		changed = append(changed, e.Data.CalendarID)
		return nil
	})

	// when
	cal, err := service.CreateCalendar(ctx, Calendar{
		Name: "Team", Kind: KindRemote, Visible: true,
		RemoteURL: "https://dav.example.com/cal/team/", AccountID: "work",
	})

	// then
	require.NoError(t, err)
	state, err := service.repo.GetSyncState(ctx, cal.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncIdle, state.Status)
	assert.Equal(t, []string{"team"}, changed)
}

func TestService_CreateCalendarValidation(t *testing.T) {
	service, _, ctx := setupServiceTest(t)

	testCases := []struct {
		name string
		cal  Calendar
	}{
		{"missing name", Calendar{Kind: KindLocal}},
		{"bad color", Calendar{Name: "A", Color: "blue", Kind: KindLocal}},
		{"local with remote url", Calendar{Name: "A", Kind: KindLocal, RemoteURL: "https://x.example.com/"}},
		{"remote without account", Calendar{Name: "A", Kind: KindRemote, RemoteURL: "https://x.example.com/"}},
		{"unknown kind", Calendar{Name: "A", Kind: "ftp"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.CreateCalendar(ctx, tc.cal)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	calendars, err := service.ListCalendars(ctx)
	require.NoError(t, err)
	assert.Empty(t, calendars)
}

func TestService_VisibilityAndColor(t *testing.T) {
	service, _, ctx := setupServiceTest(t)
	cal, err := service.CreateCalendar(ctx, Calendar{Name: "Home", Kind: KindLocal, Visible: true})
	require.NoError(t, err)

	toggled, err := service.ToggleVisibility(ctx, cal.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Visible)

	colored, err := service.SetColor(ctx, cal.ID, "#ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "#ABCDEF", colored.Color)
	assert.False(t, colored.Visible)

	_, err = service.SetColor(ctx, cal.ID, "#XYZ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_DeleteCalendarPublishesRemoval(t *testing.T) {
	service, bus, ctx := setupServiceTest(t)
	cal, err := service.CreateCalendar(ctx, Calendar{Name: "Home", Kind: KindLocal, Visible: true})
	require.NoError(t, err)
	var removed []string
	event_bus.SubscribeTyped(bus, event_bus.CalendarRemovedType, func(e event_bus.EventT[event_bus.CalendarRemoved]) error {
		removed = append(removed, e.Data.CalendarID)
		return nil
	})

	require.NoError(t, service.DeleteCalendar(ctx, cal.ID))

	assert.Equal(t, []string{"home"}, removed)
	_, err = service.GetCalendar(ctx, cal.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, service.DeleteCalendar(ctx, cal.ID), ErrNotFound)
}

func TestService_EnsureDefaults(t *testing.T) {
	service, _, ctx := setupServiceTest(t)

	require.NoError(t, service.EnsureDefaults(ctx))
	require.NoError(t, service.EnsureDefaults(ctx))

	calendars, err := service.ListCalendars(ctx)
	require.NoError(t, err)
	require.Len(t, calendars, 2)
	assert.Equal(t, "personal", calendars[0].ID)
	assert.Equal(t, "work", calendars[1].ID)
}
