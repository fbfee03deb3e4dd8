package view_cache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/solcal/solcal/internal/config"
	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventReaderStub struct {
	mu     sync.Mutex
	events []calendar.Event
	calls  int
	// during runs inside ListEvents, before the result is returned
	during func()
}

func (s *eventReaderStub) ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	s.mu.Lock()
	s.calls++
	events := append([]calendar.Event(nil), s.events...)
	during := s.during
	s.mu.Unlock()
	if during != nil {
		during()
	}
	return events, nil
}

func (s *eventReaderStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type calendarListerStub []calendar.Calendar

func (s calendarListerStub) ListCalendars(ctx context.Context) ([]calendar.Calendar, error) {
	return s, nil
}

type settingsStub config.Application

func (s settingsStub) Get() config.Application {
	return config.Application(s)
}

func utcSettings(cacheSize int) settingsStub {
	app := config.Defaults()
	app.View.Timezone = "UTC"
	app.View.CacheSize = cacheSize
	return settingsStub(app)
}

var march4 = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func setupCacheTest(t *testing.T, cacheSize int) (*Cache, *eventReaderStub) {
	reader := &eventReaderStub{}
	cache, err := NewCache(reader, calendarListerStub{{ID: "home", Color: "#3366FF"}}, utcSettings(cacheSize))
	require.NoError(t, err)
	return cache, reader
}

func TestCache_ReturnsCachedLayoutUntilInvalidated(t *testing.T) {
	// given
	cache, reader := setupCacheTest(t, 8)
	ctx := context.Background()
	_, err := cache.GetOrCompute(ctx, Week, march4)
	require.NoError(t, err)

	// when
	_, err = cache.GetOrCompute(ctx, Week, march4.Add(24*time.Hour))
	require.NoError(t, err)

	// then
	assert.Equal(t, 1, reader.Calls(), "same week is served from the cache")

	// when
	cache.Invalidate(march4, march4.Add(time.Hour))
	_, err = cache.GetOrCompute(ctx, Week, march4)
	require.NoError(t, err)

	// then
	assert.Equal(t, 2, reader.Calls())
}

func TestCache_InvalidateLeavesDisjointRanges(t *testing.T) {
	// given
	cache, reader := setupCacheTest(t, 8)
	ctx := context.Background()
	nextMonth := march4.AddDate(0, 1, 0)
	_, err := cache.GetOrCompute(ctx, Day, march4)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(ctx, Day, nextMonth)
	require.NoError(t, err)

	// when
	cache.Invalidate(march4, march4.Add(time.Hour))

	// then
	assert.Equal(t, 1, cache.Len())
	_, err = cache.GetOrCompute(ctx, Day, nextMonth)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.Calls())
}

func TestCache_StaleResultIsNotStored(t *testing.T) {
	// given
	cache, reader := setupCacheTest(t, 8)
	ctx := context.Background()
	reader.events = []calendar.Event{timed("old", march4, time.Hour)}
	reader.during = func() {
		reader.during = nil
		cache.Invalidate(march4, march4.Add(time.Hour))
	}

	// when
	layout, err := cache.GetOrCompute(ctx, Day, march4)

	// then
	require.NoError(t, err)
	require.Len(t, layout.Days[0].Timed, 1, "the caller still gets its result")
	assert.Equal(t, 0, cache.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	// given
	cache, reader := setupCacheTest(t, 2)
	ctx := context.Background()
	day1, day2, day3 := march4, march4.AddDate(0, 0, 1), march4.AddDate(0, 0, 2)
	for _, d := range []time.Time{day1, day2, day1, day3} {
		_, err := cache.GetOrCompute(ctx, Day, d)
		require.NoError(t, err)
	}
	require.Equal(t, 3, reader.Calls())

	// when
	_, err := cache.GetOrCompute(ctx, Day, day1)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(ctx, Day, day2)
	require.NoError(t, err)

	// then
	assert.Equal(t, 4, reader.Calls(), "day2 was the least recently used and got evicted")
}

func TestCache_FollowsPublishedMutations(t *testing.T) {
	// given
	cache, reader := setupCacheTest(t, 8)
	bus := event_bus.NewEventBus()
	cache.Subscribe(bus)
	ctx := context.Background()
	_, err := cache.GetOrCompute(ctx, Month, march4)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(ctx, Month, march4.AddDate(0, 2, 0))
	require.NoError(t, err)

	// when
	require.NoError(t, bus.Publish(event_bus.NewEvent(ctx, event_bus.EventChangedType, event_bus.EventChanged{
		CalendarID: "home", UID: "abc", Operation: event_bus.EventCreated,
		AffectedFrom: march4, AffectedTo: march4.Add(time.Hour),
	})))

	// then
	assert.Equal(t, 1, cache.Len())

	// when
	require.NoError(t, bus.Publish(event_bus.NewEvent(ctx, event_bus.CalendarChangedType, event_bus.CalendarChanged{CalendarID: "home"})))

	// then
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 2, reader.Calls())
}

func TestCache_RecurringChangeInvalidatesLaterViews(t *testing.T) {
	cache, _ := setupCacheTest(t, 8)
	ctx := context.Background()
	_, err := cache.GetOrCompute(ctx, Year, march4.AddDate(3, 0, 0))
	require.NoError(t, err)

	cache.Invalidate(march4, calendar.FarFuture)

	assert.Equal(t, 0, cache.Len())
}

func TestHandler_GetView(t *testing.T) {
	// given
	cache, reader := setupCacheTest(t, 8)
	reader.events = []calendar.Event{timed("abc", march4, time.Hour)}
	handler := NewHandler(cache)

	// when
	w := httptest.NewRecorder()
	handler.GetView(w, httptest.NewRequest(http.MethodGet, "/api/view?granularity=week&date=2026-03-04", nil))

	// then
	require.Equal(t, http.StatusOK, w.Code)
	var dto LayoutDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
	assert.Equal(t, "2026-03-02T00:00:00Z", dto.From)
	require.Len(t, dto.Days, 7)
	require.Len(t, dto.Days[2].Timed, 1)
	assert.Equal(t, "#3366FF", dto.Days[2].Timed[0].Color)

	w = httptest.NewRecorder()
	handler.GetView(w, httptest.NewRequest(http.MethodGet, "/api/view?granularity=decade", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
