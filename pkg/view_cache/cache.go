package view_cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/config"
	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/pkg/calendar"
)

type EventReader interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error)
}

type CalendarLister interface {
	ListCalendars(ctx context.Context) ([]calendar.Calendar, error)
}

type Settings interface {
	Get() config.Application
}

type key struct {
	granularity Granularity
	from        int64
	to          int64
	zone        string
}

type entry struct {
	layout     Layout
	generation uint64
}

// Cache holds computed layouts keyed by granularity and range. Entries are
// removed, never patched, when an event in their range changes.
//
// Every invalidation bumps the generation. A layout computed across an
// invalidation is handed to its caller but not stored.
type Cache struct {
	events    EventReader
	calendars CalendarLister
	settings  Settings

	mu         sync.Mutex
	entries    *lru.Cache[key, entry]
	generation uint64
}

func NewCache(events EventReader, calendars CalendarLister, settings Settings) (*Cache, error) {
	size := settings.Get().View.CacheSize
	if size <= 0 {
		size = config.Defaults().View.CacheSize
	}
	entries, err := lru.New[key, entry](size)
	if err != nil {
		return nil, fmt.Errorf("could not create view cache: %w", err)
	}
	return &Cache{events: events, calendars: calendars, settings: settings, entries: entries}, nil
}

// Subscribe wires invalidation to the mutations published on bus.
func (c *Cache) Subscribe(bus *event_bus.EventBus) {
	event_bus.SubscribeTyped(bus, event_bus.EventChangedType, func(e event_bus.EventT[event_bus.EventChanged]) error {
		c.Invalidate(e.Data.AffectedFrom, e.Data.AffectedTo)
		return nil
	})
	event_bus.SubscribeTyped(bus, event_bus.CalendarChangedType, func(e event_bus.EventT[event_bus.CalendarChanged]) error {
		c.InvalidateAll()
		return nil
	})
	event_bus.SubscribeTyped(bus, event_bus.CalendarRemovedType, func(e event_bus.EventT[event_bus.CalendarRemoved]) error {
		c.InvalidateAll()
		return nil
	})
	// display timezone or week start may have changed
	event_bus.SubscribeTyped(bus, event_bus.ConfigUpdatedType, func(e event_bus.EventT[event_bus.ConfigUpdated]) error {
		c.InvalidateAll()
		return nil
	})
}

// GetOrCompute returns the layout of the g-sized range around anchor,
// computing and storing it when it is not cached.
func (c *Cache) GetOrCompute(ctx context.Context, g Granularity, anchor time.Time) (Layout, error) {
	view := c.settings.Get().View
	loc, err := view.Location()
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %v", calendar.ErrValidation, err)
	}
	weekStart, err := view.FirstWeekday()
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %v", calendar.ErrValidation, err)
	}
	r := RangeFor(g, anchor, loc, weekStart)
	k := key{granularity: g, from: r.From.Unix(), to: r.To.Unix(), zone: loc.String()}

	c.mu.Lock()
	if cached, ok := c.entries.Get(k); ok {
		c.mu.Unlock()
		return cached.layout, nil
	}
	generation := c.generation
	c.mu.Unlock()

	layout, err := c.compute(ctx, g, r)
	if err != nil {
		return Layout{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		log.Debugf("view: dropping %s layout of %s, invalidated while computing", g, r.From.Format(time.DateOnly))
		return layout, nil
	}
	c.entries.Add(k, entry{layout: layout, generation: generation})
	return layout, nil
}

func (c *Cache) compute(ctx context.Context, g Granularity, r Range) (Layout, error) {
	// all-day events are stored at UTC midnight; a day of margin catches
	// those whose date falls into r in the display zone
	events, err := c.events.ListEvents(ctx, r.From.AddDate(0, 0, -1), r.To.AddDate(0, 0, 1))
	if err != nil {
		return Layout{}, err
	}
	calendars, err := c.calendars.ListCalendars(ctx)
	if err != nil {
		return Layout{}, err
	}
	colors := make(map[string]string, len(calendars))
	for _, cal := range calendars {
		colors[cal.ID] = cal.Color
	}
	return BuildLayout(g, r, events, colors), nil
}

// Invalidate removes every entry whose range meets [from, to].
func (c *Cache) Invalidate(from, to time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	removed := 0
	for _, k := range c.entries.Keys() {
		e, ok := c.entries.Peek(k)
		if ok && e.layout.Range.Touches(from, to) {
			c.entries.Remove(k)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("view: invalidated %d cached layout(s)", removed)
	}
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries.Purge()
}

// Len reports the number of cached layouts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
