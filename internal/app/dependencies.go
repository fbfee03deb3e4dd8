package app

import (
	"database/sql"
	"fmt"

	"github.com/solcal/solcal/internal/config"
	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/internal/utils"
	"github.com/solcal/solcal/pkg/caldav"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/solcal/solcal/pkg/calendar_provider"
	"github.com/solcal/solcal/pkg/command"
	"github.com/solcal/solcal/pkg/event"
	"github.com/solcal/solcal/pkg/google"
	"github.com/solcal/solcal/pkg/sync_engine"
	"github.com/solcal/solcal/pkg/view_cache"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock           utils.Clock
	Bus             *event_bus.EventBus
	ConfigStore     *config.Store
	SettingsHandler *config.Handler

	GoogleAuth *google.GoogleAuth
	ClientPool *caldav.Pool

	CalendarRepository *calendar.RepositoryImpl
	CalendarService    *calendar.Service
	CalendarHandler    *calendar.Handler

	CalendarProvider        *calendar_provider.Provider
	CalendarMigrator        *calendar_provider.Migrator
	CalendarMigratorHandler *calendar_provider.MigratorHandler

	EventService *event.EventServiceImpl
	EventHandler *event.EventHandler

	ViewCache   *view_cache.Cache
	ViewHandler *view_cache.Handler

	SyncEngine  *sync_engine.Engine
	SyncHandler *sync_engine.Handler

	MessageHub     *command.Hub
	Dispatcher     *command.Dispatcher
	CommandBus     *command.Bus
	CommandHandler *command.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(db *sql.DB, store *config.Store, bus *event_bus.EventBus) (*Dependencies, error) {
	cfg := store.Get()
	deps := &Dependencies{Bus: bus, ConfigStore: store}

	deps.Clock = &utils.SystemClock{}
	deps.SettingsHandler = config.NewHandler(store)

	deps.GoogleAuth = google.NewGoogleAuth(db, store, bus)
	deps.ClientPool = caldav.NewPool(store, deps.GoogleAuth, bus)

	deps.CalendarRepository = calendar.NewRepository(db)
	deps.CalendarService = calendar.NewService(deps.CalendarRepository, bus, deps.Clock)
	deps.CalendarHandler = calendar.NewHandler(deps.CalendarService)

	deps.CalendarProvider = calendar_provider.NewProvider(deps.CalendarRepository, deps.ClientPool)

	deps.EventService = event.NewEventService(deps.CalendarRepository, deps.CalendarProvider, bus, deps.Clock)
	deps.EventHandler = event.NewEventHandler(deps.EventService)

	deps.CalendarMigrator = calendar_provider.NewMigrator(deps.CalendarRepository, deps.CalendarProvider, deps.EventService)
	deps.CalendarMigratorHandler = calendar_provider.NewMigratorHandler(deps.CalendarMigrator, deps.CalendarProvider)

	viewCache, err := view_cache.NewCache(deps.EventService, deps.CalendarService, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create view cache: %w", err)
	}
	viewCache.Subscribe(bus)
	deps.ViewCache = viewCache
	deps.ViewHandler = view_cache.NewHandler(viewCache)

	deps.SyncEngine = sync_engine.NewEngine(deps.CalendarRepository, deps.CalendarProvider, deps.EventService, store, bus, deps.Clock)
	deps.SyncHandler = sync_engine.NewHandler(deps.SyncEngine)

	deps.MessageHub = command.NewHub(64)
	deps.MessageHub.Forward(bus, deps.Clock.Now)
	deps.Dispatcher = command.NewDispatcher(cfg.Sync.Parallel, deps.MessageHub, deps.Clock)
	deps.CommandBus = command.NewBus(deps.Dispatcher)
	registerCommands(deps)
	deps.CommandHandler = command.NewHandler(deps.CommandBus, deps.MessageHub)

	return deps, nil
}
