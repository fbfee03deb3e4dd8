package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/config"
	"github.com/solcal/solcal/internal/database"
	"github.com/solcal/solcal/internal/event_bus"
)

const configPath = "./config/application.yaml"

// Application wires configuration, database, router, and server lifecycle.
type Application struct {
	cfg    config.Application
	db     *sql.DB
	deps   *Dependencies
	router *mux.Router
	srv    *http.Server
}

// NewApplication constructs the full HTTP application, ready to Run().
func NewApplication() (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// DB + migrations
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	bus := event_bus.NewEventBus()
	store := config.NewStore(configPath, cfg, bus)

	deps, err := BuildDependencies(db, store, bus)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := deps.CalendarService.EnsureDefaults(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	r := mux.NewRouter()
	SetupMiddleware(r)
	RegisterRoutes(r, deps)

	// No WriteTimeout: /api/messages streams for as long as the client listens.
	srv := &http.Server{
		Handler:           r,
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Application{cfg: cfg, db: db, deps: deps, router: r, srv: srv}, nil
}

// Run starts the sync engine and the HTTP server and blocks until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	if err := a.deps.SyncEngine.Start(ctx); err != nil {
		return err
	}
	go func() {
		if err := a.deps.SyncEngine.SyncDue(ctx); err != nil {
			log.Warnf("Initial sync finished with errors: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", a.srv.Addr)
		serveErr <- a.srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = a.srv.Shutdown(shutdownCtx)
	}

	a.deps.Dispatcher.Close()
	a.deps.SyncEngine.Stop()
	if closeErr := a.db.Close(); closeErr != nil {
		log.Errorf("failed to close database: %v", closeErr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
