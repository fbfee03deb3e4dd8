package sync_engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/config"
	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/internal/utils"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/solcal/solcal/pkg/calendar_provider"
	"github.com/solcal/solcal/pkg/event"
	"golang.org/x/sync/errgroup"
)

// ErrSyncInProgress is returned by Trigger when the calendar is already syncing.
var ErrSyncInProgress = fmt.Errorf("%w: sync already in progress", calendar.ErrConflict)

type RemoteProvider interface {
	RemoteFor(ctx context.Context, cal calendar.Calendar) (*calendar_provider.RemoteSource, error)
}

// EventWriter is the event service's sync-facing write path.
type EventWriter interface {
	MergeRemote(ctx context.Context, incoming calendar.Event) (event.MergeOutcome, error)
	MarkPushed(ctx context.Context, calendarID, uid, etag, href string, pushedVersion time.Time) (calendar.Event, error)
	RemoveGone(ctx context.Context, calendarID, uid, href string) (event.GoneOutcome, error)
	RemoveLocal(ctx context.Context, calendarID, uid string) error
	DetachRemote(ctx context.Context, calendarID, uid string) (calendar.Event, error)
}

type Settings interface {
	Get() config.Application
}

// Engine runs sync cycles of remote calendars, at most one per calendar at a
// time. It owns the sync state; everybody else reads snapshots.
type Engine struct {
	repo     calendar.Repository
	remotes  RemoteProvider
	events   EventWriter
	settings Settings
	bus      *event_bus.EventBus
	clock    utils.Clock

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	entries  map[string]scheduled
	cron     *cron.Cron
	root     context.Context
	stopRoot context.CancelFunc
	wg       sync.WaitGroup
}

type scheduled struct {
	id       cron.EntryID
	interval time.Duration
}

func NewEngine(repo calendar.Repository, remotes RemoteProvider, events EventWriter, settings Settings, bus *event_bus.EventBus, clock utils.Clock) *Engine {
	root, stop := context.WithCancel(context.Background())
	e := &Engine{
		repo:     repo,
		remotes:  remotes,
		events:   events,
		settings: settings,
		bus:      bus,
		clock:    clock,
		running:  map[string]context.CancelFunc{},
		entries:  map[string]scheduled{},
		cron:     cron.New(),
		root:     root,
		stopRoot: stop,
	}
	if bus != nil {
		e.subscribe(bus)
	}
	return e
}

func (e *Engine) subscribe(bus *event_bus.EventBus) {
	event_bus.SubscribeTyped(bus, event_bus.CalendarChangedType, func(ev event_bus.EventT[event_bus.CalendarChanged]) error {
		return e.reschedule(ev.Context(), ev.Data.CalendarID)
	})
	event_bus.SubscribeTyped(bus, event_bus.CalendarRemovedType, func(ev event_bus.EventT[event_bus.CalendarRemoved]) error {
		e.unschedule(ev.Data.CalendarID)
		return nil
	})
	event_bus.SubscribeTyped(bus, event_bus.ConfigUpdatedType, func(ev event_bus.EventT[event_bus.ConfigUpdated]) error {
		return e.configUpdated(ev.Context(), ev.Data.ChangedAccounts)
	})
}

// Start schedules every remote calendar and starts the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	calendars, err := e.repo.ListCalendars(ctx)
	if err != nil {
		return err
	}
	for _, cal := range calendars {
		if cal.IsRemote() {
			e.schedule(cal)
		}
	}
	e.cron.Start()
	log.Infof("Sync engine started with %d scheduled calendar(s)", len(e.entries))
	return nil
}

// Stop halts the scheduler, cancels running cycles and waits for them to end.
func (e *Engine) Stop() {
	<-e.cron.Stop().Done()
	e.stopRoot()
	e.wg.Wait()
	log.Info("Sync engine stopped")
}

func (e *Engine) interval(cal calendar.Calendar) time.Duration {
	if cal.SyncInterval > 0 {
		return cal.SyncInterval
	}
	return e.settings.Get().Sync.Interval
}

func (e *Engine) schedule(cal calendar.Calendar) {
	interval := e.interval(cal)
	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.entries[cal.ID]; ok {
		if current.interval == interval {
			return
		}
		e.cron.Remove(current.id)
		delete(e.entries, cal.ID)
	}
	if interval <= 0 {
		return
	}
	id := cal.ID
	entryID, err := e.cron.AddFunc("@every "+interval.String(), func() { e.scheduledSync(id) })
	if err != nil {
		log.Errorf("Could not schedule sync of calendar %s: %v", id, err)
		return
	}
	e.entries[id] = scheduled{id: entryID, interval: interval}
	log.Debugf("Calendar %s syncs every %s", id, interval)
}

func (e *Engine) unschedule(calendarID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.entries[calendarID]; ok {
		e.cron.Remove(current.id)
		delete(e.entries, calendarID)
	}
	if cancel, ok := e.running[calendarID]; ok {
		cancel()
	}
}

func (e *Engine) reschedule(ctx context.Context, calendarID string) error {
	cal, err := e.repo.GetCalendar(ctx, calendarID)
	if errors.Is(err, calendar.ErrNotFound) {
		e.unschedule(calendarID)
		return nil
	}
	if err != nil {
		return err
	}
	if !cal.IsRemote() {
		return nil
	}
	if _, err := e.repo.GetSyncState(ctx, cal.ID); errors.Is(err, calendar.ErrNotFound) {
		if err := e.repo.SaveSyncState(ctx, calendar.SyncState{CalendarID: cal.ID, Status: calendar.SyncIdle}); err != nil {
			return err
		}
	}
	e.schedule(cal)
	return nil
}

// configUpdated lifts the auth halt of calendars whose account changed and
// picks up a new default interval.
func (e *Engine) configUpdated(ctx context.Context, changedAccounts []string) error {
	calendars, err := e.repo.ListCalendars(ctx)
	if err != nil {
		return err
	}
	for _, cal := range calendars {
		if !cal.IsRemote() {
			continue
		}
		e.schedule(cal)
		if !slices.Contains(changedAccounts, cal.AccountID) {
			continue
		}
		state, err := e.repo.GetSyncState(ctx, cal.ID)
		if err != nil {
			log.Errorf("Could not read sync state of %s: %v", cal.ID, err)
			continue
		}
		if !state.Halted && state.Failures == 0 {
			continue
		}
		state.Halted, state.Failures, state.NextRetry = false, 0, time.Time{}
		if err := e.saveState(ctx, state); err != nil {
			log.Errorf("Could not resume sync of %s: %v", cal.ID, err)
			continue
		}
		log.Infof("Credentials of account %s changed, sync of %s resumed", cal.AccountID, cal.ID)
	}
	return nil
}

// scheduledSync is the timer trigger. It respects the enable flag, the auth
// halt and the retry backoff; a cycle already running absorbs the tick.
func (e *Engine) scheduledSync(calendarID string) {
	if !e.due(e.root, calendarID) {
		return
	}
	if _, err := e.Trigger(e.root, calendarID); err != nil && !errors.Is(err, ErrSyncInProgress) {
		log.WithField("calendar", calendarID).Warnf("Scheduled sync failed: %v", err)
	}
}

// due reports whether an automatic sync of the calendar may run now.
func (e *Engine) due(ctx context.Context, calendarID string) bool {
	logger := log.WithField("calendar", calendarID)
	if !e.settings.Get().Sync.CalendarEnabled(calendarID) {
		logger.Debug("Sync disabled, skipping automatic run")
		return false
	}
	state, err := e.repo.GetSyncState(ctx, calendarID)
	if errors.Is(err, calendar.ErrNotFound) {
		return true
	}
	if err != nil {
		logger.Errorf("Could not read sync state: %v", err)
		return false
	}
	if state.Halted {
		logger.Debug("Sync halted until the account credentials change")
		return false
	}
	if !state.NextRetry.IsZero() && e.clock.Now().Before(state.NextRetry) {
		logger.Debugf("Backing off until %s", state.NextRetry.Format(time.RFC3339))
		return false
	}
	return true
}

// Trigger runs a sync cycle of the calendar now and waits for it. A cycle
// already running for the calendar makes it return ErrSyncInProgress.
func (e *Engine) Trigger(ctx context.Context, calendarID string) (Result, error) {
	cal, err := e.repo.GetCalendar(ctx, calendarID)
	if err != nil {
		return Result{}, err
	}
	if !cal.IsRemote() {
		return Result{}, fmt.Errorf("%w: calendar %s is not a remote calendar", calendar.ErrValidation, cal.ID)
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWithRoot := context.AfterFunc(e.root, cancel)
	defer stopWithRoot()

	e.mu.Lock()
	if _, busy := e.running[cal.ID]; busy {
		e.mu.Unlock()
		return Result{}, ErrSyncInProgress
	}
	e.running[cal.ID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, cal.ID)
		e.mu.Unlock()
		e.wg.Done()
	}()

	return e.run(cycleCtx, cal)
}

// Cancel stops the running cycle of the calendar after its current step.
func (e *Engine) Cancel(calendarID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.running[calendarID]
	if ok {
		cancel()
	}
	return ok
}

// SyncAll syncs every enabled remote calendar, a limited number at a time.
// Failures do not stop the other calendars; they are returned joined.
func (e *Engine) SyncAll(ctx context.Context) error {
	syncSettings := e.settings.Get().Sync
	return e.syncEach(ctx, func(cal calendar.Calendar) bool {
		return syncSettings.CalendarEnabled(cal.ID)
	})
}

// SyncDue is SyncAll for automatic runs such as the one at startup: halted
// calendars and calendars still backing off are left alone.
func (e *Engine) SyncDue(ctx context.Context) error {
	return e.syncEach(ctx, func(cal calendar.Calendar) bool {
		return e.due(ctx, cal.ID)
	})
}

func (e *Engine) syncEach(ctx context.Context, include func(calendar.Calendar) bool) error {
	calendars, err := e.repo.ListCalendars(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(max(e.settings.Get().Sync.Parallel, 1))
	var mu sync.Mutex
	var errs []error
	for _, cal := range calendars {
		if !cal.IsRemote() || !include(cal) {
			continue
		}
		g.Go(func() error {
			if _, err := e.Trigger(ctx, cal.ID); err != nil && !errors.Is(err, ErrSyncInProgress) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("calendar %s: %w", cal.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (e *Engine) Status(ctx context.Context, calendarID string) (calendar.SyncState, error) {
	return e.repo.GetSyncState(ctx, calendarID)
}

func (e *Engine) Statuses(ctx context.Context) ([]calendar.SyncState, error) {
	calendars, err := e.repo.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]calendar.SyncState, 0, len(calendars))
	for _, cal := range calendars {
		if !cal.IsRemote() {
			continue
		}
		state, err := e.repo.GetSyncState(ctx, cal.ID)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (e *Engine) run(ctx context.Context, cal calendar.Calendar) (Result, error) {
	logger := log.WithFields(log.Fields{"calendar": cal.ID, "account": cal.AccountID})
	state, err := e.repo.GetSyncState(ctx, cal.ID)
	if errors.Is(err, calendar.ErrNotFound) {
		state = calendar.SyncState{CalendarID: cal.ID}
	} else if err != nil {
		return Result{}, err
	}

	state.Status = calendar.SyncSyncing
	if err := e.saveState(ctx, state); err != nil {
		return Result{}, err
	}

	started := e.clock.Now()
	result, err := newCycle(e, cal, logger).run(ctx)
	// the outcome is recorded even when the cycle was cancelled
	e.finish(context.WithoutCancel(ctx), state, err)
	if err != nil {
		logger.Warnf("Sync failed after %s: %v", e.clock.Now().Sub(started), err)
		return result, err
	}
	logger.Infof("Sync done: %s", result)
	return result, nil
}

func (e *Engine) finish(ctx context.Context, state calendar.SyncState, err error) {
	now := e.clock.Now().UTC()
	switch {
	case err == nil:
		state.Status, state.LastSync, state.LastError = calendar.SyncIdle, now, ""
		state.Failures, state.Halted, state.NextRetry = 0, false, time.Time{}
	case errors.Is(err, context.Canceled):
		state.Status, state.LastError = calendar.SyncError, "sync cancelled: "+err.Error()
		state.NextRetry = time.Time{}
	case errors.Is(err, calendar.ErrAuth):
		state.Status, state.LastError = calendar.SyncError, err.Error()
		state.Failures++
		state.Halted, state.NextRetry = true, time.Time{}
	case calendar.Retryable(err):
		state.Status, state.LastError = calendar.SyncError, err.Error()
		state.Failures++
		state.NextRetry = now.Add(e.retryDelay(state.Failures))
	default:
		state.Status, state.LastError = calendar.SyncError, err.Error()
		state.Failures++
		state.NextRetry = time.Time{}
	}
	if saveErr := e.saveState(ctx, state); saveErr != nil {
		log.Errorf("Could not save sync state of %s: %v", state.CalendarID, saveErr)
	}
}

// retryDelay is the backoff after the given number of consecutive failures.
func (e *Engine) retryDelay(failures int) time.Duration {
	syncSettings := e.settings.Get().Sync
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(syncSettings.RetryInitial),
		backoff.WithMaxInterval(syncSettings.MaxBackoff),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	delay := b.NextBackOff()
	for i := 1; i < failures; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (e *Engine) saveState(ctx context.Context, state calendar.SyncState) error {
	if err := e.repo.SaveSyncState(ctx, state); err != nil {
		return err
	}
	if e.bus == nil {
		return nil
	}
	err := e.bus.Publish(event_bus.NewEvent(ctx, event_bus.SyncStateChangedType, event_bus.SyncStateChanged{
		CalendarID: state.CalendarID,
		Status:     string(state.Status),
		LastSync:   state.LastSync,
		LastError:  state.LastError,
		Halted:     state.Halted,
		NextRetry:  state.NextRetry,
	}))
	if err != nil {
		log.Errorf("failed to publish sync state of %s: %v", state.CalendarID, err)
	}
	return nil
}
