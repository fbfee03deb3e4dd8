package sync_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/pkg/caldav"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/solcal/solcal/pkg/calendar_provider"
	"github.com/solcal/solcal/pkg/event"
)

// Result sums up what a cycle did.
type Result struct {
	CalendarID string
	// Unchanged is set when the collection ctag matched and nothing had to be pushed.
	Unchanged bool
	Fetched   int
	Pushed    int
	// Removed counts events deleted locally because they are gone on the server.
	Removed   int
	Conflicts int
	Skipped   int
}

func (r Result) String() string {
	if r.Unchanged {
		return "unchanged"
	}
	return fmt.Sprintf("fetched %d, pushed %d, removed %d, conflicts %d, skipped %d",
		r.Fetched, r.Pushed, r.Removed, r.Conflicts, r.Skipped)
}

type cycle struct {
	engine *Engine
	cal    calendar.Calendar
	logger *log.Entry
	remote *calendar_provider.RemoteSource
	result Result
	// unresolved is set when something was left for the next cycle, which
	// then must not skip the etag listing.
	unresolved bool
	rejected   []error
}

func newCycle(e *Engine, cal calendar.Calendar, logger *log.Entry) *cycle {
	return &cycle{engine: e, cal: cal, logger: logger, result: Result{CalendarID: cal.ID}}
}

func (c *cycle) run(ctx context.Context) (Result, error) {
	remote, err := c.engine.remotes.RemoteFor(ctx, c.cal)
	if err != nil {
		return c.result, err
	}
	c.remote = remote

	// 1. collection ctag
	ctag, err := remote.ChangeIndicator(ctx)
	if err != nil {
		return c.result, err
	}
	local, err := c.engine.repo.ListCalendarEvents(ctx, c.cal.ID, true)
	if err != nil {
		return c.result, err
	}
	if ctag != "" && ctag == c.cal.CTag {
		if !hasPending(local) {
			c.result.Unchanged = true
			return c.result, nil
		}
		c.logger.Debug("Collection unchanged, pushing local edits")
		if err := c.push(ctx); err != nil {
			return c.result, err
		}
		return c.result, errors.Join(c.rejected...)
	}
	if err := ctx.Err(); err != nil {
		return c.result, err
	}

	// 2. etag diff
	remoteETags, err := remote.ListETags(ctx)
	if err != nil {
		return c.result, err
	}
	toFetch, goneRemotely := diff(local, remoteETags)
	c.logger.Debugf("%d resource(s) to fetch, %d gone from the server", len(toFetch), len(goneRemotely))
	if err := ctx.Err(); err != nil {
		return c.result, err
	}

	// 3. fetch and reconcile
	if err := c.fetch(ctx, toFetch); err != nil {
		return c.result, err
	}
	if err := ctx.Err(); err != nil {
		return c.result, err
	}

	// 5. before pushing, so that pending events whose resource is gone are
	// recreated by the push below
	if err := c.removeGone(ctx, goneRemotely); err != nil {
		return c.result, err
	}
	if err := ctx.Err(); err != nil {
		return c.result, err
	}

	// 4. push
	if err := c.push(ctx); err != nil {
		return c.result, err
	}

	// 6. ctag; our own pushes changed it, so the next cycle lists etags once more
	if !c.unresolved && ctag != c.cal.CTag {
		if err := c.engine.repo.SetCTag(ctx, c.cal.ID, ctag); err != nil {
			return c.result, err
		}
	}
	return c.result, errors.Join(c.rejected...)
}

func hasPending(events []calendar.Event) bool {
	for _, e := range events {
		if e.Pending {
			return true
		}
	}
	return false
}

// diff compares local etags with the server's. It returns the hrefs to fetch
// and the local events whose resource no longer exists.
func diff(local []calendar.Event, remoteETags map[string]string) ([]string, []calendar.Event) {
	byHref := make(map[string]calendar.Event, len(local))
	for _, e := range local {
		if e.Href != "" {
			byHref[e.Href] = e
		}
	}
	var toFetch []string
	for href, etag := range remoteETags {
		if e, ok := byHref[href]; !ok || e.ETag != etag {
			toFetch = append(toFetch, href)
		}
	}
	var gone []calendar.Event
	for href, e := range byHref {
		if _, ok := remoteETags[href]; !ok {
			gone = append(gone, e)
		}
	}
	return toFetch, gone
}

func (c *cycle) fetch(ctx context.Context, hrefs []string) error {
	if len(hrefs) == 0 {
		return nil
	}
	resources, err := c.remote.FetchResources(ctx, hrefs)
	if err != nil {
		return err
	}
	for _, res := range resources {
		incoming, err := c.remote.DecodeResource(res)
		if errors.Is(err, calendar.ErrParse) {
			c.logger.Warnf("Skipping unparseable resource %s: %v", res.Href, err)
			c.result.Skipped++
			c.unresolved = true
			continue
		}
		if err != nil {
			return err
		}
		c.result.Fetched++
		if _, err := c.merge(ctx, incoming); err != nil {
			return err
		}
	}
	return nil
}

// merge hands a server version to the event service, which decides on the
// stored row under its lock. It reports whether local edits won.
func (c *cycle) merge(ctx context.Context, incoming calendar.Event) (event.MergeOutcome, error) {
	outcome, err := c.engine.events.MergeRemote(ctx, incoming)
	if err != nil {
		return outcome, err
	}
	logger := c.logger.WithFields(log.Fields{"uid": incoming.UID, "server": incoming.LastModified.Format(time.RFC3339)})
	switch outcome {
	case event.MergeLocalWon:
		c.result.Conflicts++
		logger.Info("Conflict: keeping newer local version")
	case event.MergeRemoteWon:
		c.result.Conflicts++
		logger.Info("Conflict: server version wins")
	}
	return outcome, nil
}

func (c *cycle) removeGone(ctx context.Context, gone []calendar.Event) error {
	for _, e := range gone {
		outcome, err := c.engine.events.RemoveGone(ctx, c.cal.ID, e.UID, e.Href)
		if err != nil {
			return err
		}
		logger := c.logger.WithField("uid", e.UID)
		switch outcome {
		case event.GoneRemoved:
			c.result.Removed++
		case event.GoneDetached:
			logger.Info("Event with local edits was deleted on the server, recreating it")
		case event.GoneSkipped:
			logger.Debugf("Event no longer stored at %s, keeping it", e.Href)
		}
	}
	return nil
}

// push uploads pending edits and deletions. A 412 makes it fetch the
// server version, reconcile and retry once.
func (c *cycle) push(ctx context.Context) error {
	local, err := c.engine.repo.ListCalendarEvents(ctx, c.cal.ID, true)
	if err != nil {
		return err
	}
	for _, e := range local {
		if !e.Pending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.pushOne(ctx, e, true)
		if errors.Is(err, calendar.ErrConflict) || errors.Is(err, calendar.ErrValidation) {
			c.logger.WithField("uid", e.UID).Warnf("Push rejected, leaving it pending: %v", err)
			c.unresolved = true
			c.rejected = append(c.rejected, fmt.Errorf("event %s: %w", e.UID, err))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) pushOne(ctx context.Context, e calendar.Event, retry bool) error {
	var err error
	if e.Deleted {
		err = c.remote.DeleteRemote(ctx, e)
		if err == nil {
			c.result.Pushed++
			return c.engine.events.RemoveLocal(ctx, c.cal.ID, e.UID)
		}
	} else {
		var etag, href string
		etag, href, err = c.remote.Push(ctx, e)
		if err == nil {
			c.result.Pushed++
			_, err = c.engine.events.MarkPushed(ctx, c.cal.ID, e.UID, etag, href, e.LastModified)
			return err
		}
	}
	if !errors.Is(err, calendar.ErrConflict) || !retry {
		return err
	}

	c.logger.WithField("uid", e.UID).Info("Server version changed since the last sync, reconciling")
	href := e.Href
	if href == "" {
		href = caldav.ResourceHref(c.remote.Collection(), e.UID)
	}
	resources, err := c.remote.FetchResources(ctx, []string{href})
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		if e.Deleted {
			return c.engine.events.RemoveLocal(ctx, c.cal.ID, e.UID)
		}
		detached, err := c.engine.events.DetachRemote(ctx, c.cal.ID, e.UID)
		if err != nil {
			return err
		}
		return c.pushOne(ctx, detached, false)
	}

	incoming, err := c.remote.DecodeResource(resources[0])
	if err != nil {
		return err
	}
	outcome, err := c.merge(ctx, incoming)
	if err != nil || outcome != event.MergeLocalWon {
		return err
	}
	rebased, err := c.engine.repo.GetEvent(ctx, c.cal.ID, e.UID)
	if err != nil {
		return err
	}
	return c.pushOne(ctx, rebased, false)
}
