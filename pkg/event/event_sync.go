package event

import (
	"context"
	"errors"
	"time"

	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/pkg/calendar"
)

// The methods below are the write path of the sync engine. They take the
// same per-calendar lock as user edits and decide on the row as it is when
// the lock is held, never on a copy read before a network call.

type MergeOutcome int

const (
	// MergeApplied means the server version was stored without a conflict.
	MergeApplied MergeOutcome = iota
	// MergeLocalWon means newer pending edits were kept and still have to be pushed.
	MergeLocalWon
	MergeRemoteWon
)

type GoneOutcome int

const (
	// GoneSkipped means the event is no longer stored at the vanished href.
	GoneSkipped GoneOutcome = iota
	GoneRemoved
	// GoneDetached means pending edits were kept and the next push recreates the event.
	GoneDetached
	// GoneCleared means a tombstone was dropped.
	GoneCleared
)

const (
	ReasonRemoteWon = "local version lost to a newer server version"
	ReasonLocalWon  = "server version lost to a newer local edit"
)

// ApplyRemote stores the server version of an event, replacing any local copy.
func (s *EventServiceImpl) ApplyRemote(ctx context.Context, remote calendar.Event) (calendar.Event, error) {
	unlock := s.locks.lock(remote.CalendarID)
	defer unlock()

	current, err := s.repo.GetEvent(ctx, remote.CalendarID, remote.UID)
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		return s.applyRemote(ctx, nil, remote)
	case err != nil:
		return calendar.Event{}, err
	}
	return s.applyRemote(ctx, &current, remote)
}

// MergeRemote reconciles a server version with the stored event. A copy
// without pending edits, or with the same content, takes the server version.
// Otherwise the later last-modified time wins, ties going to the server, and
// the losing side is kept as a backup.
func (s *EventServiceImpl) MergeRemote(ctx context.Context, incoming calendar.Event) (MergeOutcome, error) {
	unlock := s.locks.lock(incoming.CalendarID)
	defer unlock()

	current, err := s.repo.GetEvent(ctx, incoming.CalendarID, incoming.UID)
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		_, err := s.applyRemote(ctx, nil, incoming)
		return MergeApplied, err
	case err != nil:
		return MergeApplied, err
	}
	if !current.Pending || (!current.Deleted && current.SameContent(incoming)) {
		_, err := s.applyRemote(ctx, &current, incoming)
		return MergeApplied, err
	}

	if current.LastModified.After(incoming.LastModified) {
		// the conditional push must overwrite the version just seen
		current.ETag, current.Href = incoming.ETag, incoming.Href
		err := s.repo.WithTransaction(ctx, func(repo calendar.Repository) error {
			if _, err := repo.InsertBackup(ctx, s.backupOf(incoming, ReasonLocalWon)); err != nil {
				return err
			}
			return repo.UpdateEvent(ctx, current)
		})
		return MergeLocalWon, err
	}

	stored := incoming
	stored.Pending, stored.Deleted = false, false
	err = s.repo.WithTransaction(ctx, func(repo calendar.Repository) error {
		if _, err := repo.InsertBackup(ctx, s.backupOf(current, ReasonRemoteWon)); err != nil {
			return err
		}
		return repo.UpdateEvent(ctx, stored)
	})
	if err != nil {
		return MergeRemoteWon, err
	}
	s.publishReplaced(ctx, current, stored)
	return MergeRemoteWon, nil
}

// MarkPushed records the etag and href the server assigned. The pending flag
// is cleared only if the event was not edited again after pushedVersion, the
// last-modified time of the pushed payload.
func (s *EventServiceImpl) MarkPushed(ctx context.Context, calendarID, uid, etag, href string, pushedVersion time.Time) (calendar.Event, error) {
	unlock := s.locks.lock(calendarID)
	defer unlock()

	current, err := s.repo.GetEvent(ctx, calendarID, uid)
	if err != nil {
		return calendar.Event{}, err
	}
	current.ETag, current.Href = etag, href
	if current.LastModified.Equal(pushedVersion) {
		current.Pending = false
	}
	if err := s.repo.UpdateEvent(ctx, current); err != nil {
		return calendar.Event{}, err
	}
	from, to := current.AffectedRange()
	s.publishChange(ctx, current, event_bus.EventUpdated, from, to)
	return current, nil
}

// RemoveLocal drops an event, tombstone or not, from the local store.
func (s *EventServiceImpl) RemoveLocal(ctx context.Context, calendarID, uid string) error {
	unlock := s.locks.lock(calendarID)
	defer unlock()

	current, err := s.repo.GetEvent(ctx, calendarID, uid)
	if err != nil {
		return err
	}
	return s.removeLocked(ctx, current)
}

// RemoveGone handles an event whose resource at href disappeared from the
// server. An event that meanwhile moved to another href is left alone;
// pending edits are detached for the next push instead of being dropped.
func (s *EventServiceImpl) RemoveGone(ctx context.Context, calendarID, uid, href string) (GoneOutcome, error) {
	unlock := s.locks.lock(calendarID)
	defer unlock()

	current, err := s.repo.GetEvent(ctx, calendarID, uid)
	if errors.Is(err, calendar.ErrNotFound) {
		return GoneSkipped, nil
	}
	if err != nil {
		return GoneSkipped, err
	}
	switch {
	case current.Href != href:
		return GoneSkipped, nil
	case current.Pending && !current.Deleted:
		_, err := s.detachLocked(ctx, current)
		return GoneDetached, err
	case current.Deleted:
		return GoneCleared, s.removeLocked(ctx, current)
	}
	return GoneRemoved, s.removeLocked(ctx, current)
}

// DetachRemote forgets the server copy of a locally edited event that was
// deleted remotely. The next push recreates it.
func (s *EventServiceImpl) DetachRemote(ctx context.Context, calendarID, uid string) (calendar.Event, error) {
	unlock := s.locks.lock(calendarID)
	defer unlock()

	current, err := s.repo.GetEvent(ctx, calendarID, uid)
	if err != nil {
		return calendar.Event{}, err
	}
	return s.detachLocked(ctx, current)
}

// SaveBackup keeps the losing side of a conflict.
func (s *EventServiceImpl) SaveBackup(ctx context.Context, backup calendar.Backup) (int64, error) {
	backup.CreatedAt = s.now()
	return s.repo.InsertBackup(ctx, backup)
}

func (s *EventServiceImpl) applyRemote(ctx context.Context, current *calendar.Event, remote calendar.Event) (calendar.Event, error) {
	remote.Pending, remote.Deleted = false, false
	if current == nil {
		if err := s.repo.InsertEvent(ctx, remote); err != nil {
			return calendar.Event{}, err
		}
		from, to := remote.AffectedRange()
		s.publishChange(ctx, remote, event_bus.EventCreated, from, to)
		return remote, nil
	}
	if err := s.repo.UpdateEvent(ctx, remote); err != nil {
		return calendar.Event{}, err
	}
	s.publishReplaced(ctx, *current, remote)
	return remote, nil
}

func (s *EventServiceImpl) removeLocked(ctx context.Context, current calendar.Event) error {
	if err := s.repo.DeleteEvent(ctx, current.CalendarID, current.UID); err != nil {
		return err
	}
	from, to := current.AffectedRange()
	s.publishChange(ctx, current, event_bus.EventDeleted, from, to)
	return nil
}

func (s *EventServiceImpl) detachLocked(ctx context.Context, current calendar.Event) (calendar.Event, error) {
	current.ETag, current.Href, current.Pending = "", "", true
	if err := s.repo.UpdateEvent(ctx, current); err != nil {
		return calendar.Event{}, err
	}
	return current, nil
}

func (s *EventServiceImpl) backupOf(e calendar.Event, reason string) calendar.Backup {
	return calendar.Backup{CalendarID: e.CalendarID, UID: e.UID, Raw: e.Raw, ETag: e.ETag, Reason: reason, CreatedAt: s.now()}
}

func (s *EventServiceImpl) publishReplaced(ctx context.Context, before, after calendar.Event) {
	oldFrom, oldTo := before.AffectedRange()
	newFrom, newTo := after.AffectedRange()
	from, to := calendar.Span(oldFrom, oldTo, newFrom, newTo)
	s.publishChange(ctx, after, event_bus.EventUpdated, from, to)
}
