package event_bus

import "time"

const (
	EventChangedType     EventType = "calendar.event.changed"
	CalendarChangedType  EventType = "calendar.changed"
	CalendarRemovedType  EventType = "calendar.removed"
	SyncStateChangedType EventType = "sync.state.changed"
	ConfigUpdatedType    EventType = "config.updated"
)

type EventOperation string

const (
	EventCreated EventOperation = "created"
	EventUpdated EventOperation = "updated"
	EventDeleted EventOperation = "deleted"
)

// EventChanged is published after a calendar event mutation has been committed.
// AffectedFrom/AffectedTo cover both the previous and the new placement of the event.
type EventChanged struct {
	CalendarID   string
	UID          string
	Operation    EventOperation
	AffectedFrom time.Time
	AffectedTo   time.Time
	Pending      bool
}

// CalendarChanged covers creation and changes of calendar metadata (name, color, visibility).
type CalendarChanged struct {
	CalendarID string
}

type CalendarRemoved struct {
	CalendarID string
}

// SyncStateChanged is a read-only snapshot of a calendar's sync state.
type SyncStateChanged struct {
	CalendarID string
	Status     string
	LastSync   time.Time
	LastError  string
	Halted     bool
	NextRetry  time.Time
}

type ConfigUpdated struct {
	// ChangedAccounts lists ids of accounts whose connection settings or credentials changed.
	ChangedAccounts []string
}
