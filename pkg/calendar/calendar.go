package calendar

import "time"

type SourceKind string

const (
	KindLocal  SourceKind = "local"
	KindRemote SourceKind = "remote"
)

type Calendar struct {
	ID           string
	Name         string
	Color        string
	Kind         SourceKind
	Visible      bool
	SyncInterval time.Duration
	// RemoteURL is the CalDAV collection URL. Remote calendars only.
	RemoteURL string
	// AccountID references the configured account holding the credentials. Remote calendars only.
	AccountID string
	// CTag is the collection change tag stored after the last successful sync. Remote calendars only.
	CTag string
	// Revision is bumped on every event mutation and serves as the change indicator of local calendars.
	Revision  int64
	CreatedAt time.Time
}

func (c Calendar) IsRemote() bool {
	return c.Kind == KindRemote
}

type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

type SyncState struct {
	CalendarID string
	Status     SyncStatus
	LastSync   time.Time
	LastError  string
	Failures   int
	// Halted is set after an authentication failure; automatic retries stay off until the credentials change.
	Halted    bool
	NextRetry time.Time
}

// Backup keeps the losing side of a sync conflict so it can be restored later.
type Backup struct {
	ID         int64
	CalendarID string
	UID        string
	Raw        string
	ETag       string
	Reason     string
	CreatedAt  time.Time
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
