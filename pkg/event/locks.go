package event

import "sync"

// calendarLocks serializes mutations per calendar. Calendars never block
// each other.
type calendarLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCalendarLocks() *calendarLocks {
	return &calendarLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *calendarLocks) lock(calendarID string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[calendarID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[calendarID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
