package command

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/event_bus"
)

type Kind string

const (
	KindResult          Kind = "result"
	KindError           Kind = "error"
	KindSyncState       Kind = "sync.state"
	KindEventChanged    Kind = "event.changed"
	KindCalendarChanged Kind = "calendar.changed"
)

// Message is the unit delivered to UI-side listeners: either the outcome of a
// submitted task or a forwarded notification from the event bus.
type Message struct {
	ID      string    `json:"id,omitempty"`
	Kind    Kind      `json:"kind"`
	Command string    `json:"command,omitempty"`
	Key     string    `json:"key,omitempty"`
	Data    any       `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
	Status  int       `json:"status,omitempty"`
	Time    time.Time `json:"time"`
}

// Hub fans messages out to every subscriber. A subscriber that does not keep
// up loses messages instead of blocking the publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[uint64]chan Message
	nextID      uint64
	buffer      int
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subscribers: make(map[uint64]chan Message), buffer: buffer}
}

func (h *Hub) Subscribe() (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Message, h.buffer)
	h.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers, id)
			close(ch)
		})
	}
}

func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			log.Debugf("Dropping %s message for slow subscriber %d", msg.Kind, id)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Forward relays sync state snapshots and data changes from the bus to the hub.
func (h *Hub) Forward(bus *event_bus.EventBus, now func() time.Time) (unsubscribe func()) {
	unsubs := []func(){
		event_bus.SubscribeTyped(bus, event_bus.SyncStateChangedType, func(e event_bus.EventT[event_bus.SyncStateChanged]) error {
			h.Broadcast(Message{Kind: KindSyncState, Key: e.Data.CalendarID, Data: e.Data, Time: now()})
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.EventChangedType, func(e event_bus.EventT[event_bus.EventChanged]) error {
			h.Broadcast(Message{Kind: KindEventChanged, Key: e.Data.CalendarID, Data: e.Data, Time: now()})
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.CalendarChangedType, func(e event_bus.EventT[event_bus.CalendarChanged]) error {
			h.Broadcast(Message{Kind: KindCalendarChanged, Key: e.Data.CalendarID, Data: e.Data, Time: now()})
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.CalendarRemovedType, func(e event_bus.EventT[event_bus.CalendarRemoved]) error {
			h.Broadcast(Message{Kind: KindCalendarChanged, Key: e.Data.CalendarID, Data: e.Data, Time: now()})
			return nil
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
