package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/solcal/solcal/pkg/calendar"
)

// globalKey serializes commands that are not bound to a single calendar.
const globalKey = "*"

type Request struct {
	Command    string          `json:"command"`
	CalendarID string          `json:"calendarId,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
}

func (r Request) key() string {
	if r.CalendarID == "" {
		return globalKey
	}
	return r.CalendarID
}

// DecodeArgs unmarshals the command arguments into v.
func (r Request) DecodeArgs(v any) error {
	if len(r.Args) == 0 {
		return fmt.Errorf("%w: command %s requires arguments", calendar.ErrValidation, r.Command)
	}
	if err := json.Unmarshal(r.Args, v); err != nil {
		return fmt.Errorf("%w: invalid arguments for %s: %v", calendar.ErrValidation, r.Command, err)
	}
	return nil
}

type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Bus maps command names to handlers and submits them to the dispatcher keyed by calendar.
type Bus struct {
	dispatcher *Dispatcher

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewBus(dispatcher *Dispatcher) *Bus {
	return &Bus{dispatcher: dispatcher, handlers: make(map[string]HandlerFunc)}
}

func (b *Bus) Register(name string, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

func (b *Bus) Commands() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send validates req and queues it. The result arrives on the returned channel
// and on the hub under the returned id.
func (b *Bus) Send(req Request) (string, <-chan Message, error) {
	b.mu.RLock()
	h, ok := b.handlers[req.Command]
	b.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown command %q", calendar.ErrValidation, req.Command)
	}
	id, results := b.dispatcher.Submit(req.key(), req.Command, func(ctx context.Context) (any, error) {
		return h(ctx, req)
	})
	return id, results, nil
}
