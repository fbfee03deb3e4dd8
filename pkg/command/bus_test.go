package command

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/solcal/solcal/internal/event_bus"
	"github.com/solcal/solcal/internal/utils"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type importArgs struct {
	Data string `json:"data"`
}

func TestBus_Send(t *testing.T) {
	d := NewDispatcher(2, nil, utils.NewMockClock(now))
	defer d.Close()
	bus := NewBus(d)
	bus.Register("import", func(ctx context.Context, req Request) (any, error) {
		var args importArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, err
		}
		return req.CalendarID + ":" + args.Data, nil
	})
	bus.Register("syncAll", func(ctx context.Context, req Request) (any, error) {
		return req.key(), nil
	})

	t.Run("should run a registered command with its arguments", func(t *testing.T) {
		_, results, err := bus.Send(Request{Command: "import", CalendarID: "home", Args: json.RawMessage(`{"data":"x"}`)})
		require.NoError(t, err)
		assert.Equal(t, "home:x", receive(t, results).Data)
	})

	t.Run("should queue calendar-less commands under the global key", func(t *testing.T) {
		_, results, err := bus.Send(Request{Command: "syncAll"})
		require.NoError(t, err)
		assert.Equal(t, globalKey, receive(t, results).Data)
	})

	t.Run("should report missing arguments as a validation error", func(t *testing.T) {
		_, results, err := bus.Send(Request{Command: "import", CalendarID: "home"})
		require.NoError(t, err)
		msg := receive(t, results)
		assert.Equal(t, KindError, msg.Kind)
		assert.Equal(t, 400, msg.Status)
	})

	t.Run("should reject unknown commands", func(t *testing.T) {
		_, _, err := bus.Send(Request{Command: "reboot"})
		assert.ErrorIs(t, err, calendar.ErrValidation)
	})

	assert.Equal(t, []string{"import", "syncAll"}, bus.Commands())
}

func TestHub(t *testing.T) {
	t.Run("should drop messages for a full subscriber", func(t *testing.T) {
		hub := NewHub(1)
		messages, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		hub.Broadcast(Message{Kind: KindResult, ID: "1"})
		hub.Broadcast(Message{Kind: KindResult, ID: "2"})

		assert.Equal(t, "1", (<-messages).ID)
		assert.Empty(t, messages)
	})

	t.Run("should close the channel on unsubscribe", func(t *testing.T) {
		hub := NewHub(1)
		messages, unsubscribe := hub.Subscribe()

		unsubscribe()
		unsubscribe()

		_, open := <-messages
		assert.False(t, open)
		assert.Equal(t, 0, hub.Len())
	})

	t.Run("should forward bus notifications", func(t *testing.T) {
		// given
		hub := NewHub(4)
		bus := event_bus.NewEventBus()
		stop := hub.Forward(bus, func() time.Time { return now })
		messages, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		// when
		ctx := context.Background()
		require.NoError(t, bus.Publish(event_bus.NewEvent(ctx, event_bus.SyncStateChangedType,
			event_bus.SyncStateChanged{CalendarID: "work", Status: "syncing"})))
		require.NoError(t, bus.Publish(event_bus.NewEvent(ctx, event_bus.EventChangedType,
			event_bus.EventChanged{CalendarID: "home", UID: "e1", Operation: event_bus.EventCreated})))
		stop()
		require.NoError(t, bus.Publish(event_bus.NewEvent(ctx, event_bus.CalendarRemovedType,
			event_bus.CalendarRemoved{CalendarID: "home"})))

		// then
		first := <-messages
		assert.Equal(t, KindSyncState, first.Kind)
		assert.Equal(t, "work", first.Key)
		second := <-messages
		assert.Equal(t, KindEventChanged, second.Kind)
		assert.Equal(t, "home", second.Key)
		assert.Empty(t, messages)
	})
}
