package event_bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishRunsHandlersInOrder(t *testing.T) {
	// given
	bus := NewEventBus()
	var calls []string
	bus.Subscribe(CalendarChangedType, func(e Event) error {
		calls = append(calls, "first")
		return nil
	})
	SubscribeTyped(bus, CalendarChangedType, func(e EventT[CalendarChanged]) error {
		calls = append(calls, "typed:"+e.Data.CalendarID)
		return nil
	})

	// when
	err := bus.Publish(NewEvent(context.Background(), CalendarChangedType, CalendarChanged{CalendarID: "work"}))

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "typed:work"}, calls)
}

func TestEventBus_TypedHandlerIgnoresOtherPayloads(t *testing.T) {
	bus := NewEventBus()
	called := false
	SubscribeTyped(bus, CalendarRemovedType, func(e EventT[CalendarRemoved]) error {
		called = true
		return nil
	})

	require.NoError(t, bus.Publish(NewEvent(context.Background(), CalendarRemovedType, CalendarChanged{CalendarID: "work"})))
	require.NoError(t, bus.Publish(NewEvent(context.Background(), CalendarRemovedType, nil)))

	assert.False(t, called)
}

func TestEventBus_CollectsErrorsAndPanics(t *testing.T) {
	// given
	bus := NewEventBus()
	reached := false
	bus.Subscribe(SyncStateChangedType, func(e Event) error { return errors.New("storage down") })
	bus.Subscribe(SyncStateChangedType, func(e Event) error { panic("boom") })
	bus.Subscribe(SyncStateChangedType, func(e Event) error {
		reached = true
		return nil
	})

	// when
	err := bus.Publish(NewEvent(context.Background(), SyncStateChangedType, SyncStateChanged{CalendarID: "work"}))

	// then
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 handler(s) failed")
	assert.True(t, reached)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	count := 0
	unsubscribe := bus.Subscribe(ConfigUpdatedType, func(e Event) error {
		count++
		return nil
	})

	require.NoError(t, bus.Publish(NewEvent(context.Background(), ConfigUpdatedType, ConfigUpdated{})))
	unsubscribe()
	require.NoError(t, bus.Publish(NewEvent(context.Background(), ConfigUpdatedType, ConfigUpdated{})))

	assert.Equal(t, 1, count)
}

func TestEventBus_CancelledContextSkipsHandlers(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.Subscribe(EventChangedType, func(e Event) error {
		called = true
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Publish(NewEvent(ctx, EventChangedType, EventChanged{CalendarID: "home"}))

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
