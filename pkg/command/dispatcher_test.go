package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solcal/solcal/internal/utils"
	"github.com/solcal/solcal/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func receive(t *testing.T, results <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-results:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command result")
		return Message{}
	}
}

func TestDispatcher_RunsSameKeyTasksInOrder(t *testing.T) {
	// given
	d := NewDispatcher(4, nil, utils.NewMockClock(now))
	defer d.Close()
	var (
		mu     sync.Mutex
		order  []int
		active atomic.Int32
		peak   atomic.Int32
	)

	// when
	var channels []<-chan Message
	for i := range 6 {
		_, results := d.Submit("work", "step", func(ctx context.Context) (any, error) {
			if n := active.Add(1); n > peak.Load() {
				peak.Store(n)
			}
			defer active.Add(-1)
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		channels = append(channels, results)
	}

	// then
	for i, results := range channels {
		msg := receive(t, results)
		assert.Equal(t, KindResult, msg.Kind)
		assert.Equal(t, i, msg.Data)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, d.Pending("work"))
}

func TestDispatcher_RunsDifferentKeysConcurrently(t *testing.T) {
	// given
	d := NewDispatcher(2, nil, utils.NewMockClock(now))
	defer d.Close()
	startedA, startedB := make(chan struct{}), make(chan struct{})

	// when each task waits for the other one to start
	_, a := d.Submit("home", "a", func(ctx context.Context) (any, error) {
		close(startedA)
		<-startedB
		return "a", nil
	})
	_, b := d.Submit("work", "b", func(ctx context.Context) (any, error) {
		close(startedB)
		<-startedA
		return "b", nil
	})

	// then
	assert.Equal(t, "a", receive(t, a).Data)
	assert.Equal(t, "b", receive(t, b).Data)
}

func TestDispatcher_RespectsWorkerLimit(t *testing.T) {
	// given
	d := NewDispatcher(1, nil, utils.NewMockClock(now))
	defer d.Close()
	release := make(chan struct{})
	var secondStarted atomic.Bool

	_, first := d.Submit("home", "slow", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	_, second := d.Submit("work", "fast", func(ctx context.Context) (any, error) {
		secondStarted.Store(true)
		return nil, nil
	})

	// then
	assert.Never(t, secondStarted.Load, 50*time.Millisecond, 5*time.Millisecond)
	close(release)
	receive(t, first)
	receive(t, second)
	assert.True(t, secondStarted.Load())
}

func TestDispatcher_ReportsFailures(t *testing.T) {
	t.Run("should classify task errors", func(t *testing.T) {
		d := NewDispatcher(1, nil, utils.NewMockClock(now))
		defer d.Close()

		_, results := d.Submit("work", "sync", func(ctx context.Context) (any, error) {
			return "ignored", fmt.Errorf("%w: calendar gone", calendar.ErrNotFound)
		})

		msg := receive(t, results)
		assert.Equal(t, KindError, msg.Kind)
		assert.Equal(t, 404, msg.Status)
		assert.Nil(t, msg.Data)
		assert.Contains(t, msg.Error, "calendar gone")
		assert.Equal(t, now, msg.Time)
	})

	t.Run("should turn a panic into an error and keep the queue going", func(t *testing.T) {
		d := NewDispatcher(1, nil, utils.NewMockClock(now))
		defer d.Close()

		_, broken := d.Submit("work", "broken", func(ctx context.Context) (any, error) {
			panic("boom")
		})
		_, next := d.Submit("work", "next", func(ctx context.Context) (any, error) {
			return "ok", nil
		})

		msg := receive(t, broken)
		assert.Equal(t, KindError, msg.Kind)
		assert.Contains(t, msg.Error, "boom")
		assert.Equal(t, "ok", receive(t, next).Data)
	})

	t.Run("should reject submissions after close", func(t *testing.T) {
		d := NewDispatcher(1, nil, utils.NewMockClock(now))
		d.Close()

		_, results := d.Submit("work", "late", func(ctx context.Context) (any, error) {
			t.Fatal("task must not run")
			return nil, nil
		})

		msg := receive(t, results)
		assert.Equal(t, KindError, msg.Kind)
		assert.Contains(t, msg.Error, ErrClosed.Error())
	})
}

func TestDispatcher_CloseCancelsRunningTasks(t *testing.T) {
	// given
	d := NewDispatcher(1, nil, utils.NewMockClock(now))
	started := make(chan struct{})
	_, results := d.Submit("work", "long", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	// when
	d.Close()

	// then
	msg := receive(t, results)
	assert.Equal(t, KindError, msg.Kind)
	assert.Contains(t, msg.Error, context.Canceled.Error())
}

func TestDispatcher_BroadcastsResults(t *testing.T) {
	// given
	hub := NewHub(4)
	messages, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	d := NewDispatcher(1, hub, utils.NewMockClock(now))
	defer d.Close()

	// when
	id, results := d.Submit("work", "sync", func(ctx context.Context) (any, error) {
		return nil, errors.New("disk full")
	})

	// then
	direct := receive(t, results)
	broadcast := receive(t, messages)
	require.Equal(t, id, direct.ID)
	assert.Equal(t, direct, broadcast)
	assert.Equal(t, 500, broadcast.Status)
}
