package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/utils"
	"github.com/solcal/solcal/pkg/calendar"
	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("dispatcher closed")

// Task is a unit of work submitted on behalf of the UI.
type Task func(ctx context.Context) (any, error)

type job struct {
	id      string
	name    string
	key     string
	task    Task
	results chan Message
}

// Dispatcher runs tasks with the same key one at a time in submission order.
// Tasks with different keys run concurrently, bounded by the worker limit.
type Dispatcher struct {
	hub   *Hub
	clock utils.Clock
	sem   *semaphore.Weighted

	ctx  context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	queues map[string][]job
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(workers int, hub *Hub, clock utils.Clock) *Dispatcher {
	ctx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		hub:    hub,
		clock:  clock,
		sem:    semaphore.NewWeighted(int64(max(workers, 1))),
		ctx:    ctx,
		stop:   stop,
		queues: make(map[string][]job),
	}
}

// Submit enqueues task under key. The returned id identifies the result
// message, which is sent on the returned channel and broadcast to the hub.
func (d *Dispatcher) Submit(key, name string, task Task) (string, <-chan Message) {
	j := job{id: uuid.NewString(), name: name, key: key, task: task, results: make(chan Message, 1)}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		j.results <- d.message(j, nil, ErrClosed)
		close(j.results)
		return j.id, j.results
	}
	d.queues[key] = append(d.queues[key], j)
	first := len(d.queues[key]) == 1
	if first {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if first {
		go d.drain(key)
	}
	return j.id, j.results
}

// Pending reports how many tasks are queued or running for key.
func (d *Dispatcher) Pending(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[key])
}

// Close rejects new submissions, cancels running tasks and waits for the queues to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stop()
	d.wg.Wait()
}

func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		j := d.queues[key][0]
		d.mu.Unlock()

		d.run(j)

		d.mu.Lock()
		d.queues[key] = d.queues[key][1:]
		if len(d.queues[key]) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(j job) {
	defer close(j.results)

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		d.deliver(j, nil, fmt.Errorf("%s not started: %w", j.name, err))
		return
	}
	defer d.sem.Release(1)

	logger := log.WithFields(log.Fields{"command": j.name, "key": j.key, "id": j.id})
	logger.Debug("Running command")
	data, err := safeRun(d.ctx, j.task)
	if err != nil {
		logger.Warnf("Command failed: %v", err)
	}
	d.deliver(j, data, err)
}

func (d *Dispatcher) deliver(j job, data any, err error) {
	msg := d.message(j, data, err)
	j.results <- msg
	if d.hub != nil {
		d.hub.Broadcast(msg)
	}
}

func (d *Dispatcher) message(j job, data any, err error) Message {
	msg := Message{ID: j.id, Kind: KindResult, Command: j.name, Key: j.key, Data: data, Time: d.clock.Now()}
	if err != nil {
		msg.Kind, msg.Data = KindError, nil
		msg.Error = err.Error()
		msg.Status = calendar.HTTPStatus(err)
	}
	return msg
}

func safeRun(ctx context.Context, task Task) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panic: %v", r)
		}
	}()
	return task(ctx)
}
