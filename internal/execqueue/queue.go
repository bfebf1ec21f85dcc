// Package execqueue implements the exclusive execution context: a thread-safe
// FIFO drained by a single host-driven tick. All capability handlers and every
// in-process job mutation run here, one at a time, in submission order.
//
// Caller discipline: an enqueued action must not submit back into the bridge
// and wait. The only consumer is this queue's own tick, so such a wait can
// never be satisfied. This is documented, not enforced.
package execqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/hostbridge/internal/log"
)

var (
	// ErrTimeout is returned by Wait when the bound elapses before the action
	// has produced an outcome. The action may still run later; there is no
	// preemption.
	ErrTimeout = errors.New("execqueue: wait timed out")

	// ErrUnavailable is returned when the queue has been torn down (host
	// reload) before or while the action was waiting to run.
	ErrUnavailable = errors.New("execqueue: execution context unavailable")
)

// Action is a unit of work executed on the exclusive context.
type Action func(ctx context.Context) (any, error)

type outcome struct {
	result any
	err    error
}

type item struct {
	action Action
	done   chan outcome // buffered; delivery never blocks the tick
}

// Pending is a handle to an enqueued action's eventual outcome.
type Pending struct {
	done <-chan outcome
}

// Wait blocks until the action completes or timeout elapses. On timeout it
// returns ErrTimeout; if the queue is closed before the action runs it returns
// ErrUnavailable.
func (p *Pending) Wait(timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.done:
		return out.result, out.err
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Queue is the thread-safe FIFO feeding the exclusive execution context.
// Intake happens on arbitrary goroutines; consumption happens only in Tick.
type Queue struct {
	mu     sync.Mutex
	items  []*item
	closed bool

	// runMu serializes Tick bodies so the at-most-one-action invariant holds
	// even if the host wires two tick sources by mistake.
	runMu sync.Mutex

	logger *slog.Logger
}

// New creates an open queue.
func New() *Queue {
	return &Queue{logger: log.WithComponent("execqueue")}
}

// Enqueue appends an action and returns a handle for waiting on its outcome.
func (q *Queue) Enqueue(action Action) (*Pending, error) {
	if action == nil {
		return nil, fmt.Errorf("nil action")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrUnavailable
	}
	it := &item{action: action, done: make(chan outcome, 1)}
	q.items = append(q.items, it)
	return &Pending{done: it.done}, nil
}

// Len returns the number of actions waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Tick drains everything queued at the moment of the call, running each action
// to completion in FIFO order. Actions enqueued while Tick runs wait for the
// next tick. A panicking action becomes a failure outcome; the tick never
// dies with it. Returns the number of actions executed.
func (q *Queue) Tick(ctx context.Context) int {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.mu.Unlock()

	ran := 0
	for _, it := range batch {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			// Reload landed mid-batch; the context the remaining actions
			// would have run against no longer exists.
			it.done <- outcome{err: ErrUnavailable}
			continue
		}

		it.done <- q.run(ctx, it.action)
		ran++
	}
	return ran
}

func (q *Queue) run(ctx context.Context, action Action) (out outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error("action panicked", "panic", fmt.Sprint(rec))
			out = outcome{err: fmt.Errorf("action panicked: %v", rec)}
		}
	}()

	result, err := action(ctx)
	return outcome{result: result, err: err}
}

// Close tears the queue down, failing every queued action with ErrUnavailable.
// Used on host reload, when the execution context ceases to exist. Enqueue
// after Close returns ErrUnavailable. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	orphans := q.items
	q.items = nil
	q.mu.Unlock()

	if len(orphans) > 0 {
		q.logger.Warn("queue closed with pending actions", "count", len(orphans))
	}
	for _, it := range orphans {
		it.done <- outcome{err: ErrUnavailable}
	}
}
