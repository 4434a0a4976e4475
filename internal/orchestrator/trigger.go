package orchestrator

import (
	"sync"
	"time"
)

// Trigger is a reason to run a cycle.
type Trigger struct {
	Reason string
	Path   string
	At     time.Time
}

// triggerQueue collects triggers from the watcher and the interval ticker
// for the single goroutine that runs cycles.
//
// Enqueue never blocks. The signal channel has a buffer of one, so bursts
// of file events coalesce into one wake-up; the loop then drains all
// pending triggers and runs one cycle for the lot.
type triggerQueue struct {
	mu       sync.Mutex
	triggers []Trigger
	closed   bool
	signal   chan struct{}
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		triggers: make([]Trigger, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds t. It returns false once the queue is closed.
func (q *triggerQueue) Enqueue(t Trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.triggers = append(q.triggers, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every pending trigger.
func (q *triggerQueue) Drain() []Trigger {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.triggers) == 0 {
		return nil
	}
	out := q.triggers
	q.triggers = make([]Trigger, 0, 16)
	return out
}

// Wait returns a channel that fires when triggers may be pending. It is
// closed when the queue is closed.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending triggers.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}

// Close stops the queue and wakes the waiter.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
