package dispatch

import (
	"sync"
	"sync/atomic"
)

// Intake is the thread-safe submission queue. Producers on any goroutine
// enqueue; the scheduling goroutine drains it at tick boundaries.
type Intake struct {
	mu       sync.Mutex
	backlog  []Order
	notify   chan struct{}
	closed   atomic.Bool
	enqueued atomic.Uint64
}

func NewIntake() *Intake {
	return &Intake{notify: make(chan struct{}, 1)}
}

// Enqueue appends an order and wakes the drainer. It returns false once the
// intake is closed.
func (q *Intake) Enqueue(o Order) bool {
	if q.closed.Load() {
		return false
	}
	q.mu.Lock()
	q.backlog = append(q.backlog, o)
	q.mu.Unlock()
	q.enqueued.Add(1)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns everything enqueued so far, oldest first.
func (q *Intake) Drain() []Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.backlog
	q.backlog = nil
	return out
}

func (q *Intake) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Notify fires at most once per burst of enqueues.
func (q *Intake) Notify() <-chan struct{} { return q.notify }

func (q *Intake) Enqueued() uint64 { return q.enqueued.Load() }

func (q *Intake) Close() { q.closed.Store(true) }
