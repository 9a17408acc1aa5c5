package scheduler

import (
	"container/heap"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type Mode string

const (
	// ModeDiscrete advances logical time only when Advance is called.
	ModeDiscrete Mode = "discrete"
	// ModeRealTime follows the wall clock on every Sync.
	ModeRealTime Mode = "realtime"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDiscrete, ModeRealTime:
		return Mode(s), nil
	case "":
		return ModeDiscrete, nil
	default:
		return "", fmt.Errorf("unknown scheduler mode %q", s)
	}
}

// Timer is a pending cycle completion. Cancel is cooperative: the scheduler
// checks the flag right before firing and drops cancelled timers.
type Timer struct {
	sourceID  string
	due       time.Time
	seq       uint64
	fire      func(now time.Time)
	cancelled atomic.Bool
	fired     bool
	index     int
}

func (t *Timer) SourceID() string { return t.sourceID }
func (t *Timer) Due() time.Time   { return t.due }
func (t *Timer) Cancelled() bool  { return t.cancelled.Load() }

// Cancel reports whether this call stopped a timer that had not yet fired.
func (t *Timer) Cancel() bool {
	if t.fired {
		return false
	}
	return t.cancelled.CompareAndSwap(false, true)
}

// Scheduler keeps logical time and fires timers in due order. Ties are
// broken by scheduling order. It is driven by a single goroutine.
type Scheduler struct {
	clock clock.Clock
	mode  Mode
	now   time.Time
	seq   uint64
	queue timerQueue
}

// New starts logical time at c.Now(). A nil clock uses the wall clock.
func New(c clock.Clock, mode Mode) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	if mode == "" {
		mode = ModeDiscrete
	}
	return &Scheduler{clock: c, mode: mode, now: c.Now()}
}

func (s *Scheduler) Now() time.Time     { return s.now }
func (s *Scheduler) Mode() Mode         { return s.mode }
func (s *Scheduler) Clock() clock.Clock { return s.clock }

// Schedule registers fire to run once logical time reaches Now()+after.
func (s *Scheduler) Schedule(sourceID string, after time.Duration, fire func(now time.Time)) *Timer {
	if after < 0 {
		after = 0
	}
	s.seq++
	t := &Timer{
		sourceID: sourceID,
		due:      s.now.Add(after),
		seq:      s.seq,
		fire:     fire,
	}
	heap.Push(&s.queue, t)
	return t
}

// Advance moves logical time forward by d and returns the number of timers fired.
func (s *Scheduler) Advance(d time.Duration) int {
	return s.AdvanceTo(s.now.Add(d))
}

// AdvanceTo fires every live timer due at or before target. Each timer sees
// logical time equal to its own due time while it runs.
func (s *Scheduler) AdvanceTo(target time.Time) int {
	fired := 0
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.due.After(target) {
			break
		}
		heap.Pop(&s.queue)
		if next.due.After(s.now) {
			s.now = next.due
		}
		if next.cancelled.Load() {
			continue
		}
		next.fired = true
		if next.fire != nil {
			next.fire(s.now)
		}
		fired++
	}
	if target.After(s.now) {
		s.now = target
	}
	return fired
}

// Sync advances to the clock's current time. In discrete mode it is a no-op.
func (s *Scheduler) Sync() int {
	if s.mode != ModeRealTime {
		return 0
	}
	return s.AdvanceTo(s.clock.Now())
}

// Pending counts timers that are neither fired nor cancelled.
func (s *Scheduler) Pending() int {
	n := 0
	for _, t := range s.queue {
		if !t.cancelled.Load() {
			n++
		}
	}
	return n
}

// NextDue is the due time of the earliest live timer.
func (s *Scheduler) NextDue() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, t := range s.queue {
		if t.cancelled.Load() {
			continue
		}
		if !found || t.due.Before(next) {
			next, found = t.due, true
		}
	}
	return next, found
}

// CancelSource cancels all live timers registered for sourceID.
func (s *Scheduler) CancelSource(sourceID string) int {
	n := 0
	for _, t := range s.queue {
		if t.sourceID == sourceID && t.Cancel() {
			n++
		}
	}
	return n
}

type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
