package engine

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not call back into the dispatcher or a
// warehouse ledger; work that blocks belongs on the handler's own worker.
type Handler interface {
	Handle(Event) error
}

type HandlerFunc func(Event) error

func (f HandlerFunc) Handle(evt Event) error { return f(evt) }

// ErrorReporter is told about every handler failure. It never affects the publisher.
type ErrorReporter func(h Handler, evt Event, err error)

// EventBus fans events out to subscribers in subscription order.
// Handlers are compared by identity; plain functions are not comparable,
// so register them with SubscribeFunc and keep the returned Handler.
type EventBus struct {
	mu       sync.Mutex
	handlers []Handler
	now      func() time.Time
	report   ErrorReporter

	published atomic.Uint64
	failures  atomic.Uint64
}

// NewEventBus stamps events that arrive without a timestamp using now.
func NewEventBus(now func() time.Time, log *zap.SugaredLogger) *EventBus {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EventBus{
		now: now,
		report: func(h Handler, evt Event, err error) {
			log.Warnf("eventbus: handler %T failed on %s from %s: %v", h, evt.Kind, evt.SourceID, err)
		},
	}
}

func (b *EventBus) SetErrorReporter(r ErrorReporter) {
	b.mu.Lock()
	b.report = r
	b.mu.Unlock()
}

// Subscribe adds h unless it is already subscribed. It reports whether h was added.
func (b *EventBus) Subscribe(h Handler) bool {
	if h == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(h) >= 0 {
		return false
	}
	next := make([]Handler, len(b.handlers), len(b.handlers)+1)
	copy(next, b.handlers)
	b.handlers = append(next, h)
	return true
}

// Unsubscribe removes h. Removing an unknown handler is a no-op.
func (b *EventBus) Unsubscribe(h Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(h)
	if i < 0 {
		return false
	}
	b.handlers = slices.Delete(slices.Clone(b.handlers), i, i+1)
	return true
}

func (b *EventBus) SubscribeFunc(fn func(Event) error) Handler {
	h := HandlerFunc(fn)
	b.Subscribe(&h)
	return &h
}

// SubscribeTypes registers fn for the given kinds only.
func (b *EventBus) SubscribeTypes(fn func(Event), kinds ...EventKind) Handler {
	h := &typedHandler{fn: fn, kinds: make(map[EventKind]bool, len(kinds))}
	for _, k := range kinds {
		h.kinds[k] = true
	}
	b.Subscribe(h)
	return h
}

func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// Publish delivers evt to the subscribers present when the call started.
// Subscription changes made by handlers take effect on the next Publish.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}
	b.mu.Lock()
	handlers := b.handlers
	report := b.report
	b.mu.Unlock()

	b.published.Add(1)
	for _, h := range handlers {
		if err := deliver(h, evt); err != nil {
			b.failures.Add(1)
			if report != nil {
				report(h, evt, err)
			}
		}
	}
}

// Emit publishes a freshly stamped event.
func (b *EventBus) Emit(kind EventKind, sourceID, detail string) {
	b.Publish(Event{SourceID: sourceID, Kind: kind, Detail: detail})
}

func (b *EventBus) Published() uint64 { return b.published.Load() }
func (b *EventBus) Failures() uint64  { return b.failures.Load() }

func (b *EventBus) indexOf(h Handler) int {
	for i, existing := range b.handlers {
		if sameHandler(existing, h) {
			return i
		}
	}
	return -1
}

func sameHandler(a, b Handler) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func deliver(h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(evt)
}

type typedHandler struct {
	fn    func(Event)
	kinds map[EventKind]bool
}

func (h *typedHandler) Handle(evt Event) error {
	if len(h.kinds) == 0 || h.kinds[evt.Kind] {
		h.fn(evt)
	}
	return nil
}
