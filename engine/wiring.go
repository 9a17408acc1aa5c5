package engine

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"floorcore/messaging"
	"floorcore/nodestate"
	"floorcore/store"
)

var errJournalFull = errors.New("journal buffer full, event dropped")

func (e *Engine) wireEventHandlers() {
	e.Events.Subscribe(NewEventLogger(e.log.Named("events")))
	e.Events.Subscribe(e.metrics)
	e.Events.Subscribe(e.dirty)
	if e.journal != nil {
		e.Events.Subscribe(e.journal)
	}

	e.Events.SubscribeTypes(func(evt Event) {
		e.log.Warnf("engine: order %s failed: %s", evt.SourceID, evt.Detail)
	}, EventOrderFailed)

	e.Events.SubscribeTypes(func(evt Event) {
		e.log.Warnf("engine: unit %s faulted: %s", evt.SourceID, evt.Detail)
	}, EventUnitFaulted)
}

// EventLogger writes one line per event.
type EventLogger struct {
	log *zap.SugaredLogger
}

func NewEventLogger(log *zap.SugaredLogger) *EventLogger {
	return &EventLogger{log: log}
}

func (l *EventLogger) Handle(evt Event) error {
	rec := evt.Record()
	if evt.Kind == EventNoCapacity {
		l.log.Debugf("%s %s %s: %s", rec.Timestamp, rec.Kind, rec.SourceID, rec.Detail)
		return nil
	}
	l.log.Infof("%s %s %s: %s", rec.Timestamp, rec.Kind, rec.SourceID, rec.Detail)
	return nil
}

// dirtyUnits collects the units touched since the last flush.
type dirtyUnits struct {
	ids     []string
	seen    map[string]bool
	removed map[string]bool
}

func newDirtyUnits() *dirtyUnits {
	return &dirtyUnits{seen: map[string]bool{}, removed: map[string]bool{}}
}

func unitSourced(kind EventKind) bool {
	k := string(kind)
	return strings.HasPrefix(k, "unit_") || strings.HasPrefix(k, "cycle_") || strings.HasPrefix(k, "material_") ||
		kind == EventInventoryReport || kind == EventProductionCompleted
}

func (d *dirtyUnits) Handle(evt Event) error {
	if !unitSourced(evt.Kind) {
		return nil
	}
	if evt.Kind == EventUnitDeregistered {
		d.removed[evt.SourceID] = true
	} else {
		delete(d.removed, evt.SourceID)
	}
	if !d.seen[evt.SourceID] {
		d.seen[evt.SourceID] = true
		d.ids = append(d.ids, evt.SourceID)
	}
	return nil
}

// take returns touched ids in first-touch order and resets the set.
func (d *dirtyUnits) take() (ids []string, removed map[string]bool) {
	ids, removed = d.ids, d.removed
	d.ids = nil
	d.seen = map[string]bool{}
	d.removed = map[string]bool{}
	return ids, removed
}

// journal persists events and queues them for outbound messaging on its own goroutine.
type journal struct {
	db          *store.DB
	log         *zap.SugaredLogger
	factoryID   string
	eventsTopic string

	events  chan Event
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

func newJournal(db *store.DB, log *zap.SugaredLogger, factoryID, eventsTopic string, buffer int) *journal {
	if buffer <= 0 {
		buffer = 1024
	}
	j := &journal{
		db:          db,
		log:         log,
		factoryID:   factoryID,
		eventsTopic: eventsTopic,
		events:      make(chan Event, buffer),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

func (j *journal) Handle(evt Event) error {
	select {
	case j.events <- evt:
		return nil
	default:
		j.dropped.Add(1)
		return errJournalFull
	}
}

func (j *journal) run() {
	defer j.wg.Done()
	for evt := range j.events {
		j.write(evt)
	}
}

func (j *journal) write(evt Event) {
	if _, err := j.db.AppendEvent(evt.Timestamp, evt.SourceID, string(evt.Kind), evt.Detail); err != nil {
		j.log.Errorf("journal: append %s: %v", evt.Kind, err)
	}
	if j.eventsTopic == "" {
		return
	}
	env, err := messaging.NewEnvelope(messaging.TypeEvent, "", j.factoryID, evt.Record())
	if err != nil {
		j.log.Errorf("journal: %v", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		j.log.Errorf("journal: encode envelope: %v", err)
		return
	}
	if _, err := j.db.EnqueueOutbox(j.eventsTopic, data, messaging.TypeEvent); err != nil {
		j.log.Errorf("journal: enqueue outbox: %v", err)
	}
}

// close waits until every queued event is written.
func (j *journal) close() {
	j.once.Do(func() { close(j.events) })
	j.wg.Wait()
}

// flush pushes touched units to metrics and the redis mirror.
func (e *Engine) flush() {
	e.metrics.SetPending(e.dispatcher.PendingCount())
	ids, removed := e.dirty.take()
	for _, id := range ids {
		if removed[id] {
			e.metrics.ForgetUnit(id)
			if e.nodeState != nil {
				e.nodeState.Remove(id)
			}
			continue
		}
		info, err := e.dispatcher.Unit(id)
		if err != nil {
			continue
		}
		e.metrics.ObserveUnit(info)
		if e.nodeState == nil {
			continue
		}
		state := nodestate.UnitState{UnitMeta: nodestate.UnitMeta{
			UnitID:      info.ID,
			Kind:        string(info.Kind),
			State:       string(info.State),
			Capacity:    info.Capacity,
			OrderID:     info.OrderID,
			Cycles:      info.Cycles,
			Produced:    info.Produced,
			StoredTotal: info.StoredTotal,
			UpdatedAt:   e.sched.Now(),
		}}
		if entries, err := e.dispatcher.Inventory(id); err == nil {
			for _, en := range entries {
				state.Items = append(state.Items, nodestate.InventoryItem{Material: en.Material, Quantity: en.Quantity})
			}
		}
		e.nodeState.Update(state)
	}
}
