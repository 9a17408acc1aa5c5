package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	log  *[]string
}

func (r *recorder) Handle(evt Event) error {
	*r.log = append(*r.log, r.name+":"+evt.SourceID)
	return nil
}

func fixedNow() time.Time { return time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC) }

func TestPublishInSubscriptionOrder(t *testing.T) {
	bus := NewEventBus(fixedNow, nil)
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		require.True(t, bus.Subscribe(&recorder{name: name, log: &got}))
	}
	bus.Emit(EventOrderSubmitted, "o-1", "")
	bus.Emit(EventOrderSubmitted, "o-2", "")
	assert.Equal(t, []string{"a:o-1", "b:o-1", "c:o-1", "a:o-2", "b:o-2", "c:o-2"}, got)
	assert.Equal(t, uint64(2), bus.Published())
}

func TestPublishStampsMissingTimestamp(t *testing.T) {
	bus := NewEventBus(fixedNow, nil)
	var seen []Event
	bus.SubscribeFunc(func(evt Event) error {
		seen = append(seen, evt)
		return nil
	})
	explicit := fixedNow().Add(-time.Hour)
	bus.Emit(EventUnitAssigned, "m1", "")
	bus.Publish(Event{Timestamp: explicit, SourceID: "m1", Kind: EventCycleCompleted})
	require.Len(t, seen, 2)
	assert.Equal(t, fixedNow(), seen[0].Timestamp)
	assert.Equal(t, explicit, seen[1].Timestamp)
}

func TestFailingHandlersAreIsolated(t *testing.T) {
	bus := NewEventBus(fixedNow, nil)
	var reported []error
	bus.SetErrorReporter(func(_ Handler, _ Event, err error) { reported = append(reported, err) })

	var got []string
	bus.SubscribeFunc(func(Event) error { return errors.New("disk full") })
	bus.SubscribeFunc(func(Event) error { panic("boom") })
	bus.Subscribe(&recorder{name: "ok", log: &got})

	assert.NotPanics(t, func() { bus.Emit(EventOrderFailed, "o-1", "") })
	assert.Equal(t, []string{"ok:o-1"}, got)
	require.Len(t, reported, 2)
	assert.EqualError(t, reported[0], "disk full")
	assert.Contains(t, reported[1].Error(), "boom")
	assert.Equal(t, uint64(2), bus.Failures())
}

func TestUnsubscribeDuringFanOutKeepsCurrentDelivery(t *testing.T) {
	bus := NewEventBus(fixedNow, nil)
	var got []string
	second := &recorder{name: "second", log: &got}
	late := &recorder{name: "late", log: &got}

	bus.SubscribeFunc(func(evt Event) error {
		got = append(got, "first:"+evt.SourceID)
		bus.Unsubscribe(second)
		bus.Subscribe(late)
		return nil
	})
	bus.Subscribe(second)

	bus.Emit(EventNoCapacity, "o-1", "")
	assert.Equal(t, []string{"first:o-1", "second:o-1"}, got, "changes apply to the next publish")

	got = got[:0]
	bus.Emit(EventNoCapacity, "o-2", "")
	assert.Equal(t, []string{"first:o-2", "late:o-2"}, got)
}

func TestSubscribeAndUnsubscribeAreIdempotent(t *testing.T) {
	bus := NewEventBus(fixedNow, nil)
	var got []string
	h := &recorder{name: "h", log: &got}

	assert.True(t, bus.Subscribe(h))
	assert.False(t, bus.Subscribe(h))
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Emit(EventUnitReset, "m1", "")
	assert.Len(t, got, 1)

	assert.True(t, bus.Unsubscribe(h))
	assert.False(t, bus.Unsubscribe(h))
	assert.False(t, bus.Unsubscribe(&recorder{name: "never", log: &got}))
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestSubscribeFuncHandleUnsubscribes(t *testing.T) {
	bus := NewEventBus(fixedNow, nil)
	calls := 0
	h := bus.SubscribeFunc(func(Event) error {
		calls++
		return nil
	})
	bus.Emit(EventUnitReset, "m1", "")
	require.True(t, bus.Unsubscribe(h))
	bus.Emit(EventUnitReset, "m1", "")
	assert.Equal(t, 1, calls)
}

func TestSubscribeTypesFilters(t *testing.T) {
	bus := NewEventBus(fixedNow, nil)
	var kinds []EventKind
	bus.SubscribeTypes(func(evt Event) { kinds = append(kinds, evt.Kind) }, EventOrderCompleted, EventOrderFailed)

	bus.Emit(EventOrderSubmitted, "o-1", "")
	bus.Emit(EventOrderCompleted, "o-1", "")
	bus.Emit(EventNoCapacity, "o-2", "")
	bus.Emit(EventOrderFailed, "o-2", "")
	assert.Equal(t, []EventKind{EventOrderCompleted, EventOrderFailed}, kinds)
}

func TestRecordContract(t *testing.T) {
	evt := Event{Timestamp: fixedNow(), SourceID: "w1", Kind: EventMaterialReceived, Detail: "steel +600 (total 600)"}
	rec := evt.Record()
	assert.Equal(t, Record{Timestamp: "2026-05-04T06:00:00Z", SourceID: "w1", Kind: "material_received", Detail: "steel +600 (total 600)"}, rec)

	data, err := rec.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"2026-05-04T06:00:00Z","source_id":"w1","kind":"material_received","detail":"steel +600 (total 600)"}`, string(data))

	decoded, err := DecodeRecord(data)
	require.NoError(t, err)
	back, err := decoded.Event()
	require.NoError(t, err)
	assert.True(t, back.Timestamp.Equal(evt.Timestamp))
	assert.Equal(t, evt.Kind, back.Kind)

	_, err = Record{Timestamp: "yesterday"}.Event()
	assert.Error(t, err)
}
