package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventUnitRegistered   EventKind = "unit_registered"
	EventUnitDeregistered EventKind = "unit_deregistered"
	EventUnitAssigned     EventKind = "unit_assigned"
	EventCycleCompleted   EventKind = "cycle_completed"
	EventCycleFailed      EventKind = "cycle_failed"
	EventCycleCancelled   EventKind = "cycle_cancelled"
	EventUnitFaulted      EventKind = "unit_faulted"
	EventUnitReset        EventKind = "unit_reset"
	EventUnitBlocked      EventKind = "unit_blocked"
	EventUnitUnblocked    EventKind = "unit_unblocked"

	EventOrderSubmitted EventKind = "order_submitted"
	EventOrderRejected  EventKind = "order_rejected"
	EventOrderAssigned  EventKind = "order_assigned"
	EventNoCapacity     EventKind = "no_capacity"
	EventOrderCompleted EventKind = "order_completed"
	EventOrderRequeued  EventKind = "order_requeued"
	EventOrderFailed    EventKind = "order_failed"
	EventOrderCancelled EventKind = "order_cancelled"

	EventMaterialReceived    EventKind = "material_received"
	EventMaterialWithdrawn   EventKind = "material_withdrawn"
	EventMaterialRejected    EventKind = "material_rejected"
	EventInventoryReport     EventKind = "inventory_report"
	EventProductionCompleted EventKind = "production_completed"
)

// Event is immutable once published. Detail is a short human-readable line.
type Event struct {
	Timestamp time.Time
	SourceID  string
	Kind      EventKind
	Detail    string
}

// Record is the public wire form of an Event.
type Record struct {
	Timestamp string `json:"timestamp"`
	SourceID  string `json:"source_id"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

func (e Event) Record() Record {
	return Record{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		SourceID:  e.SourceID,
		Kind:      string(e.Kind),
		Detail:    e.Detail,
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s %s: %s", e.Timestamp.UTC().Format(time.RFC3339), e.Kind, e.SourceID, e.Detail)
}

// Event parses the record back. The timestamp must be RFC 3339.
func (r Record) Event() (Event, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("parse event timestamp %q: %w", r.Timestamp, err)
	}
	return Event{Timestamp: ts, SourceID: r.SourceID, Kind: EventKind(r.Kind), Detail: r.Detail}, nil
}

func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode event record: %w", err)
	}
	return r, nil
}
