package engine

import (
	"fmt"

	"floorcore/resource"
)

// dispatchEmitter bridges the dispatch package's emitter interface to the EventBus.
type dispatchEmitter struct {
	bus *EventBus
}

var transitionKinds = map[string]EventKind{
	resource.EventAssign:   EventUnitAssigned,
	resource.EventComplete: EventCycleCompleted,
	resource.EventFail:     EventCycleFailed,
	resource.EventFault:    EventUnitFaulted,
	resource.EventReset:    EventUnitReset,
	resource.EventBlock:    EventUnitBlocked,
	resource.EventUnblock:  EventUnitUnblocked,
}

func (e *dispatchEmitter) EmitUnitTransition(unitID string, kind resource.Kind, event string, from, to resource.State, detail string) {
	k, ok := transitionKinds[event]
	if !ok {
		k = EventKind("unit_" + event)
	}
	e.bus.Emit(k, unitID, fmt.Sprintf("%s %s->%s: %s", kind, from, to, detail))
}

func (e *dispatchEmitter) EmitOrderSubmitted(orderID string, kind resource.Kind) {
	e.bus.Emit(EventOrderSubmitted, orderID, fmt.Sprintf("requested %s", kind))
}

func (e *dispatchEmitter) EmitOrderRejected(orderID, reason string) {
	e.bus.Emit(EventOrderRejected, orderID, reason)
}

func (e *dispatchEmitter) EmitOrderAssigned(orderID, unitID string, attempt int) {
	e.bus.Emit(EventOrderAssigned, orderID, fmt.Sprintf("assigned to %s (attempt %d)", unitID, attempt))
}

func (e *dispatchEmitter) EmitNoCapacity(orderID string, kind resource.Kind, detail string) {
	e.bus.Emit(EventNoCapacity, orderID, fmt.Sprintf("no idle %s: %s", kind, detail))
}

func (e *dispatchEmitter) EmitOrderCompleted(orderID, unitID, detail string) {
	e.bus.Emit(EventOrderCompleted, orderID, fmt.Sprintf("completed on %s: %s", unitID, detail))
}

func (e *dispatchEmitter) EmitOrderRequeued(orderID, unitID, detail string, attempt int) {
	e.bus.Emit(EventOrderRequeued, orderID, fmt.Sprintf("requeued from %s after attempt %d: %s", unitID, attempt, detail))
}

func (e *dispatchEmitter) EmitOrderFailed(orderID, unitID, errorCode, detail string) {
	e.bus.Emit(EventOrderFailed, orderID, fmt.Sprintf("%s on %s: %s", errorCode, unitID, detail))
}

func (e *dispatchEmitter) EmitOrderCancelled(orderID, reason string) {
	e.bus.Emit(EventOrderCancelled, orderID, reason)
}

func (e *dispatchEmitter) EmitCycleCancelled(unitID, orderID string) {
	e.bus.Emit(EventCycleCancelled, unitID, fmt.Sprintf("pending completion of order %s cancelled", orderID))
}

func (e *dispatchEmitter) EmitUnitRegistered(unitID string, kind resource.Kind, capacity int) {
	e.bus.Emit(EventUnitRegistered, unitID, fmt.Sprintf("%s capacity %d", kind, capacity))
}

func (e *dispatchEmitter) EmitUnitDeregistered(unitID string) {
	e.bus.Emit(EventUnitDeregistered, unitID, "deregistered")
}

func (e *dispatchEmitter) EmitMaterialReceived(unitID, material string, quantity, total int) {
	e.bus.Emit(EventMaterialReceived, unitID, fmt.Sprintf("%s +%d (total %d)", material, quantity, total))
}

func (e *dispatchEmitter) EmitMaterialWithdrawn(unitID, material string, quantity, total int) {
	e.bus.Emit(EventMaterialWithdrawn, unitID, fmt.Sprintf("%s -%d (total %d)", material, quantity, total))
}

func (e *dispatchEmitter) EmitMaterialRejected(unitID, material string, quantity int, detail string) {
	e.bus.Emit(EventMaterialRejected, unitID, fmt.Sprintf("%s %d: %s", material, quantity, detail))
}

func (e *dispatchEmitter) EmitInventoryReport(unitID, material string, quantity int) {
	e.bus.Emit(EventInventoryReport, unitID, fmt.Sprintf("%s: %d", material, quantity))
}

func (e *dispatchEmitter) EmitProductionCompleted(unitID string, quantity, produced int) {
	e.bus.Emit(EventProductionCompleted, unitID, fmt.Sprintf("produced %d (total %d)", quantity, produced))
}
