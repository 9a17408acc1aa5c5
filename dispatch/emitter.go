package dispatch

import "floorcore/resource"

// Emitter is the interface adapters must satisfy to bridge dispatch events to the engine.
type Emitter interface {
	resource.Emitter

	EmitOrderSubmitted(orderID string, kind resource.Kind)
	EmitOrderRejected(orderID, reason string)
	EmitOrderAssigned(orderID, unitID string, attempt int)
	EmitNoCapacity(orderID string, kind resource.Kind, detail string)
	EmitOrderCompleted(orderID, unitID, detail string)
	EmitOrderRequeued(orderID, unitID, detail string, attempt int)
	EmitOrderFailed(orderID, unitID, errorCode, detail string)
	EmitOrderCancelled(orderID, reason string)
	EmitCycleCancelled(unitID, orderID string)

	EmitUnitRegistered(unitID string, kind resource.Kind, capacity int)
	EmitUnitDeregistered(unitID string)

	EmitMaterialReceived(unitID, material string, quantity, total int)
	EmitMaterialWithdrawn(unitID, material string, quantity, total int)
	EmitMaterialRejected(unitID, material string, quantity int, detail string)
	EmitInventoryReport(unitID, material string, quantity int)
	EmitProductionCompleted(unitID string, quantity, produced int)
}
