package dispatch

import (
	"time"

	"floorcore/resource"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Op selects what a warehouse cycle does with the payload material.
type Op string

const (
	OpReceive  Op = "receive"
	OpWithdraw Op = "withdraw"
)

// Payload carries the work description of an order. A warehouse order with a
// Material receives it into the ledger, or draws it out when Op is withdraw.
// Without a Material the cycle is an inventory check.
type Payload struct {
	Op       Op     `json:"op,omitempty"`
	Material string `json:"material,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Note     string `json:"note,omitempty"`
}

type Order struct {
	ID          string        `json:"id"`
	Kind        resource.Kind `json:"kind"`
	Payload     Payload       `json:"payload"`
	Status      Status        `json:"status"`
	UnitID      string        `json:"unit_id,omitempty"`
	Attempts    int           `json:"attempts"`
	Detail      string        `json:"detail,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Terminal reports whether the order reached a final status.
func (o *Order) Terminal() bool {
	switch o.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
