package nodestate

import "time"

// UnitState is the mirrored view of one unit.
type UnitState struct {
	UnitMeta
	Items []InventoryItem `json:"items,omitempty"`
}

type UnitMeta struct {
	UnitID      string    `json:"unit_id"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Capacity    int       `json:"capacity"`
	OrderID     string    `json:"order_id,omitempty"`
	Cycles      int       `json:"cycles"`
	Produced    int       `json:"produced"`
	StoredTotal int       `json:"stored_total"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type InventoryItem struct {
	Material string `json:"material"`
	Quantity int    `json:"quantity"`
}
