package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"floorcore/inventory"
)

type Kind string

const (
	KindMachine   Kind = "machine"
	KindWarehouse Kind = "warehouse"
)

// ParseKind accepts the lower-case kind names used on the wire and in config.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMachine, KindWarehouse:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
}

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateBlocked State = "blocked"
	StateFaulted State = "faulted"
)

// Transition names driven through the unit state machine.
const (
	EventAssign   = "assign"
	EventComplete = "complete"
	EventFail     = "fail"
	EventFault    = "fault"
	EventReset    = "reset"
	EventBlock    = "block"
	EventUnblock  = "unblock"
)

const (
	DefaultMachineCycle   = 60 * time.Second
	DefaultWarehouseCycle = 30 * time.Second
)

var (
	ErrNotIdle           = errors.New("unit is not idle")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownKind       = errors.New("unknown resource kind")
)

// Emitter receives exactly one call per successful state transition.
type Emitter interface {
	EmitUnitTransition(unitID string, kind Kind, event string, from, to State, detail string)
}

type nopEmitter struct{}

func (nopEmitter) EmitUnitTransition(string, Kind, string, State, State, string) {}

// Spec describes a unit at registration time.
type Spec struct {
	ID            string
	Kind          Kind
	CycleDuration time.Duration
	Capacity      int
}

// Info is a point-in-time copy of a unit's observable fields.
type Info struct {
	ID            string        `json:"id"`
	Kind          Kind          `json:"kind"`
	State         State         `json:"state"`
	CycleDuration time.Duration `json:"cycle_duration"`
	Capacity      int           `json:"capacity"`
	OrderID       string        `json:"order_id,omitempty"`
	Cycles        int           `json:"cycles"`
	Produced      int           `json:"produced"`
	StoredTotal   int           `json:"stored_total"`
	Detail        string        `json:"detail,omitempty"`
}

// Unit is a Machine or a Warehouse driven by a small state machine.
// A Unit is not safe for concurrent mutation; the dispatcher's scheduling
// goroutine owns it.
type Unit struct {
	id            string
	kind          Kind
	cycleDuration time.Duration
	capacity      int

	machine *fsm.FSM
	emitter Emitter
	ledger  *inventory.Ledger

	orderID  string
	cycles   int
	produced int
	detail   string
}

func New(spec Spec, emitter Emitter) (*Unit, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("unit id is required")
	}
	if _, err := ParseKind(string(spec.Kind)); err != nil {
		return nil, fmt.Errorf("unit %s: %w", spec.ID, err)
	}
	if spec.Capacity < 0 {
		return nil, fmt.Errorf("unit %s: capacity must not be negative", spec.ID)
	}
	if spec.CycleDuration <= 0 {
		spec.CycleDuration = DefaultMachineCycle
		if spec.Kind == KindWarehouse {
			spec.CycleDuration = DefaultWarehouseCycle
		}
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}

	u := &Unit{
		id:            spec.ID,
		kind:          spec.Kind,
		cycleDuration: spec.CycleDuration,
		capacity:      spec.Capacity,
		emitter:       emitter,
	}
	if spec.Kind == KindWarehouse {
		u.ledger = inventory.NewLedger(spec.Capacity)
	}

	u.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: EventAssign, Src: []string{string(StateIdle)}, Dst: string(StateRunning)},
			{Name: EventComplete, Src: []string{string(StateRunning)}, Dst: string(StateIdle)},
			{Name: EventFail, Src: []string{string(StateRunning)}, Dst: string(StateFaulted)},
			{Name: EventFault, Src: []string{string(StateIdle), string(StateRunning), string(StateBlocked)}, Dst: string(StateFaulted)},
			{Name: EventReset, Src: []string{string(StateFaulted)}, Dst: string(StateIdle)},
			{Name: EventBlock, Src: []string{string(StateIdle)}, Dst: string(StateBlocked)},
			{Name: EventUnblock, Src: []string{string(StateBlocked)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{},
	)
	return u, nil
}

func (u *Unit) ID() string                   { return u.id }
func (u *Unit) Kind() Kind                   { return u.kind }
func (u *Unit) CycleDuration() time.Duration { return u.cycleDuration }
func (u *Unit) Capacity() int                { return u.capacity }
func (u *Unit) State() State                 { return State(u.machine.Current()) }
func (u *Unit) OrderID() string              { return u.orderID }
func (u *Unit) Produced() int                { return u.produced }
func (u *Unit) Cycles() int                  { return u.cycles }

// Ledger is the warehouse inventory; nil for machines.
func (u *Unit) Ledger() *inventory.Ledger { return u.ledger }

// Assign starts a cycle for orderID. It fails with ErrNotIdle, leaving the
// unit untouched, when the unit is not idle.
func (u *Unit) Assign(orderID string) error {
	if s := u.State(); s != StateIdle {
		return fmt.Errorf("unit %s assign %s (state %s): %w", u.id, orderID, s, ErrNotIdle)
	}
	if err := u.fire(EventAssign, fmt.Sprintf("assigned order %s", orderID)); err != nil {
		return err
	}
	u.orderID = orderID
	return nil
}

// CompleteCycle ends the running cycle. Success returns the unit to idle,
// failure faults it.
func (u *Unit) CompleteCycle(success bool, detail string) error {
	if s := u.State(); s != StateRunning {
		return fmt.Errorf("unit %s complete cycle (state %s): %w", u.id, s, ErrInvalidTransition)
	}
	orderID := u.orderID
	if success {
		if detail == "" {
			detail = fmt.Sprintf("cycle for order %s completed", orderID)
		}
		if err := u.fire(EventComplete, detail); err != nil {
			return err
		}
		u.cycles++
		if u.kind == KindMachine {
			u.produced += u.capacity
		}
	} else {
		if detail == "" {
			detail = fmt.Sprintf("cycle for order %s failed", orderID)
		}
		if err := u.fire(EventFail, detail); err != nil {
			return err
		}
	}
	u.orderID = ""
	return nil
}

// Fault forces the unit into the faulted state from idle, running or
// blocked. Any running order is detached and returned.
func (u *Unit) Fault(reason string) (orderID string, err error) {
	if reason == "" {
		reason = "faulted externally"
	}
	if err := u.fire(EventFault, reason); err != nil {
		return "", err
	}
	orderID, u.orderID = u.orderID, ""
	return orderID, nil
}

func (u *Unit) Reset() error {
	return u.fire(EventReset, "reset to idle")
}

// Block takes an idle unit out of first-fit selection.
func (u *Unit) Block(reason string) error {
	if reason == "" {
		reason = "blocked"
	}
	return u.fire(EventBlock, reason)
}

func (u *Unit) Unblock() error {
	return u.fire(EventUnblock, "unblocked")
}

func (u *Unit) Info() Info {
	info := Info{
		ID:            u.id,
		Kind:          u.kind,
		State:         u.State(),
		CycleDuration: u.cycleDuration,
		Capacity:      u.capacity,
		OrderID:       u.orderID,
		Cycles:        u.cycles,
		Produced:      u.produced,
		Detail:        u.detail,
	}
	if u.ledger != nil {
		info.StoredTotal = u.ledger.Total()
	}
	return info
}

func (u *Unit) fire(event, detail string) error {
	from := u.State()
	if err := u.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("unit %s %s from %s: %w (%v)", u.id, event, from, ErrInvalidTransition, err)
	}
	u.detail = detail
	u.emitter.EmitUnitTransition(u.id, u.kind, event, from, u.State(), detail)
	return nil
}
