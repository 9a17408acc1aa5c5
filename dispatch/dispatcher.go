package dispatch

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"floorcore/inventory"
	"floorcore/resource"
	"floorcore/scheduler"
)

const DefaultMaxAttempts = 3

var (
	ErrNoCapacity       = errors.New("no idle unit of requested kind")
	ErrUnknownUnit      = errors.New("unknown unit")
	ErrUnknownOrder     = errors.New("unknown order")
	ErrDuplicateUnit    = errors.New("unit already registered")
	ErrOrderNotPending  = errors.New("order is not pending")
	ErrOrderNotTerminal = errors.New("order is not completed, failed or cancelled")
	ErrInvalidPayload   = errors.New("invalid order payload")
	ErrNotWarehouse     = errors.New("unit is not a warehouse")
	ErrIntakeClosed     = errors.New("order intake closed")
)

// CycleFunc decides the outcome of a machine cycle. A non-nil error faults
// the unit and requeues the order.
type CycleFunc func(unit *resource.Unit, order *Order) error

type Option func(*Dispatcher)

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithMachineCycle(fn CycleFunc) Option {
	return func(d *Dispatcher) { d.machineCycle = fn }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// Dispatcher matches pending orders to idle units first-fit in registration
// order and drives their cycles through the scheduler.
//
// Everything except SubmitOrder must be called from the single scheduling
// goroutine. Event handlers run synchronously inside these calls and must
// not call back into the Dispatcher or a unit's ledger.
type Dispatcher struct {
	sched   *scheduler.Scheduler
	emitter Emitter
	log     *zap.SugaredLogger
	intake  *Intake

	units     []*resource.Unit
	unitsByID map[string]*resource.Unit

	orders   map[string]*Order
	orderIDs []string
	pending  []*Order

	maxAttempts  int
	machineCycle CycleFunc
}

func NewDispatcher(sched *scheduler.Scheduler, emitter Emitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sched:       sched,
		emitter:     emitter,
		log:         zap.NewNop().Sugar(),
		intake:      NewIntake(),
		unitsByID:   make(map[string]*resource.Unit),
		orders:      make(map[string]*Order),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Intake() *Intake { return d.intake }

// SubmitOrder validates and enqueues an order. It is safe to call from any
// goroutine and has no effect on dispatcher state until the next Tick.
func (d *Dispatcher) SubmitOrder(o Order) (string, error) {
	if _, err := resource.ParseKind(string(o.Kind)); err != nil {
		return "", fmt.Errorf("submit order %s: %w", o.ID, err)
	}
	if o.Payload.Material != "" && o.Payload.Quantity <= 0 {
		return "", fmt.Errorf("submit order %s: quantity %d for %s: %w", o.ID, o.Payload.Quantity, o.Payload.Material, ErrInvalidPayload)
	}
	if o.Payload.Material == "" && o.Payload.Quantity != 0 {
		return "", fmt.Errorf("submit order %s: quantity without material: %w", o.ID, ErrInvalidPayload)
	}
	switch o.Payload.Op {
	case "", OpReceive:
	case OpWithdraw:
		if o.Payload.Material == "" {
			return "", fmt.Errorf("submit order %s: withdraw without material: %w", o.ID, ErrInvalidPayload)
		}
	default:
		return "", fmt.Errorf("submit order %s: unknown op %q: %w", o.ID, o.Payload.Op, ErrInvalidPayload)
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.Status = StatusPending
	o.UnitID = ""
	o.Attempts = 0
	if !d.intake.Enqueue(o) {
		return "", ErrIntakeClosed
	}
	return o.ID, nil
}

// Register creates a unit and appends it to the registry. Registration order
// is the first-fit tie-break.
func (d *Dispatcher) Register(spec resource.Spec) (*resource.Unit, error) {
	if _, ok := d.unitsByID[spec.ID]; ok {
		return nil, fmt.Errorf("register %s: %w", spec.ID, ErrDuplicateUnit)
	}
	u, err := resource.New(spec, d.emitter)
	if err != nil {
		return nil, err
	}
	d.units = append(d.units, u)
	d.unitsByID[u.ID()] = u
	d.emitter.EmitUnitRegistered(u.ID(), u.Kind(), u.Capacity())
	d.log.Infof("dispatch: registered %s %s (capacity %d, cycle %s)", u.Kind(), u.ID(), u.Capacity(), u.CycleDuration())
	return u, nil
}

// Deregister removes an idle unit.
func (d *Dispatcher) Deregister(unitID string) error {
	u, err := d.unit(unitID)
	if err != nil {
		return err
	}
	if s := u.State(); s != resource.StateIdle {
		return fmt.Errorf("deregister %s (state %s): %w", unitID, s, resource.ErrNotIdle)
	}
	d.units = slices.DeleteFunc(d.units, func(x *resource.Unit) bool { return x == u })
	delete(d.unitsByID, unitID)
	d.emitter.EmitUnitDeregistered(unitID)
	d.log.Infof("dispatch: deregistered %s", unitID)
	return nil
}

// Tick drains the intake and assigns every pending order it can. Orders
// without an idle unit stay pending and publish one no_capacity event each.
func (d *Dispatcher) Tick() (assigned int) {
	d.drainIntake()
	if len(d.pending) == 0 {
		return 0
	}

	waiting := make([]*Order, 0, len(d.pending))
	for _, o := range d.pending {
		u, err := d.selectUnit(o.Kind)
		if err != nil {
			d.emitter.EmitNoCapacity(o.ID, o.Kind, err.Error())
			waiting = append(waiting, o)
			continue
		}
		if err := d.assign(u, o); err != nil {
			d.log.Warnf("dispatch: assign order %s to %s: %v", o.ID, u.ID(), err)
			waiting = append(waiting, o)
			continue
		}
		assigned++
	}
	d.pending = waiting
	return assigned
}

func (d *Dispatcher) drainIntake() {
	for _, o := range d.intake.Drain() {
		if _, exists := d.orders[o.ID]; exists {
			d.emitter.EmitOrderRejected(o.ID, "duplicate order id")
			d.log.Warnf("dispatch: rejected duplicate order %s", o.ID)
			continue
		}
		order := o
		order.SubmittedAt = d.sched.Now()
		order.UpdatedAt = order.SubmittedAt
		d.orders[order.ID] = &order
		d.orderIDs = append(d.orderIDs, order.ID)
		d.pending = append(d.pending, &order)
		d.emitter.EmitOrderSubmitted(order.ID, order.Kind)
	}
}

func (d *Dispatcher) selectUnit(kind resource.Kind) (*resource.Unit, error) {
	for _, u := range d.units {
		if u.Kind() == kind && u.State() == resource.StateIdle {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", kind, ErrNoCapacity)
}

func (d *Dispatcher) assign(u *resource.Unit, o *Order) error {
	if err := u.Assign(o.ID); err != nil {
		return err
	}
	o.Status = StatusAssigned
	o.UnitID = u.ID()
	o.Attempts++
	o.UpdatedAt = d.sched.Now()
	o.Detail = ""
	d.emitter.EmitOrderAssigned(o.ID, u.ID(), o.Attempts)

	d.sched.Schedule(u.ID(), u.CycleDuration(), func(time.Time) {
		d.finishCycle(u, o)
	})
	return nil
}

func (d *Dispatcher) finishCycle(u *resource.Unit, o *Order) {
	detail, workErr := d.runCycle(u, o)
	if workErr != nil {
		// A rejected ledger change leaves the ledger untouched, so only the
		// order is retried and the warehouse stays available.
		ok := rejected(workErr)
		if err := u.CompleteCycle(ok, workErr.Error()); err != nil {
			d.log.Errorf("dispatch: end cycle on %s: %v", u.ID(), err)
		}
		d.requeueOrFail(o, u.ID(), workErr)
		return
	}

	if err := u.CompleteCycle(true, detail); err != nil {
		d.log.Errorf("dispatch: complete cycle on %s: %v", u.ID(), err)
		return
	}
	if u.Kind() == resource.KindMachine {
		d.emitter.EmitProductionCompleted(u.ID(), u.Capacity(), u.Produced())
	}
	o.Status = StatusCompleted
	o.Detail = detail
	o.UpdatedAt = d.sched.Now()
	d.emitter.EmitOrderCompleted(o.ID, u.ID(), detail)
}

// runCycle performs the unit's work for one cycle.
func (d *Dispatcher) runCycle(u *resource.Unit, o *Order) (string, error) {
	switch u.Kind() {
	case resource.KindWarehouse:
		ledger := u.Ledger()
		if o.Payload.Material == "" {
			entries := ledger.Snapshot()
			for _, e := range entries {
				d.emitter.EmitInventoryReport(u.ID(), e.Material, e.Quantity)
			}
			return fmt.Sprintf("inventory checked: %d materials, %d/%d stored", len(entries), ledger.Total(), ledger.CapacityMax()), nil
		}
		if o.Payload.Op == OpWithdraw {
			if err := ledger.Withdraw(o.Payload.Material, o.Payload.Quantity); err != nil {
				d.emitter.EmitMaterialRejected(u.ID(), o.Payload.Material, o.Payload.Quantity, err.Error())
				return "", err
			}
			d.emitter.EmitMaterialWithdrawn(u.ID(), o.Payload.Material, o.Payload.Quantity, ledger.Total())
			return fmt.Sprintf("withdrew %d %s", o.Payload.Quantity, o.Payload.Material), nil
		}
		if err := ledger.Receive(o.Payload.Material, o.Payload.Quantity); err != nil {
			d.emitter.EmitMaterialRejected(u.ID(), o.Payload.Material, o.Payload.Quantity, err.Error())
			return "", err
		}
		d.emitter.EmitMaterialReceived(u.ID(), o.Payload.Material, o.Payload.Quantity, ledger.Total())
		return fmt.Sprintf("received %d %s", o.Payload.Quantity, o.Payload.Material), nil
	default:
		if d.machineCycle != nil {
			if err := d.machineCycle(u, o); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("produced %d", u.Capacity()), nil
	}
}

func (d *Dispatcher) requeueOrFail(o *Order, unitID string, cause error) {
	o.UnitID = ""
	o.Detail = cause.Error()
	o.UpdatedAt = d.sched.Now()
	if o.Attempts >= d.maxAttempts {
		o.Status = StatusFailed
		d.emitter.EmitOrderFailed(o.ID, unitID, errorCode(cause), cause.Error())
		d.log.Warnf("dispatch: order %s failed after %d attempts: %v", o.ID, o.Attempts, cause)
		return
	}
	o.Status = StatusPending
	d.pending = append(d.pending, o)
	d.emitter.EmitOrderRequeued(o.ID, unitID, cause.Error(), o.Attempts)
}

// FaultUnit faults a unit from outside its cycle. A pending cycle completion
// is cancelled without firing and its order is requeued.
func (d *Dispatcher) FaultUnit(unitID, reason string) error {
	u, err := d.unit(unitID)
	if err != nil {
		return err
	}
	orderID, err := u.Fault(reason)
	if err != nil {
		return err
	}
	if d.sched.CancelSource(unitID) > 0 {
		d.emitter.EmitCycleCancelled(unitID, orderID)
	}
	if o, ok := d.orders[orderID]; ok && o.Status == StatusAssigned {
		if reason == "" {
			reason = "faulted externally"
		}
		d.requeueOrFail(o, unitID, fmt.Errorf("unit %s faulted: %s", unitID, reason))
	}
	return nil
}

func (d *Dispatcher) ResetUnit(unitID string) error {
	u, err := d.unit(unitID)
	if err != nil {
		return err
	}
	return u.Reset()
}

func (d *Dispatcher) BlockUnit(unitID, reason string) error {
	u, err := d.unit(unitID)
	if err != nil {
		return err
	}
	return u.Block(reason)
}

func (d *Dispatcher) UnblockUnit(unitID string) error {
	u, err := d.unit(unitID)
	if err != nil {
		return err
	}
	return u.Unblock()
}

// CancelOrder cancels a pending order, including one still in the intake.
func (d *Dispatcher) CancelOrder(orderID, reason string) error {
	d.drainIntake()
	o, ok := d.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, ErrUnknownOrder)
	}
	if o.Status != StatusPending {
		return fmt.Errorf("cancel %s (status %s): %w", orderID, o.Status, ErrOrderNotPending)
	}
	d.pending = slices.DeleteFunc(d.pending, func(x *Order) bool { return x == o })
	o.Status = StatusCancelled
	o.Detail = reason
	o.UpdatedAt = d.sched.Now()
	d.emitter.EmitOrderCancelled(orderID, reason)
	return nil
}

// Release forgets a terminal order once its outcome has been observed.
func (d *Dispatcher) Release(orderID string) error {
	o, ok := d.orders[orderID]
	if !ok {
		return fmt.Errorf("release %s: %w", orderID, ErrUnknownOrder)
	}
	if !o.Terminal() {
		return fmt.Errorf("release %s (status %s): %w", orderID, o.Status, ErrOrderNotTerminal)
	}
	delete(d.orders, orderID)
	d.orderIDs = slices.DeleteFunc(d.orderIDs, func(id string) bool { return id == orderID })
	return nil
}

// Order returns a copy of a retained order.
func (d *Dispatcher) Order(orderID string) (Order, error) {
	o, ok := d.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", orderID, ErrUnknownOrder)
	}
	return *o, nil
}

// Orders returns copies of all retained orders in submission order.
func (d *Dispatcher) Orders() []Order {
	out := make([]Order, 0, len(d.orderIDs))
	for _, id := range d.orderIDs {
		out = append(out, *d.orders[id])
	}
	return out
}

func (d *Dispatcher) PendingCount() int { return len(d.pending) }

// Units returns unit snapshots in registration order.
func (d *Dispatcher) Units() []resource.Info {
	out := make([]resource.Info, len(d.units))
	for i, u := range d.units {
		out[i] = u.Info()
	}
	return out
}

func (d *Dispatcher) Unit(unitID string) (resource.Info, error) {
	u, err := d.unit(unitID)
	if err != nil {
		return resource.Info{}, err
	}
	return u.Info(), nil
}

// Inventory returns the ledger snapshot of a warehouse.
func (d *Dispatcher) Inventory(unitID string) ([]inventory.Entry, error) {
	u, err := d.unit(unitID)
	if err != nil {
		return nil, err
	}
	if u.Ledger() == nil {
		return nil, fmt.Errorf("inventory %s: %w", unitID, ErrNotWarehouse)
	}
	return u.Ledger().Snapshot(), nil
}

func (d *Dispatcher) unit(unitID string) (*resource.Unit, error) {
	u, ok := d.unitsByID[unitID]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", unitID, ErrUnknownUnit)
	}
	return u, nil
}

// rejected reports ledger errors that leave the ledger unchanged.
func rejected(err error) bool {
	return errors.Is(err, inventory.ErrCapacityExceeded) || errors.Is(err, inventory.ErrInsufficientStock)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, inventory.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, inventory.ErrInvalidMaterial):
		return "invalid_payload"
	default:
		return "cycle_failed"
	}
}
