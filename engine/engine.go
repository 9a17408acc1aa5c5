package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"floorcore/config"
	"floorcore/dispatch"
	"floorcore/inventory"
	"floorcore/messaging"
	"floorcore/nodestate"
	"floorcore/resource"
	"floorcore/scheduler"
	"floorcore/store"
)

var (
	ErrStopped        = errors.New("engine stopped")
	ErrAlreadyRunning = errors.New("engine already running")
)

type Config struct {
	AppConfig  *config.Config
	DB         *store.DB
	NodeState  *nodestate.Manager
	MsgClient  *messaging.Client
	Clock      clock.Clock
	Logger     *zap.SugaredLogger
	Registerer prometheus.Registerer
	// MachineCycle decides machine cycle outcomes; nil means every cycle succeeds.
	MachineCycle dispatch.CycleFunc
}

// Engine owns the scheduling goroutine. Everything that touches units,
// ledgers or the dispatcher runs inside Run, Step or a Do closure.
type Engine struct {
	cfg        *config.Config
	db         *store.DB
	nodeState  *nodestate.Manager
	msgClient  *messaging.Client
	clock      clock.Clock
	sched      *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	Events     *EventBus
	metrics    *Metrics
	journal    *journal
	dirty      *dirtyUnits
	log        *zap.SugaredLogger

	calls   chan func()
	stopped chan struct{}
	running atomic.Bool
}

func New(c Config) (*Engine, error) {
	cfg := c.AppConfig
	if cfg == nil {
		cfg = config.Defaults()
	}
	mode, err := scheduler.ParseMode(cfg.Scheduler.Mode)
	if err != nil {
		return nil, err
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := c.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	reg := c.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	sched := scheduler.New(clk, mode)
	e := &Engine{
		cfg:       cfg,
		db:        c.DB,
		nodeState: c.NodeState,
		msgClient: c.MsgClient,
		clock:     clk,
		sched:     sched,
		Events:    NewEventBus(sched.Now, log.Named("eventbus")),
		metrics:   NewMetrics(reg),
		dirty:     newDirtyUnits(),
		log:       log,
		calls:     make(chan func()),
		stopped:   make(chan struct{}),
	}
	e.Events.SetErrorReporter(func(h Handler, evt Event, err error) {
		e.metrics.HandlerError()
		e.log.Warnf("engine: subscriber %T failed on %s from %s: %v", h, evt.Kind, evt.SourceID, err)
	})
	if c.DB != nil {
		topic := ""
		if c.MsgClient != nil {
			topic = cfg.Messaging.EventsTopic
		}
		e.journal = newJournal(c.DB, log.Named("journal"), cfg.FactoryID, topic, cfg.Dispatch.JournalBuffer)
	}
	e.dispatcher = dispatch.NewDispatcher(sched, &dispatchEmitter{bus: e.Events},
		dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		dispatch.WithMachineCycle(c.MachineCycle),
		dispatch.WithLogger(log.Named("dispatch")),
	)

	e.wireEventHandlers()

	for _, u := range cfg.Units {
		kind, err := resource.ParseKind(u.Kind)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("unit %s: %w", u.ID, err)
		}
		if _, err := e.dispatcher.Register(resource.Spec{
			ID:            u.ID,
			Kind:          kind,
			CycleDuration: u.CycleDuration,
			Capacity:      u.Capacity,
		}); err != nil {
			e.Close()
			return nil, err
		}
	}
	e.flush()
	return e, nil
}

// Accessors
func (e *Engine) AppConfig() *config.Config        { return e.cfg }
func (e *Engine) DB() *store.DB                    { return e.db }
func (e *Engine) NodeState() *nodestate.Manager    { return e.nodeState }
func (e *Engine) MsgClient() *messaging.Client     { return e.msgClient }
func (e *Engine) Scheduler() *scheduler.Scheduler  { return e.sched }
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }
func (e *Engine) Running() bool                    { return e.running.Load() }

// Run drives the scheduling loop until ctx is cancelled. Each clock tick is a
// tick boundary; intake notifications and Do calls are handled in between.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.stopped)

	ticker := e.clock.Ticker(e.cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	e.log.Infof("engine: running (%s mode, %d units)", e.sched.Mode(), len(e.dispatcher.Units()))
	for {
		select {
		case <-ctx.Done():
			e.log.Infof("engine: stopped")
			return nil
		case <-ticker.C:
			e.Step(e.cfg.Scheduler.Step)
		case <-e.dispatcher.Intake().Notify():
			e.Step(0)
		case call := <-e.calls:
			call()
			e.flush()
		}
	}
}

// Step is one tick boundary: dispatch pending orders, then move logical time
// forward by d (discrete mode) or up to the wall clock (real-time mode).
// It returns the number of cycle completions fired. Call it only from the
// scheduling goroutine, or directly when Run is not in use.
func (e *Engine) Step(d time.Duration) int {
	e.dispatcher.Tick()
	fired := 0
	switch {
	case e.sched.Mode() == scheduler.ModeRealTime:
		fired = e.sched.Sync()
	case d > 0:
		fired = e.sched.Advance(d)
	}
	e.flush()
	return fired
}

// Do runs fn on the scheduling goroutine between ticks and returns its error.
func (e *Engine) Do(ctx context.Context, fn func(d *dispatch.Dispatcher) error) error {
	errc := make(chan error, 1)
	call := func() { errc <- fn(e.dispatcher) }
	select {
	case e.calls <- call:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitOrder is safe from any goroutine.
func (e *Engine) SubmitOrder(o dispatch.Order) (string, error) {
	return e.dispatcher.SubmitOrder(o)
}

func (e *Engine) CancelOrder(ctx context.Context, orderID, reason string) error {
	return e.Do(ctx, func(d *dispatch.Dispatcher) error { return d.CancelOrder(orderID, reason) })
}

func (e *Engine) ReleaseOrder(ctx context.Context, orderID string) error {
	return e.Do(ctx, func(d *dispatch.Dispatcher) error { return d.Release(orderID) })
}

func (e *Engine) Order(ctx context.Context, orderID string) (dispatch.Order, error) {
	var o dispatch.Order
	err := e.Do(ctx, func(d *dispatch.Dispatcher) (err error) {
		o, err = d.Order(orderID)
		return err
	})
	return o, err
}

func (e *Engine) Orders(ctx context.Context) ([]dispatch.Order, error) {
	var orders []dispatch.Order
	err := e.Do(ctx, func(d *dispatch.Dispatcher) error {
		orders = d.Orders()
		return nil
	})
	return orders, err
}

func (e *Engine) Units(ctx context.Context) ([]resource.Info, error) {
	var units []resource.Info
	err := e.Do(ctx, func(d *dispatch.Dispatcher) error {
		units = d.Units()
		return nil
	})
	return units, err
}

func (e *Engine) Unit(ctx context.Context, unitID string) (resource.Info, error) {
	var info resource.Info
	err := e.Do(ctx, func(d *dispatch.Dispatcher) (err error) {
		info, err = d.Unit(unitID)
		return err
	})
	return info, err
}

// Inventory returns the ledger snapshot of a warehouse.
func (e *Engine) Inventory(ctx context.Context, unitID string) ([]inventory.Entry, error) {
	var entries []inventory.Entry
	err := e.Do(ctx, func(d *dispatch.Dispatcher) (err error) {
		entries, err = d.Inventory(unitID)
		return err
	})
	return entries, err
}

// SchedulerStatus describes the scheduled cycle completions.
type SchedulerStatus struct {
	Now     time.Time  `json:"now"`
	Pending int        `json:"pending"`
	NextDue *time.Time `json:"next_due,omitempty"`
}

func (e *Engine) SchedulerStatus(ctx context.Context) (SchedulerStatus, error) {
	var st SchedulerStatus
	err := e.Do(ctx, func(*dispatch.Dispatcher) error {
		st.Now = e.sched.Now()
		st.Pending = e.sched.Pending()
		if due, ok := e.sched.NextDue(); ok {
			st.NextDue = &due
		}
		return nil
	})
	return st, err
}

func (e *Engine) FaultUnit(ctx context.Context, unitID, reason string) error {
	return e.Do(ctx, func(d *dispatch.Dispatcher) error { return d.FaultUnit(unitID, reason) })
}

func (e *Engine) ResetUnit(ctx context.Context, unitID string) error {
	return e.Do(ctx, func(d *dispatch.Dispatcher) error { return d.ResetUnit(unitID) })
}

func (e *Engine) BlockUnit(ctx context.Context, unitID, reason string) error {
	return e.Do(ctx, func(d *dispatch.Dispatcher) error { return d.BlockUnit(unitID, reason) })
}

func (e *Engine) UnblockUnit(ctx context.Context, unitID string) error {
	return e.Do(ctx, func(d *dispatch.Dispatcher) error { return d.UnblockUnit(unitID) })
}

// HandleOrderRequest implements messaging.OrderHandler.
func (e *Engine) HandleOrderRequest(_ context.Context, req messaging.OrderRequest) (string, error) {
	return e.SubmitOrder(dispatch.Order{
		ID:   req.OrderID,
		Kind: resource.Kind(req.Kind),
		Payload: dispatch.Payload{
			Op:       dispatch.Op(req.Payload.Op),
			Material: req.Payload.Material,
			Quantity: req.Payload.Quantity,
			Note:     req.Payload.Note,
		},
	})
}

func (e *Engine) HandleCancelRequest(ctx context.Context, req messaging.CancelRequest) error {
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by client"
	}
	return e.CancelOrder(ctx, req.OrderID, reason)
}

// Close stops intake and shuts down owned collaborators after Run has returned.
func (e *Engine) Close() error {
	e.dispatcher.Intake().Close()
	var err error
	if e.journal != nil {
		e.Events.Unsubscribe(e.journal)
		e.journal.close()
		if n := e.journal.dropped.Load(); n > 0 {
			e.log.Warnf("engine: journal dropped %d events", n)
		}
	}
	if e.nodeState != nil {
		e.nodeState.Stop()
	}
	if e.msgClient != nil {
		err = multierr.Append(err, e.msgClient.Close())
	}
	if e.db != nil {
		err = multierr.Append(err, e.db.Close())
	}
	return err
}
