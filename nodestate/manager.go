package nodestate

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Store is the mirror backend. RedisStore is the production implementation.
type Store interface {
	PutUnit(ctx context.Context, state *UnitState) error
	GetUnit(ctx context.Context, id string) (*UnitState, error)
	RemoveUnit(ctx context.Context, id string) error
	UnitIDs(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

type op struct {
	state  *UnitState
	remove string
}

// Manager mirrors unit state into the store from its own worker goroutine,
// so callers on the scheduling goroutine never wait on the network.
type Manager struct {
	store   Store
	log     *zap.SugaredLogger
	timeout time.Duration

	ops     chan op
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
	written atomic.Uint64
}

func NewManager(store Store, log *zap.SugaredLogger, buffer int) *Manager {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		store:   store,
		log:     log,
		timeout: 2 * time.Second,
		ops:     make(chan op, buffer),
	}
}

// Start clears stale state and launches the writer.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop drains queued writes and waits for the worker.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.ops) })
	m.wg.Wait()
}

// Update queues a snapshot. It never blocks; a full queue drops the write.
func (m *Manager) Update(state UnitState) bool {
	return m.enqueue(op{state: &state})
}

func (m *Manager) Remove(unitID string) bool {
	return m.enqueue(op{remove: unitID})
}

func (m *Manager) enqueue(o op) bool {
	select {
	case m.ops <- o:
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

func (m *Manager) Dropped() uint64 { return m.dropped.Load() }
func (m *Manager) Written() uint64 { return m.written.Load() }

func (m *Manager) run() {
	defer m.wg.Done()
	for o := range m.ops {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		var err error
		if o.state != nil {
			err = m.store.PutUnit(ctx, o.state)
			if err != nil {
				m.log.Warnf("nodestate: mirror unit %s: %v", o.state.UnitID, err)
			}
		} else {
			err = m.store.RemoveUnit(ctx, o.remove)
			if err != nil {
				m.log.Warnf("nodestate: remove unit %s: %v", o.remove, err)
			}
		}
		cancel()
		if err == nil {
			m.written.Add(1)
		}
	}
}

func (m *Manager) GetUnitState(ctx context.Context, id string) (*UnitState, error) {
	return m.store.GetUnit(ctx, id)
}

// GetAllUnitStates returns every mirrored unit sorted by id.
func (m *Manager) GetAllUnitStates(ctx context.Context) ([]*UnitState, error) {
	ids, err := m.store.UnitIDs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	states := make([]*UnitState, 0, len(ids))
	for _, id := range ids {
		s, err := m.store.GetUnit(ctx, id)
		if err != nil {
			return nil, err
		}
		if s != nil {
			states = append(states, s)
		}
	}
	return states, nil
}
