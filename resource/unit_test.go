package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	unitID string
	event  string
	from   State
	to     State
	detail string
}

type recordingEmitter struct {
	transitions []transition
}

func (r *recordingEmitter) EmitUnitTransition(unitID string, kind Kind, event string, from, to State, detail string) {
	r.transitions = append(r.transitions, transition{unitID: unitID, event: event, from: from, to: to, detail: detail})
}

func newMachine(t *testing.T, em Emitter) *Unit {
	t.Helper()
	u, err := New(Spec{ID: "m1", Kind: KindMachine, Capacity: 100}, em)
	require.NoError(t, err)
	return u
}

func TestNewAppliesDefaults(t *testing.T) {
	m := newMachine(t, nil)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, DefaultMachineCycle, m.CycleDuration())
	assert.Nil(t, m.Ledger())

	w, err := New(Spec{ID: "w1", Kind: KindWarehouse, Capacity: 1000}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWarehouseCycle, w.CycleDuration())
	require.NotNil(t, w.Ledger())
	assert.Equal(t, 1000, w.Ledger().CapacityMax())

	c, err := New(Spec{ID: "m2", Kind: KindMachine, CycleDuration: 5 * time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.CycleDuration())
}

func TestNewValidates(t *testing.T) {
	_, err := New(Spec{Kind: KindMachine}, nil)
	assert.Error(t, err)

	_, err = New(Spec{ID: "x", Kind: "robot"}, nil)
	assert.Error(t, err)

	_, err = New(Spec{ID: "x", Kind: KindMachine, Capacity: -1}, nil)
	assert.Error(t, err)
}

func TestSuccessfulCycle(t *testing.T) {
	em := &recordingEmitter{}
	m := newMachine(t, em)

	require.NoError(t, m.Assign("o-1"))
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, "o-1", m.OrderID())

	require.NoError(t, m.CompleteCycle(true, ""))
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.OrderID())
	assert.Equal(t, 1, m.Cycles())
	assert.Equal(t, 100, m.Produced())

	require.Len(t, em.transitions, 2)
	assert.Equal(t, transition{"m1", EventAssign, StateIdle, StateRunning, "assigned order o-1"}, em.transitions[0])
	assert.Equal(t, EventComplete, em.transitions[1].event)
	assert.Equal(t, StateIdle, em.transitions[1].to)
}

func TestFailedCycleFaultsThenResets(t *testing.T) {
	em := &recordingEmitter{}
	m := newMachine(t, em)

	require.NoError(t, m.Assign("o-1"))
	require.NoError(t, m.CompleteCycle(false, "spindle jammed"))
	assert.Equal(t, StateFaulted, m.State())
	assert.Equal(t, 0, m.Produced())

	assert.ErrorIs(t, m.Assign("o-2"), ErrNotIdle)

	require.NoError(t, m.Reset())
	assert.Equal(t, StateIdle, m.State())
	assert.Len(t, em.transitions, 3)
	assert.Equal(t, "spindle jammed", em.transitions[1].detail)
}

func TestAssignOnNonIdleLeavesStateUnchanged(t *testing.T) {
	for _, setup := range []struct {
		name  string
		state State
		prep  func(u *Unit) error
	}{
		{"running", StateRunning, func(u *Unit) error { return u.Assign("first") }},
		{"faulted", StateFaulted, func(u *Unit) error { _, err := u.Fault("broken"); return err }},
		{"blocked", StateBlocked, func(u *Unit) error { return u.Block("maintenance") }},
	} {
		t.Run(setup.name, func(t *testing.T) {
			em := &recordingEmitter{}
			u := newMachine(t, em)
			require.NoError(t, setup.prep(u))
			emitted := len(em.transitions)
			order := u.OrderID()

			for i := 0; i < 3; i++ {
				err := u.Assign("second")
				require.ErrorIs(t, err, ErrNotIdle)
				assert.Equal(t, setup.state, u.State())
				assert.Equal(t, order, u.OrderID())
			}
			assert.Len(t, em.transitions, emitted, "failed assign must not emit")
		})
	}
}

func TestCompleteCycleRequiresRunning(t *testing.T) {
	em := &recordingEmitter{}
	m := newMachine(t, em)

	assert.ErrorIs(t, m.CompleteCycle(true, ""), ErrInvalidTransition)
	assert.ErrorIs(t, m.CompleteCycle(false, ""), ErrInvalidTransition)
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, em.transitions)
}

func TestResetRequiresFaulted(t *testing.T) {
	m := newMachine(t, nil)
	assert.ErrorIs(t, m.Reset(), ErrInvalidTransition)
}

func TestFaultDetachesRunningOrder(t *testing.T) {
	m := newMachine(t, nil)
	require.NoError(t, m.Assign("o-9"))

	orderID, err := m.Fault("")
	require.NoError(t, err)
	assert.Equal(t, "o-9", orderID)
	assert.Equal(t, StateFaulted, m.State())
	assert.Empty(t, m.OrderID())

	_, err = m.Fault("again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBlockAndUnblock(t *testing.T) {
	m := newMachine(t, nil)
	require.NoError(t, m.Block("tooling change"))
	assert.Equal(t, StateBlocked, m.State())
	assert.Equal(t, "tooling change", m.Info().Detail)

	assert.ErrorIs(t, m.Block("again"), ErrInvalidTransition)
	require.NoError(t, m.Unblock())
	assert.Equal(t, StateIdle, m.State())
}

func TestWarehouseInfoReportsStoredTotal(t *testing.T) {
	w, err := New(Spec{ID: "w1", Kind: KindWarehouse, Capacity: 1000}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Ledger().Receive("steel", 250))

	info := w.Info()
	assert.Equal(t, 250, info.StoredTotal)
	assert.Equal(t, KindWarehouse, info.Kind)

	require.NoError(t, w.Assign("o-1"))
	require.NoError(t, w.CompleteCycle(true, ""))
	assert.Equal(t, 0, w.Produced(), "warehouses do not produce")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("warehouse")
	require.NoError(t, err)
	assert.Equal(t, KindWarehouse, k)

	_, err = ParseKind("Machine")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
