package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"floorcore/resource"
)

const namespace = "floorcore"

var unitStates = []resource.State{resource.StateIdle, resource.StateRunning, resource.StateBlocked, resource.StateFaulted}

// Metrics is an event subscriber that feeds prometheus collectors.
type Metrics struct {
	events        *prometheus.CounterVec
	handlerErrors prometheus.Counter
	pendingOrders prometheus.Gauge
	unitState     *prometheus.GaugeVec
	produced      *prometheus.GaugeVec
	storedTotal   *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published on the bus, by kind",
		}, []string{"kind"}),
		handlerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_errors_total",
			Help:      "Subscriber failures isolated by the bus",
		}),
		pendingOrders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_orders",
			Help:      "Orders waiting for an idle unit",
		}),
		unitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_state",
			Help:      "1 for the current state of each unit",
		}, []string{"unit", "state"}),
		produced: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "machine_produced",
			Help:      "Quantity produced by each machine since registration",
		}, []string{"unit"}),
		storedTotal: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "warehouse_stored_total",
			Help:      "Total quantity held by each warehouse",
		}, []string{"unit"}),
	}
}

func (m *Metrics) Handle(evt Event) error {
	m.events.WithLabelValues(string(evt.Kind)).Inc()
	return nil
}

func (m *Metrics) HandlerError() { m.handlerErrors.Inc() }

func (m *Metrics) SetPending(n int) { m.pendingOrders.Set(float64(n)) }

// ObserveUnit refreshes the per-unit gauges from a snapshot.
func (m *Metrics) ObserveUnit(info resource.Info) {
	for _, s := range unitStates {
		v := 0.0
		if s == info.State {
			v = 1
		}
		m.unitState.WithLabelValues(info.ID, string(s)).Set(v)
	}
	switch info.Kind {
	case resource.KindWarehouse:
		m.storedTotal.WithLabelValues(info.ID).Set(float64(info.StoredTotal))
	case resource.KindMachine:
		m.produced.WithLabelValues(info.ID).Set(float64(info.Produced))
	}
}

func (m *Metrics) ForgetUnit(unitID string) {
	for _, s := range unitStates {
		m.unitState.DeleteLabelValues(unitID, string(s))
	}
	m.storedTotal.DeleteLabelValues(unitID)
	m.produced.DeleteLabelValues(unitID)
}
