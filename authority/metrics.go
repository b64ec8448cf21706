package authority

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/lotstream/metric"
)

// Metrics holds Prometheus metrics for the Authority.
type Metrics struct {
	occupancy             prometheus.Gauge
	permitsGranted        *prometheus.CounterVec
	permitsDenied         *prometheus.CounterVec
	sessionsCompleted     prometheus.Counter
	revenue               prometheus.Counter
	duplicatesDropped     prometheus.Counter
	duplicateConfirmation *prometheus.CounterVec
}

// newMetrics creates and registers Authority metrics. A nil registry
// yields nil metrics (nil input = nil feature).
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		occupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lotstream",
			Subsystem: "authority",
			Name:      "occupancy",
			Help:      "Vehicles currently admitted to the lot",
		}),
		permitsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotstream",
			Subsystem: "authority",
			Name:      "permits_granted_total",
			Help:      "Permission requests granted, by direction",
		}, []string{"direction"}),
		permitsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotstream",
			Subsystem: "authority",
			Name:      "permits_denied_total",
			Help:      "Permission requests denied, by direction and reason",
		}, []string{"direction", "reason"}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotstream",
			Subsystem: "authority",
			Name:      "sessions_completed_total",
			Help:      "Completed entry-to-exit sessions",
		}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotstream",
			Subsystem: "authority",
			Name:      "revenue_total",
			Help:      "Cumulative charges across completed sessions",
		}),
		duplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotstream",
			Subsystem: "authority",
			Name:      "duplicate_messages_dropped_total",
			Help:      "Redelivered (topic, payload) pairs suppressed by the dedup cache",
		}),
		duplicateConfirmation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotstream",
			Subsystem: "authority",
			Name:      "duplicate_confirmations_total",
			Help:      "Out-of-order or duplicate confirmations rejected, by direction",
		}, []string{"direction"}),
	}

	reg := registry.PrometheusRegistry()
	reg.MustRegister(
		m.occupancy,
		m.permitsGranted,
		m.permitsDenied,
		m.sessionsCompleted,
		m.revenue,
		m.duplicatesDropped,
		m.duplicateConfirmation,
	)

	return m
}

func (m *Metrics) setOccupancy(n int) {
	if m == nil {
		return
	}
	m.occupancy.Set(float64(n))
}

func (m *Metrics) grant(direction string) {
	if m == nil {
		return
	}
	m.permitsGranted.WithLabelValues(direction).Inc()
}

func (m *Metrics) denial(direction, reason string) {
	if m == nil {
		return
	}
	m.permitsDenied.WithLabelValues(direction, reason).Inc()
}

func (m *Metrics) sessionCompleted(charge float64) {
	if m == nil {
		return
	}
	m.sessionsCompleted.Inc()
	m.revenue.Add(charge)
}

func (m *Metrics) duplicateDropped() {
	if m == nil {
		return
	}
	m.duplicatesDropped.Inc()
}

func (m *Metrics) confirmationRejected(direction string) {
	if m == nil {
		return
	}
	m.duplicateConfirmation.WithLabelValues(direction).Inc()
}
