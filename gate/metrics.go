package gate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/lotstream/metric"
)

// Metrics holds Prometheus metrics for a gate controller.
type Metrics struct {
	cycles            *prometheus.CounterVec
	gateOpen          prometheus.Gauge
	authorizeDuration prometheus.Histogram
}

// newMetrics creates and registers gate metrics. A nil registry yields
// nil metrics (nil input = nil feature).
func newMetrics(registry *metric.Registry, role string) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "lotstream",
			Subsystem:   "gate",
			Name:        "cycles_total",
			Help:        "Vehicle cycles by outcome",
			ConstLabels: prometheus.Labels{"role": role},
		}, []string{"result"}),
		gateOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "lotstream",
			Subsystem:   "gate",
			Name:        "open",
			Help:        "Whether the gate arm is currently raised",
			ConstLabels: prometheus.Labels{"role": role},
		}),
		authorizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "lotstream",
			Subsystem:   "gate",
			Name:        "authorize_duration_seconds",
			Help:        "Round-trip time of permission requests",
			ConstLabels: prometheus.Labels{"role": role},
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 11),
		}),
	}

	registry.PrometheusRegistry().MustRegister(m.cycles, m.gateOpen, m.authorizeDuration)
	return m
}

func (m *Metrics) cycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) setGateOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.gateOpen.Set(1)
	} else {
		m.gateOpen.Set(0)
	}
}

func (m *Metrics) observeAuthorize(d time.Duration) {
	if m == nil {
		return
	}
	m.authorizeDuration.Observe(d.Seconds())
}
