package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lotstream",
		Subsystem: "test",
		Name:      "events_total",
		Help:      "test counter",
	})

	require.NoError(t, r.RegisterCounter("authority", "events", counter))

	// Duplicate key rejected
	err := r.RegisterCounter("authority", "events", counter)
	assert.Error(t, err)

	assert.True(t, r.Unregister("authority", "events"))
	assert.False(t, r.Unregister("authority", "events"))

	// Re-registration works after unregister
	require.NoError(t, r.RegisterCounter("authority", "events", counter))
}

func TestRegistry_RegisterGaugeAndHistogram(t *testing.T) {
	r := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lotstream",
		Subsystem: "test",
		Name:      "occupancy",
		Help:      "test gauge",
	})
	require.NoError(t, r.RegisterGauge("authority", "occupancy", gauge))

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lotstream",
		Subsystem: "test",
		Name:      "cycle_seconds",
		Help:      "test histogram",
	})
	require.NoError(t, r.RegisterHistogram("gate", "cycle_seconds", hist))

	gauge.Set(3)
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "lotstream_test_occupancy" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, float64(3), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "registered gauge should be gatherable")
}
