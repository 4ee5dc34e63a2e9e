package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryCoreMetrics(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.CoreMetrics())

	m := r.CoreMetrics()
	m.PointsAccepted.WithLabelValues("step_count").Add(3)
	m.PointsRejected.WithLabelValues("step_count", "schema_mismatch").Inc()
	m.DuplicatesSkipped.WithLabelValues("step_count").Inc()
	m.StreamsRegistered.Inc()
	m.NATSConnected.Set(1)

	assert.Equal(t, float64(3),
		testutil.ToFloat64(m.PointsAccepted.WithLabelValues("step_count")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.PointsRejected.WithLabelValues("step_count", "schema_mismatch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StreamsRegistered))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NATSConnected))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.CoreMetrics().StreamsRegistered.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.CoreMetrics().StreamsRegistered))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.CoreMetrics().StreamsRegistered))
}

func TestRegisterCollector(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custom_total",
		Help: "test counter",
	})
	require.NoError(t, r.RegisterCollector("ingest", "custom_total", counter))

	// Same key again is rejected
	err := r.RegisterCollector("ingest", "custom_total", counter)
	require.Error(t, err)

	assert.True(t, r.Unregister("ingest", "custom_total"))
	assert.False(t, r.Unregister("ingest", "custom_total"))
}
