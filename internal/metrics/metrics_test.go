package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, prometheus.Labels{"device": "test"})

	m.Cycle("applied")
	m.Cycle("applied")
	m.Cycle("deferred")
	m.Run("success", 2*time.Second, 7)
	m.Pending(3)
	m.Profile(4, []string{"EMPATHY", "HUMOR"}, []float64{0.5, 0.75})
	m.ObserveStore("append_log", time.Now())
	m.SchedulerSkip("preconditions")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("deferred")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.logsConsumed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pendingLogs))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.profileVersion))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.armExpectation.WithLabelValues("HUMOR")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			found := false
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "device" && lp.GetValue() == "test" {
					found = true
				}
			}
			assert.True(t, found, "metric %s missing const label", mf.GetName())
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Cycle("applied")
	m.Reward(0.5)
	m.Run("retry", time.Second, 0)
	m.Pending(1)
	m.Profile(1, nil, nil)
	m.ObserveStore("x", time.Now())
	m.SchedulerSkip("busy")
}
