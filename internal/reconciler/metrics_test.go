package reconciler

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	first.RecordStart("a")
	second.RecordStart("a")

	// Both instances feed the same collector.
	assert.Equal(t, float64(2), testutil.ToFloat64(first.reconcileStarted.WithLabelValues("a")))
}

func TestMetrics_Summary(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordEvent("b", "primary")
	m.RecordStart("b")
	m.RecordResult("b", time.Millisecond, nil)
	m.RecordStart("a")
	m.RecordResult("a", time.Millisecond, errors.New("failed"))
	m.RecordExhausted("a", "default/x")
	m.SetQueueDepth("a", 3)

	summary := m.Summary()
	require.Len(t, summary.PerDispatcher, 2)
	assert.Equal(t, "a", summary.PerDispatcher[0].Dispatcher)
	assert.Equal(t, int64(1), summary.PerDispatcher[0].RetriesExhausted)
	assert.False(t, summary.PerDispatcher[0].LastFailureAt.IsZero())
	assert.Equal(t, int64(1), summary.PerDispatcher[1].EventsReceived)
	assert.Equal(t, int64(2), summary.TotalReconcileAttempts)
	assert.Equal(t, int64(1), summary.TotalReconcileSuccesses)
	assert.InDelta(t, 0.5, summary.ReconcileFailureRate, 0.001)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.queueDepth.WithLabelValues("a")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.retriesExhausted.WithLabelValues("a")))
}

func TestMetrics_EmptySummary(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	summary := m.Summary()
	assert.Empty(t, summary.PerDispatcher)
	assert.Zero(t, summary.ReconcileFailureRate)
}
