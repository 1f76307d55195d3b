package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_CountersStartAtZero(t *testing.T) {
	m := New()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.PacketsReceived))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SendFailures))
}

func TestCounters_Increment(t *testing.T) {
	m := New()
	m.PacketsReceived.Inc()
	m.PacketsReceived.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PacketsReceived))
}

func TestGauges_SetReflectsLatestValue(t *testing.T) {
	m := New()
	m.ActiveSessions.Set(5)
	m.ActiveSessions.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveSessions))
}

func TestObserveFanoutLatency_RecordsWithoutPanic(t *testing.T) {
	m := New()
	start := time.Now().Add(-2 * time.Millisecond)
	assert.NotPanics(t, func() { m.ObserveFanoutLatency(start) })
}

func TestNew_InstancesAreIndependentlyRegistered(t *testing.T) {
	assert.NotPanics(t, func() {
		a := New()
		b := New()
		a.PacketsReceived.Inc()
		assert.Equal(t, float64(1), testutil.ToFloat64(a.PacketsReceived))
		assert.Equal(t, float64(0), testutil.ToFloat64(b.PacketsReceived))
		assert.NotSame(t, a.Registry, b.Registry)
	})
}
