package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	// Registering a second set on the same registry collides.
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestEventsDispatchedAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// Fed with deltas from the bus total, the counter only ever goes up.
	m.EventsDispatched.Add(3)
	m.EventsDispatched.Add(2)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.EventsDispatched))
}
