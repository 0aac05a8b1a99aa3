package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcherFlushAppliesQueuedDeltas(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter"}, []string{"type"})
	reg.MustRegister(counter)

	b := NewBatcher(10 * time.Millisecond)
	b.IncCounter(counter, 3, "absorption")
	b.IncCounter(counter, 2, "absorption")
	b.Flush()

	got := testutil.ToFloat64(counter.WithLabelValues("absorption"))
	assert.Equal(t, 5.0, got)
}

func TestNewRegistryRegistersAllVectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	require.NotNil(t, r.SignalsReceived)
	r.SignalsReceived.WithLabelValues("absorption").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SignalsReceived.WithLabelValues("absorption")))
}
