package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCommand("start", "", 5*time.Millisecond)
	m.ObserveCommand("start", "InvalidState", time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("start", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("start", "InvalidState")))

	release := m.StepStarted("CC_Charge")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSteps.WithLabelValues("CC_Charge")))
	release()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSteps.WithLabelValues("CC_Charge")))

	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Positive(t, n)
}
