package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAllCollectors(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
}

func TestRegisterTwiceFails(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}

func TestTimerObservesDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram"})
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(histogram)
	assert.Greater(t, timer.Duration(), time.Duration(0))
}
