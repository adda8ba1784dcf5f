package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type latencyMap map[string]time.Duration

func (m latencyMap) ExpectedLatency(_, endpoint string) (time.Duration, bool) {
	d, ok := m[endpoint]
	return d, ok
}

func TestWeightedLatency_FavorsFasterEndpoint(t *testing.T) {
	t.Parallel()

	w := NewWeightedLatency(latencyMap{
		"fast:8080": 10 * time.Millisecond,
		"slow:8080": 1 * time.Second,
	})
	eps := endpoints("fast", "slow")

	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		ep, err := w.Pick("orders", eps)
		require.NoError(t, err)
		counts[ep.Host]++
	}

	// A 100x latency gap should produce a heavy skew.
	assert.Greater(t, counts["fast"], counts["slow"]*10)
}

func TestWeightedLatency_UnsampledEndpointStillGetsTraffic(t *testing.T) {
	t.Parallel()

	w := NewWeightedLatency(latencyMap{
		"warm:8080": 50 * time.Millisecond,
	})
	eps := endpoints("warm", "cold")

	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		ep, err := w.Pick("orders", eps)
		require.NoError(t, err)
		counts[ep.Host]++
	}

	assert.Positive(t, counts["cold"])
	assert.Positive(t, counts["warm"])
}

func TestWeightedLatency_FallsBackToRoundRobinWithoutSamples(t *testing.T) {
	t.Parallel()

	w := NewWeightedLatency(latencyMap{})
	eps := endpoints("a", "b")

	first, err := w.Pick("orders", eps)
	require.NoError(t, err)
	second, err := w.Pick("orders", eps)
	require.NoError(t, err)

	assert.Equal(t, "a", first.Host)
	assert.Equal(t, "b", second.Host)
}

func TestWeightedLatency_EmptyEndpoints(t *testing.T) {
	t.Parallel()

	w := NewWeightedLatency(latencyMap{})
	_, err := w.Pick("orders", nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}
