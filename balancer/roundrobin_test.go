package balancer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaleido-labs/relay-go/registry"
)

func endpoints(hosts ...string) []registry.Endpoint {
	eps := make([]registry.Endpoint, 0, len(hosts))
	for _, h := range hosts {
		eps = append(eps, registry.Endpoint{Host: h, Port: 8080})
	}
	return eps
}

func TestRoundRobin_CyclesThroughEndpoints(t *testing.T) {
	t.Parallel()

	rr := NewRoundRobin()
	eps := endpoints("a", "b", "c")

	var picked []string
	for i := 0; i < 6; i++ {
		ep, err := rr.Pick("orders", eps)
		require.NoError(t, err)
		picked = append(picked, ep.Host)
	}

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picked)
}

func TestRoundRobin_IndependentCursorsPerService(t *testing.T) {
	t.Parallel()

	rr := NewRoundRobin()
	eps := endpoints("a", "b")

	first, err := rr.Pick("orders", eps)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Host)

	// A different service starts at its own cursor.
	other, err := rr.Pick("billing", eps)
	require.NoError(t, err)
	assert.Equal(t, "a", other.Host)

	second, err := rr.Pick("orders", eps)
	require.NoError(t, err)
	assert.Equal(t, "b", second.Host)
}

func TestRoundRobin_EmptyEndpoints(t *testing.T) {
	t.Parallel()

	rr := NewRoundRobin()
	_, err := rr.Pick("orders", nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestRoundRobin_ConcurrentPicksAreBalanced(t *testing.T) {
	t.Parallel()

	rr := NewRoundRobin()
	eps := endpoints("a", "b", "c", "d")

	const (
		goroutines = 8
		perG       = 100
	)

	counts := make([]map[string]int, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			local := make(map[string]int)
			for i := 0; i < perG; i++ {
				ep, err := rr.Pick("orders", eps)
				if err == nil {
					local[ep.Host]++
				}
			}
			counts[g] = local
		}(g)
	}
	wg.Wait()

	total := make(map[string]int)
	for _, local := range counts {
		for host, n := range local {
			total[host] += n
		}
	}

	// The shared cursor distributes picks exactly evenly.
	for _, host := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, goroutines*perG/4, total[host], "host %s", host)
	}
}

func TestRandom_PicksFromAllEndpoints(t *testing.T) {
	t.Parallel()

	r := NewRandom()
	eps := endpoints("a", "b", "c")

	seen := make(map[string]bool)
	for i := 0; i < 300; i++ {
		ep, err := r.Pick("orders", eps)
		require.NoError(t, err)
		seen[ep.Host] = true
	}
	assert.Len(t, seen, 3)
}

func TestRandom_EmptyEndpoints(t *testing.T) {
	t.Parallel()

	_, err := NewRandom().Pick("orders", nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}
