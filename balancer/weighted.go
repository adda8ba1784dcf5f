package balancer

import (
	"math/rand/v2"
	"time"

	"github.com/kaleido-labs/relay-go/registry"
)

// LatencySource exposes observed latency per endpoint, typically backed by
// the statistics recorder that the dispatcher feeds after every call.
//
// The endpoint key is the "host:port" form returned by registry.Endpoint.Addr.
// The second return value reports whether enough samples exist for the
// estimate to be meaningful.
type LatencySource interface {
	ExpectedLatency(service, endpoint string) (time.Duration, bool)
}

// WeightedLatency biases selection toward endpoints with lower observed
// latency.
//
// Each endpoint's weight is the inverse of its expected latency; endpoints
// without enough samples yet receive the mean weight of the sampled ones so
// that new instances still get traffic. When no endpoint has samples the
// picker falls back to round-robin, which also gives a cold start a full
// deterministic cycle before weights kick in.
type WeightedLatency struct {
	source   LatencySource
	fallback *RoundRobin
}

// Compile-time interface check.
var _ Picker = (*WeightedLatency)(nil)

// NewWeightedLatency creates a WeightedLatency picker reading from source.
func NewWeightedLatency(source LatencySource) *WeightedLatency {
	return &WeightedLatency{
		source:   source,
		fallback: NewRoundRobin(),
	}
}

// Pick implements Picker.
func (w *WeightedLatency) Pick(service string, endpoints []registry.Endpoint) (registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return registry.Endpoint{}, ErrNoEndpoints
	}

	weights := make([]float64, len(endpoints))
	var sampled int
	var sum float64
	for i, ep := range endpoints {
		latency, ok := w.source.ExpectedLatency(service, ep.Addr())
		if !ok || latency <= 0 {
			continue
		}
		weights[i] = 1 / float64(latency)
		sum += weights[i]
		sampled++
	}

	if sampled == 0 {
		return w.fallback.Pick(service, endpoints)
	}

	// Unsampled endpoints get the mean weight of the sampled ones.
	mean := sum / float64(sampled)
	total := 0.0
	for i := range weights {
		if weights[i] == 0 {
			weights[i] = mean
		}
		total += weights[i]
	}

	//nolint:gosec // selection does not need cryptographic randomness
	target := rand.Float64() * total
	for i, wt := range weights {
		target -= wt
		if target <= 0 {
			return endpoints[i], nil
		}
	}
	return endpoints[len(endpoints)-1], nil
}
