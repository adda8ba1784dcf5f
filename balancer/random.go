package balancer

import (
	"math/rand/v2"

	"github.com/kaleido-labs/relay-go/registry"
)

// Random picks a uniformly random endpoint. It keeps no per-service state.
type Random struct{}

// Compile-time interface check.
var _ Picker = Random{}

// NewRandom creates a Random picker.
func NewRandom() Random {
	return Random{}
}

// Pick implements Picker.
func (Random) Pick(_ string, endpoints []registry.Endpoint) (registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return registry.Endpoint{}, ErrNoEndpoints
	}
	//nolint:gosec // selection does not need cryptographic randomness
	return endpoints[rand.IntN(len(endpoints))], nil
}
