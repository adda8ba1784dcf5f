package balancer

import (
	"sync"
	"sync/atomic"

	"github.com/kaleido-labs/relay-go/registry"
)

// RoundRobin cycles through a service's endpoints in order.
//
// Each service has its own atomically incremented cursor, so concurrent
// callers for the same service never observe a lost update: N calls against a
// stable candidate set of size N visit every endpoint exactly once, and the
// next N calls repeat the same cycle.
type RoundRobin struct {
	cursors sync.Map // service name -> *atomic.Uint64
}

// Compile-time interface check.
var _ Picker = (*RoundRobin)(nil)

// NewRoundRobin creates a RoundRobin picker.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Pick implements Picker.
func (rr *RoundRobin) Pick(service string, endpoints []registry.Endpoint) (registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return registry.Endpoint{}, ErrNoEndpoints
	}

	cursor := rr.cursor(service)
	// Add returns the incremented value, so the first pick lands on index 0.
	n := cursor.Add(1) - 1
	return endpoints[n%uint64(len(endpoints))], nil
}

func (rr *RoundRobin) cursor(service string) *atomic.Uint64 {
	if c, ok := rr.cursors.Load(service); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := rr.cursors.LoadOrStore(service, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}
