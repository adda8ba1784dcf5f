// Package balancer implements endpoint selection strategies for dispatch.
//
// A Picker chooses one endpoint among the candidates a registry returned for
// a service. Strategies keep any selection state (cursors, weights) keyed by
// service name so that unrelated services never contend on a shared lock.
package balancer

import (
	"errors"

	"github.com/kaleido-labs/relay-go/registry"
)

// ErrNoEndpoints is returned when a Picker is invoked with an empty
// candidate set.
var ErrNoEndpoints = errors.New("balancer: no endpoints available")

// Picker chooses one endpoint among the candidates for a service.
//
// Pick must be safe for concurrent use. The endpoints slice is read-only;
// implementations must not reorder or mutate it.
type Picker interface {
	Pick(service string, endpoints []registry.Endpoint) (registry.Endpoint, error)
}

// The PickerFunc adapter allows plain functions to serve as a Picker.
type PickerFunc func(service string, endpoints []registry.Endpoint) (registry.Endpoint, error)

// Pick implements Picker.
func (f PickerFunc) Pick(service string, endpoints []registry.Endpoint) (registry.Endpoint, error) {
	return f(service, endpoints)
}
