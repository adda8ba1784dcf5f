package registry

import "sync"

// Static is an in-memory Registry populated by the application.
//
// It is the simplest adapter for wiring a dispatcher in tests or when the
// endpoint list comes from configuration rather than a discovery system.
// SetEndpoints replaces a service's list atomically; concurrent readers see
// either the old list or the new one, never a mix.
type Static struct {
	mu       sync.RWMutex
	services map[string][]Endpoint
}

// Compile-time interface check.
var _ Registry = (*Static)(nil)

// NewStatic creates a Static registry seeded with the given service lists.
// The seed map may be nil.
func NewStatic(services map[string][]Endpoint) *Static {
	s := &Static{services: make(map[string][]Endpoint, len(services))}
	for name, eps := range services {
		s.services[name] = cloneEndpoints(eps)
	}
	return s
}

// Endpoints implements Registry. Unknown services yield an empty slice.
func (s *Static) Endpoints(service string) []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services[service]
}

// SetEndpoints replaces the candidate list for a service.
// Passing an empty slice keeps the service known but drains it;
// use Remove to forget the service entirely.
func (s *Static) SetEndpoints(service string, eps []Endpoint) {
	fresh := cloneEndpoints(eps)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[service] = fresh
}

// Remove forgets a service.
func (s *Static) Remove(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, service)
}

// Services returns the names of all registered services.
func (s *Static) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	return names
}

// cloneEndpoints copies the slice so later caller mutations cannot leak into
// lists already handed to readers.
func cloneEndpoints(eps []Endpoint) []Endpoint {
	if eps == nil {
		return nil
	}
	out := make([]Endpoint, len(eps))
	copy(out, eps)
	return out
}
