// Package registry supplies candidate endpoints for named services.
//
// The dispatch pipeline asks a Registry for the current endpoint list of a
// service name on every call; the Registry owns the list and replaces it
// atomically when the backing source changes. Readers never observe a
// partially updated list.
package registry

import (
	"net"
	"net/url"
	"strconv"
)

// Endpoint is one concrete, reachable instance of a named service.
//
// Endpoints are immutable values. A registry never mutates an Endpoint it has
// handed out; it replaces the whole list instead, so a stale Endpoint is
// harmless to hold.
type Endpoint struct {
	// Host is the hostname or IP address of the instance.
	Host string `yaml:"host"`

	// Port is the TCP port the instance listens on.
	Port int `yaml:"port"`

	// Secure marks the instance as TLS-only. The URI rewriter upgrades the
	// request scheme to https when dispatching to a secure endpoint.
	Secure bool `yaml:"secure"`

	// Weight biases weighted selection strategies. Zero means default weight.
	Weight int `yaml:"weight"`

	// Metadata carries registry-specific instance attributes (zone, version).
	Metadata map[string]string `yaml:"metadata"`
}

// Addr returns the "host:port" form used as the endpoint's identity for
// statistics and selection state.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Scheme returns "https" for secure endpoints and "http" otherwise.
func (e Endpoint) Scheme() string {
	if e.Secure {
		return "https"
	}
	return "http"
}

// URL returns the endpoint's base URL with a root path.
func (e Endpoint) URL() *url.URL {
	return &url.URL{Scheme: e.Scheme(), Host: e.Addr(), Path: "/"}
}

func (e Endpoint) String() string {
	return e.Scheme() + "://" + e.Addr()
}

// Registry supplies the current candidate endpoints for a service name.
//
// Implementations must return an empty slice, not an error, for an unknown
// service, and must never mutate a slice they have already returned.
type Registry interface {
	Endpoints(service string) []Endpoint
}

// The RegistryFunc adapter allows plain functions to serve as a Registry.
type RegistryFunc func(service string) []Endpoint

// Endpoints implements Registry.
func (f RegistryFunc) Endpoints(service string) []Endpoint {
	return f(service)
}
