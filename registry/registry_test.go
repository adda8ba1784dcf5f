package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint_Addr(t *testing.T) {
	t.Parallel()

	ep := Endpoint{Host: "10.0.0.5", Port: 8080}
	assert.Equal(t, "10.0.0.5:8080", ep.Addr())
}

func TestEndpoint_SchemeAndURL(t *testing.T) {
	t.Parallel()

	plain := Endpoint{Host: "orders-1", Port: 8080}
	assert.Equal(t, "http", plain.Scheme())
	assert.Equal(t, "http://orders-1:8080", plain.String())
	assert.Equal(t, "http://orders-1:8080/", plain.URL().String())

	secure := Endpoint{Host: "orders-1", Port: 8443, Secure: true}
	assert.Equal(t, "https", secure.Scheme())
	assert.Equal(t, "https://orders-1:8443", secure.String())
}

func TestStatic_UnknownServiceIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewStatic(nil)
	assert.Empty(t, s.Endpoints("missing"))
}

func TestStatic_SetEndpointsReplacesAtomically(t *testing.T) {
	t.Parallel()

	s := NewStatic(map[string][]Endpoint{
		"orders": {{Host: "a", Port: 8080}},
	})

	s.SetEndpoints("orders", []Endpoint{
		{Host: "b", Port: 8080},
		{Host: "c", Port: 8080},
	})

	eps := s.Endpoints("orders")
	require.Len(t, eps, 2)
	assert.Equal(t, "b", eps[0].Host)
	assert.Equal(t, "c", eps[1].Host)
}

func TestStatic_SetEndpointsCopiesInput(t *testing.T) {
	t.Parallel()

	seed := []Endpoint{{Host: "a", Port: 8080}}
	s := NewStatic(nil)
	s.SetEndpoints("orders", seed)

	// Mutating the caller's slice must not leak into the registry.
	seed[0].Host = "mutated"
	assert.Equal(t, "a", s.Endpoints("orders")[0].Host)
}

func TestStatic_RemoveForgetsService(t *testing.T) {
	t.Parallel()

	s := NewStatic(map[string][]Endpoint{
		"orders": {{Host: "a", Port: 8080}},
	})
	s.Remove("orders")

	assert.Empty(t, s.Endpoints("orders"))
	assert.NotContains(t, s.Services(), "orders")
}

func TestStatic_ConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	s := NewStatic(map[string][]Endpoint{
		"orders": {{Host: "a", Port: 8080}},
	})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.SetEndpoints("orders", []Endpoint{{Host: "b", Port: 8080}})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				eps := s.Endpoints("orders")
				if len(eps) > 0 {
					_ = eps[0].Addr()
				}
			}
		}()
	}
	wg.Wait()
}

func TestRegistryFunc(t *testing.T) {
	t.Parallel()

	r := RegistryFunc(func(service string) []Endpoint {
		if service == "orders" {
			return []Endpoint{{Host: "a", Port: 8080}}
		}
		return nil
	})

	assert.Len(t, r.Endpoints("orders"), 1)
	assert.Empty(t, r.Endpoints("billing"))
}
