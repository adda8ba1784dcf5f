package dispatch

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// optionsStore resolves and caches per-service Options.
//
// Three tiers feed the merge: code-declared defaults from client
// registration, global properties applying to every service, and per-service
// property overrides. In the default precedence mode later tiers win
// (defaults < global < per-service); in prefer-code mode the code-declared
// tier is applied last so it wins over anything property-driven. The mode is
// a single switch for the whole store, decided at construction.
//
// Resolution is coalesced with singleflight so concurrent first calls for the
// same service build the Options exactly once. Each cached entry carries the
// generation of the tiers it was built from; registering a tier bumps the
// service's generation, so an entry re-cached by a resolve that raced the
// registration is detected as stale and rebuilt on the next resolve.
type optionsStore struct {
	mu           sync.RWMutex
	codeDefaults map[string]Properties
	overrides    map[string]Properties
	global       Properties
	gens         map[string]uint64

	preferCode bool

	cache sync.Map // service name -> cachedOptions
	group singleflight.Group
}

// cachedOptions pins resolved Options to the tier generation they reflect.
type cachedOptions struct {
	gen  uint64
	opts Options
}

func newOptionsStore(global Properties, preferCode bool) *optionsStore {
	return &optionsStore{
		codeDefaults: make(map[string]Properties),
		overrides:    make(map[string]Properties),
		global:       global,
		gens:         make(map[string]uint64),
		preferCode:   preferCode,
	}
}

// setCodeDefaults records the code-declared tier for a service and drops
// any cached resolution.
func (s *optionsStore) setCodeDefaults(service string, p Properties) {
	s.mu.Lock()
	s.codeDefaults[service] = p
	s.gens[service]++
	s.mu.Unlock()
	s.cache.Delete(service)
}

// setOverride records the per-service property tier and drops any cached
// resolution.
func (s *optionsStore) setOverride(service string, p Properties) {
	s.mu.Lock()
	s.overrides[service] = p
	s.gens[service]++
	s.mu.Unlock()
	s.cache.Delete(service)
}

// resolve returns the merged Options for a service, building and caching
// them on first use.
func (s *optionsStore) resolve(service string) Options {
	s.mu.RLock()
	gen := s.gens[service]
	s.mu.RUnlock()

	if cached, ok := s.cache.Load(service); ok {
		if entry := cached.(cachedOptions); entry.gen == gen {
			return entry.opts
		}
	}

	v, _, _ := s.group.Do(service, func() (interface{}, error) {
		opts, g := s.merge(service)
		s.cache.Store(service, cachedOptions{gen: g, opts: opts})
		return opts, nil
	})
	return v.(Options)
}

// merge builds the Options from a consistent snapshot of the tiers,
// returning the generation the snapshot belongs to.
func (s *optionsStore) merge(service string) (Options, uint64) {
	s.mu.RLock()
	code := s.codeDefaults[service]
	override := s.overrides[service]
	global := s.global
	preferCode := s.preferCode
	gen := s.gens[service]
	s.mu.RUnlock()

	if preferCode {
		return mergeOptions(global, override, code), gen
	}
	return mergeOptions(code, global, override), gen
}
