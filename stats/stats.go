// Package stats records dispatch outcomes per service and endpoint.
//
// The Recorder is a side-effecting sink: the dispatcher reports one Outcome
// per attempt, and selection strategies read the aggregates back to bias
// future choices. Observing never fails; malformed outcomes are logged and
// dropped so that recording problems can never change a dispatch result.
package stats

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is the result of a single dispatch attempt.
type Outcome struct {
	// Service is the logical service name the call was addressed to.
	Service string

	// Endpoint is the "host:port" identity of the chosen endpoint.
	// Empty when the dispatch failed before an endpoint was selected.
	Endpoint string

	// Success reports whether a response was delivered to the caller.
	Success bool

	// ErrorKind labels the failure class for failed attempts ("io_failure",
	// "no_instances", ...). Empty on success.
	ErrorKind string

	// Latency is the wall time of the attempt, zero if no call was made.
	Latency time.Duration
}

// EndpointStats is a read-only aggregate for one endpoint of a service.
type EndpointStats struct {
	Successes uint64
	Failures  uint64
}

// Total returns the number of recorded attempts.
func (s EndpointStats) Total() uint64 {
	return s.Successes + s.Failures
}

// SuccessRate returns the fraction of successful attempts, and false when
// nothing has been recorded yet.
func (s EndpointStats) SuccessRate() (float64, bool) {
	total := s.Total()
	if total == 0 {
		return 0, false
	}
	return float64(s.Successes) / float64(total), true
}

// Recorder aggregates dispatch outcomes.
//
// State is keyed by service name and endpoint; concurrent observations for
// different services never contend beyond the map lookup. The Recorder is
// safe for concurrent use.
type Recorder struct {
	mu       sync.RWMutex
	services map[string]*serviceStats

	windowSize int
	minSamples int
	log        zerolog.Logger
	collector  *Collector
}

type serviceStats struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats
}

type endpointStats struct {
	successes uint64
	failures  uint64
	window    *latencyWindow
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithWindowSize sets how many latency samples are kept per endpoint.
// Default: 100.
func WithWindowSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.windowSize = n
		}
	}
}

// WithMinSamples sets the minimum number of samples required before latency
// estimates are reported. Default: 10.
func WithMinSamples(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.minSamples = n
		}
	}
}

// WithLogger sets the logger used when malformed outcomes are dropped.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Recorder) {
		r.log = log
	}
}

// WithCollector mirrors every observation into Prometheus metrics.
func WithCollector(c *Collector) Option {
	return func(r *Recorder) {
		r.collector = c
	}
}

// NewRecorder creates a Recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		services:   make(map[string]*serviceStats),
		windowSize: 100,
		minSamples: 10,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe records one dispatch outcome. It never panics or returns an error;
// an outcome without a service name is logged and dropped.
func (r *Recorder) Observe(o Outcome) {
	if r == nil {
		return
	}
	if o.Service == "" {
		r.log.Warn().
			Str("endpoint", o.Endpoint).
			Msg("dropping outcome without service name")
		return
	}
	if o.Latency < 0 {
		o.Latency = 0
	}

	ep := r.endpoint(o.Service, o.Endpoint)
	ep.record(o)

	if r.collector != nil {
		r.collector.observe(o)
	}
}

func (r *Recorder) endpoint(service, endpoint string) *endpointStats {
	r.mu.RLock()
	svc := r.services[service]
	r.mu.RUnlock()

	if svc == nil {
		r.mu.Lock()
		svc = r.services[service]
		if svc == nil {
			svc = &serviceStats{endpoints: make(map[string]*endpointStats)}
			r.services[service] = svc
		}
		r.mu.Unlock()
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	ep := svc.endpoints[endpoint]
	if ep == nil {
		ep = &endpointStats{window: newLatencyWindow(r.windowSize)}
		svc.endpoints[endpoint] = ep
	}
	return ep
}

func (e *endpointStats) record(o Outcome) {
	// endpointStats shares the service lock scope only at creation; counts
	// and the window are guarded by the window's own mutex.
	e.window.mu.Lock()
	defer e.window.mu.Unlock()
	if o.Success {
		e.successes++
	} else {
		e.failures++
	}
	if o.Latency > 0 {
		e.window.add(o.Latency)
	}
}

func (r *Recorder) lookup(service, endpoint string) (*endpointStats, bool) {
	r.mu.RLock()
	svc := r.services[service]
	r.mu.RUnlock()
	if svc == nil {
		return nil, false
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ep, ok := svc.endpoints[endpoint]
	return ep, ok
}

// ExpectedLatency returns the median observed latency for an endpoint.
// It implements balancer.LatencySource. Returns false until the endpoint
// has accumulated the minimum number of samples.
func (r *Recorder) ExpectedLatency(service, endpoint string) (time.Duration, bool) {
	return r.Percentile(service, endpoint, 0.5)
}

// Percentile returns the approximate latency percentile for an endpoint.
// p is in (0, 1], e.g. 0.95 for P95. Returns false while fewer than the
// minimum number of samples have been recorded.
func (r *Recorder) Percentile(service, endpoint string, p float64) (time.Duration, bool) {
	ep, ok := r.lookup(service, endpoint)
	if !ok {
		return 0, false
	}
	ep.window.mu.Lock()
	defer ep.window.mu.Unlock()
	if ep.window.count < r.minSamples {
		return 0, false
	}
	return ep.window.percentile(p), true
}

// SuccessRate returns the fraction of successful attempts for an endpoint,
// and false when nothing has been recorded for it.
func (r *Recorder) SuccessRate(service, endpoint string) (float64, bool) {
	ep, ok := r.lookup(service, endpoint)
	if !ok {
		return 0, false
	}
	ep.window.mu.Lock()
	defer ep.window.mu.Unlock()
	return EndpointStats{Successes: ep.successes, Failures: ep.failures}.SuccessRate()
}

// Snapshot returns the per-endpoint aggregates for a service.
func (r *Recorder) Snapshot(service string) map[string]EndpointStats {
	r.mu.RLock()
	svc := r.services[service]
	r.mu.RUnlock()
	if svc == nil {
		return nil
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make(map[string]EndpointStats, len(svc.endpoints))
	for addr, ep := range svc.endpoints {
		ep.window.mu.Lock()
		out[addr] = EndpointStats{Successes: ep.successes, Failures: ep.failures}
		ep.window.mu.Unlock()
	}
	return out
}

// Reset clears all recorded data.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = make(map[string]*serviceStats)
}
