package stats

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow holds a circular buffer of latency samples.
// The mutex also guards the owning endpointStats counters.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	head    int
	count   int
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, size)}
}

// add appends a sample, evicting the oldest once the window is full.
// Callers must hold mu.
func (w *latencyWindow) add(latency time.Duration) {
	w.samples[w.head] = latency
	w.head = (w.head + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

// percentile returns the approximate percentile of the recorded samples.
// Callers must hold mu and have checked count against the sample minimum.
func (w *latencyWindow) percentile(p float64) time.Duration {
	if w.count == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	// Copy before sorting so the circular buffer keeps its insertion order.
	samples := make([]time.Duration, w.count)
	copy(samples, w.samples[:w.count])
	sort.Slice(samples, func(i, j int) bool {
		return samples[i] < samples[j]
	})

	idx := int(float64(len(samples)-1) * p)
	return samples[idx]
}
