package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes dispatch outcomes as Prometheus metrics.
//
// Attach it to a Recorder with WithCollector:
//
//	collector := stats.NewCollector(prometheus.DefaultRegisterer)
//	recorder := stats.NewRecorder(stats.WithCollector(collector))
type Collector struct {
	dispatches *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
// Pass nil to skip registration (useful when the caller registers manually).
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_dispatch_attempts_total",
				Help: "Dispatch attempts by service, endpoint, and outcome.",
			},
			[]string{"service", "endpoint", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "relay_dispatch_duration_seconds",
				Help: "Dispatch attempt duration in seconds.",
				Buckets: []float64{
					0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
				},
			},
			[]string{"service", "endpoint"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.dispatches, c.latency)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.dispatches.Describe(ch)
	c.latency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.dispatches.Collect(ch)
	c.latency.Collect(ch)
}

func (c *Collector) observe(o Outcome) {
	outcome := "success"
	if !o.Success {
		outcome = o.ErrorKind
		if outcome == "" {
			outcome = "failure"
		}
	}
	c.dispatches.WithLabelValues(o.Service, o.Endpoint, outcome).Inc()
	if o.Latency > 0 {
		c.latency.WithLabelValues(o.Service, o.Endpoint).Observe(o.Latency.Seconds())
	}
}
