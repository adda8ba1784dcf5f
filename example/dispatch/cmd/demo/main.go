// Demo app: two local backends with different latencies behind a
// latency-weighted dispatcher, with Prometheus metrics on :2112.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kaleido-labs/relay-go/balancer"
	"github.com/kaleido-labs/relay-go/dispatch"
	"github.com/kaleido-labs/relay-go/registry"
	"github.com/kaleido-labs/relay-go/stats"
)

const metricsAddr = ":2112"

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	// Two backends answering the same contract, one of them slow.
	fast := startBackend(logger, 2*time.Millisecond)
	slow := startBackend(logger, 80*time.Millisecond)

	reg := registry.NewStatic(map[string][]registry.Endpoint{
		"inventory": {
			endpointOf(fast),
			endpointOf(slow),
		},
	})

	promReg := prometheus.NewRegistry()
	recorder := stats.NewRecorder(
		stats.WithMinSamples(5),
		stats.WithLogger(logger),
		stats.WithCollector(stats.NewCollector(promReg)),
	)

	d := dispatch.New(reg,
		dispatch.WithPicker(balancer.NewWeightedLatency(recorder)),
		dispatch.WithRecorder(recorder),
		dispatch.WithLogger(logger),
		dispatch.WithGlobalProperties(dispatch.Properties{
			ReadTimeout: dispatch.MillisOf(2 * time.Second),
		}),
	)
	d.RegisterClient("inventory", dispatch.Properties{
		Retry: &dispatch.RetryConfig{
			MaxRetries:      2,
			InitialInterval: dispatch.Millis(50 * time.Millisecond),
			MaxInterval:     dispatch.Millis(time.Second),
			Multiplier:      2.0,
		},
		Interceptors: []dispatch.Interceptor{
			dispatch.CorrelationIDInterceptor("X-Request-ID"),
			dispatch.UserAgentInterceptor("relay-demo/0.1"),
		},
	})

	breaker := dispatch.NewBreaker(d, dispatch.DefaultBreakerConfig(),
		dispatch.WithBreakerLogger(logger))
	inventory := dispatch.NewClient(breaker, "inventory")

	go serveMetrics(logger, promReg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	logger.Info().
		Str("metrics", "http://localhost"+metricsAddr+"/metrics").
		Msg("demo started, Ctrl+C to stop")

	ctx := context.Background()
	for {
		select {
		case <-ticker.C:
			var out struct {
				Host string `json:"host"`
			}
			if err := inventory.Get(ctx, "/stock/widget", &out); err != nil {
				logger.Warn().Err(err).Msg("call failed")
			}
		case <-report.C:
			for endpoint, agg := range recorder.Snapshot("inventory") {
				median, _ := recorder.ExpectedLatency("inventory", endpoint)
				logger.Info().
					Str("endpoint", endpoint).
					Uint64("calls", agg.Total()).
					Dur("median", median).
					Msg("endpoint stats")
			}
		case <-sigCh:
			logger.Info().Msg("shutting down")
			return
		}
	}
}

// startBackend runs a local HTTP server that answers after the given delay.
func startBackend(logger zerolog.Logger, delay time.Duration) *net.TCPAddr {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Fatal().Err(err).Msg("listen failed")
	}

	addr := ln.Addr().(*net.TCPAddr)
	mux := http.NewServeMux()
	mux.HandleFunc("/stock/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"host":%q}`, addr.String())
	})

	go func() {
		if err := http.Serve(ln, mux); err != nil {
			logger.Warn().Err(err).Msg("backend stopped")
		}
	}()

	logger.Info().Str("addr", addr.String()).Dur("delay", delay).Msg("backend up")
	return addr
}

func endpointOf(addr *net.TCPAddr) registry.Endpoint {
	return registry.Endpoint{Host: addr.IP.String(), Port: addr.Port}
}

func serveMetrics(logger zerolog.Logger, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(metricsAddr, mux); err != nil {
		logger.Fatal().Err(err).Msg("metrics server failed")
	}
}
