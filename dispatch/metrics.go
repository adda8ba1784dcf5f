package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for dispatch operations.
type metrics struct {
	// dispatchDuration measures the whole dispatch in seconds, retries
	// included, labeled by service and outcome.
	dispatchDuration metric.Float64Histogram

	// dispatchOutcomes counts finished dispatches by outcome label.
	dispatchOutcomes metric.Int64Counter

	// retryAttempts counts retry attempts beyond the initial one.
	retryAttempts metric.Int64Counter

	// activeDispatches tracks the number of in-flight dispatches.
	activeDispatches metric.Int64UpDownCounter
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.dispatchDuration, err = meter.Float64Histogram(
		"relay.dispatch.duration",
		metric.WithDescription("Duration of dispatched requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.dispatchOutcomes, err = meter.Int64Counter(
		"relay.dispatch.outcomes",
		metric.WithDescription("Number of finished dispatches by outcome"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryAttempts, err = meter.Int64Counter(
		"relay.dispatch.retry.attempts",
		metric.WithDescription("Number of retry attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.activeDispatches, err = meter.Int64UpDownCounter(
		"relay.dispatch.active",
		metric.WithDescription("Number of in-flight dispatches"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordDispatch records the duration and outcome of a finished dispatch.
func (m *metrics) recordDispatch(
	ctx context.Context,
	service, outcome string,
	duration time.Duration,
) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	)
	if m.dispatchDuration != nil {
		m.dispatchDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.dispatchOutcomes != nil {
		m.dispatchOutcomes.Add(ctx, 1, attrs)
	}
}

// recordRetryAttempt records one retry beyond the initial attempt.
func (m *metrics) recordRetryAttempt(ctx context.Context, service string, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.Int("retry.attempt", attempt),
	))
}

// recordDispatchStart records a dispatch entering flight.
func (m *metrics) recordDispatchStart(ctx context.Context, service string) {
	if m == nil || m.activeDispatches == nil {
		return
	}
	m.activeDispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
	))
}

// recordDispatchEnd records a dispatch leaving flight.
func (m *metrics) recordDispatchEnd(ctx context.Context, service string) {
	if m == nil || m.activeDispatches == nil {
		return
	}
	m.activeDispatches.Add(ctx, -1, metric.WithAttributes(
		attribute.String("service", service),
	))
}
