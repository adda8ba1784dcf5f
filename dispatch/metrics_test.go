package dispatch

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/kaleido-labs/relay-go/registry"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestDispatcher_EmitsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.Empty()),
	)

	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	d := New(testRegistry("a"),
		WithTransport(mock),
		WithMeterProvider(provider),
	)

	resp, err := d.Do(context.Background(),
		logicalRequest(t, http.MethodGet, "http://orders/", nil))
	require.NoError(t, err)
	resp.Body.Close()

	metrics := collectMetrics(t, reader)
	assert.Contains(t, metrics, "relay.dispatch.duration")
	assert.Contains(t, metrics, "relay.dispatch.outcomes")
	assert.Contains(t, metrics, "relay.dispatch.active")

	outcomes, ok := metrics["relay.dispatch.outcomes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, outcomes.DataPoints, 1)
	assert.Equal(t, int64(1), outcomes.DataPoints[0].Value)
}

func TestDispatcher_EmitsFailureOutcome(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	d := New(registry.NewStatic(nil),
		WithTransport(NewMockTransport()),
		WithMeterProvider(provider),
	)

	_, err := d.Do(context.Background(),
		logicalRequest(t, http.MethodGet, "http://orders/", nil))
	require.Error(t, err)

	metrics := collectMetrics(t, reader)
	outcomes, ok := metrics["relay.dispatch.outcomes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, outcomes.DataPoints, 1)

	label, ok := outcomes.DataPoints[0].Attributes.Value("outcome")
	require.True(t, ok)
	assert.Equal(t, "no_instances", label.AsString())
}
