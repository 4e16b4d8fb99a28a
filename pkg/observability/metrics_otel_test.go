package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestOTelMetrics_Mirror(t *testing.T) {
	reader := setupTestMeterProvider(t)

	o, err := NewOTelMetrics()
	require.NoError(t, err)
	m := NewMetrics(prometheus.NewRegistry()).WithOTel(o)

	m.ObserveAuthz("rooms", true, time.Millisecond)
	m.ObserveAuthz("staffs", false, time.Millisecond)
	m.ObserveDecentralize("role_permissions", "success", 2, 1, 5*time.Millisecond)
	m.ObserveLogin(false)

	assert.Equal(t, int64(2), sumOf(t, reader, "roomdesk.authz.decisions"))
	assert.Equal(t, int64(1), sumOf(t, reader, "roomdesk.decentralize.calls"))
	assert.Equal(t, int64(3), sumOf(t, reader, "roomdesk.assignment.edges"))
	assert.Equal(t, int64(1), sumOf(t, reader, "roomdesk.login.attempts"))
}

func TestOTelMetrics_NilIsNoop(t *testing.T) {
	var o *OTelMetrics
	assert.NotPanics(t, func() {
		o.recordAuthz(context.Background(), "rooms", "allow")
		o.recordLogin(context.Background(), "success")
	})
}

func TestInitMetrics_Disabled(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	mp, err := InitMetrics(context.Background(), OTelConfig{Enabled: true}, logger)
	assert.NoError(t, err)
	assert.Nil(t, mp)

	assert.NoError(t, ShutdownMetrics(context.Background(), nil, logger))
}
