package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay"
)

func TestProvider_ExportsCollectorMetrics(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	collector := eventrelay.NewOpenTelemetryMetricsCollectorWithMeter(provider.MeterProvider().Meter("eventrelay"))
	collector.IncrementCounter(eventrelay.MetricPublishSucceeded, map[string]string{"source": "relay"})
	collector.RecordGauge(eventrelay.MetricSweepBacklog, 7, nil)

	server := httptest.NewServer(provider.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Regexp(t, `outbox[._]publish[._]succeeded`, string(body))
	assert.Contains(t, string(body), `source="relay"`)
	assert.Regexp(t, `outbox[._]sweep[._]backlog`, string(body))
}

func TestProvider_ShutdownWithoutMeterProvider(t *testing.T) {
	assert.NoError(t, (&Provider{}).Shutdown(context.Background()))
}
