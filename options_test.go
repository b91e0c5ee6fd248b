package eventrelay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRelayOptions(t *testing.T) {
	o := &relayOptions{publishTimeout: defaultPublishTimeout}

	logger := zap.NewNop()
	WithRelayLogger(logger)(o)
	assert.Equal(t, logger, o.logger)

	metrics := NewNopMetricsCollector()
	WithRelayMetrics(metrics)(o)
	assert.Equal(t, metrics, o.metrics)

	WithRelayPublishTimeout(time.Second)(o)
	assert.Equal(t, time.Second, o.publishTimeout)
	WithRelayPublishTimeout(0)(o)
	assert.Equal(t, time.Second, o.publishTimeout)

	WithRelayMaxConcurrency(4)(o)
	assert.Equal(t, 4, o.maxConcurrency)
}

func TestSweeperOptions(t *testing.T) {
	o := &sweeperOptions{batchSize: defaultSweepBatchSize, gracePeriod: defaultSweepGracePeriod}

	WithSweeperBatchSize(10)(o)
	assert.Equal(t, 10, o.batchSize)
	WithSweeperBatchSize(-1)(o)
	assert.Equal(t, 10, o.batchSize)

	WithSweeperGracePeriod(0)(o)
	assert.Zero(t, o.gracePeriod)

	WithSweeperRateLimit(0, 5)(o)
	assert.Nil(t, o.limiter)
	WithSweeperRateLimit(50, 0)(o)
	require.NotNil(t, o.limiter)
	assert.Equal(t, 1, o.limiter.Burst())

	WithSweeperPublishTimeout(2 * time.Second)(o)
	assert.Equal(t, 2*time.Second, o.publishTimeout)
}

func TestBreakerOptions(t *testing.T) {
	o := &breakerOptions{failureThreshold: defaultBreakerFailureThreshold, openTimeout: defaultBreakerOpenTimeout}

	WithBreakerName("kafka")(o)
	assert.Equal(t, "kafka", o.name)
	WithBreakerFailureThreshold(0)(o)
	assert.Equal(t, uint32(defaultBreakerFailureThreshold), o.failureThreshold)
	WithBreakerFailureThreshold(3)(o)
	assert.Equal(t, uint32(3), o.failureThreshold)
	WithBreakerOpenTimeout(time.Minute)(o)
	assert.Equal(t, time.Minute, o.openTimeout)
}
