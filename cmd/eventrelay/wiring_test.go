package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/internal/config"
	"github.com/overtonx/eventrelay/storage"
	"github.com/overtonx/eventrelay/transport/kafkago"
)

func TestNewPublisher(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.PublisherConfig)
		check  func(t *testing.T, p eventrelay.Publisher)
	}{
		{
			name: "nop wrapped in breaker",
			mutate: func(cfg *config.PublisherConfig) {
				cfg.Transport = config.TransportNop
			},
			check: func(t *testing.T, p eventrelay.Publisher) {
				assert.IsType(t, &eventrelay.BreakerPublisher{}, p)
			},
		},
		{
			name: "nop without breaker",
			mutate: func(cfg *config.PublisherConfig) {
				cfg.Transport = config.TransportNop
				cfg.BreakerEnabled = false
			},
			check: func(t *testing.T, p eventrelay.Publisher) {
				assert.IsType(t, &eventrelay.NopPublisher{}, p)
			},
		},
		{
			name: "kafka-go without breaker",
			mutate: func(cfg *config.PublisherConfig) {
				cfg.Transport = config.TransportKafkaGo
				cfg.BreakerEnabled = false
			},
			check: func(t *testing.T, p eventrelay.Publisher) {
				assert.IsType(t, &kafkago.Publisher{}, p)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Publisher
			tt.mutate(&cfg)

			p, err := newPublisher(cfg, zap.NewNop(), eventrelay.NewNopMetricsCollector())
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Close() })
			tt.check(t, p)
		})
	}
}

func TestNewPublisher_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default().Publisher
	cfg.Transport = config.TransportRedis
	cfg.RedisAddr = mr.Addr()
	cfg.RedisStream = "orders"

	p, err := newPublisher(cfg, zap.NewNop(), eventrelay.NewNopMetricsCollector())
	require.NoError(t, err)
	defer p.Close()

	err = p.Publish(context.Background(), storage.OutboxRecord{
		EventID:       uuid.New(),
		CorrelationID: "order-42",
		EventType:     "order.placed",
		Payload:       []byte(`{"id":42}`),
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)

	entries, err := mr.Stream("orders")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNewPublisher_UnknownTransport(t *testing.T) {
	cfg := config.Default().Publisher
	cfg.Transport = "nats"

	_, err := newPublisher(cfg, zap.NewNop(), eventrelay.NewNopMetricsCollector())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestOpenDatabase_UnsupportedDriver(t *testing.T) {
	_, _, err := openDatabase(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"})
	assert.Error(t, err)
}
