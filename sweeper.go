package eventrelay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/storage"
)

// Sweeper re-publishes outbox records the relay failed to deliver or to flag.
// Each Sweep is an independent iteration; run it periodically with a BaseWorker.
//
// The grace period counts from occurred_at, the time the event was raised, not the commit time. An operation
// that runs longer than the grace period commits records the next sweep may pick up while the relay is still
// publishing them. Those events are delivered twice; consumers dedupe them through the inbox filter.
// Keep the grace period above the longest expected operation.
type Sweeper struct {
	store       storage.OutboxStore
	fanout      *fanout
	logger      *zap.Logger
	metrics     MetricsCollector
	batchSize   int
	gracePeriod time.Duration
	now         func() time.Time
}

func NewSweeper(store storage.OutboxStore, publisher Publisher, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	o := &sweeperOptions{
		logger:         zap.NewNop(),
		metrics:        NewNopMetricsCollector(),
		batchSize:      defaultSweepBatchSize,
		gracePeriod:    defaultSweepGracePeriod,
		publishTimeout: defaultPublishTimeout,
		maxConcurrency: defaultPublishConcurrency,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Sweeper{
		store:       store,
		logger:      o.logger,
		metrics:     o.metrics,
		batchSize:   o.batchSize,
		gracePeriod: o.gracePeriod,
		now:         o.now,
		fanout: &fanout{
			publisher: publisher,
			logger:    o.logger,
			metrics:   o.metrics,
			timeout:   o.publishTimeout,
			limit:     o.maxConcurrency,
			limiter:   o.limiter,
			source:    "sweeper",
		},
	}, nil
}

// Sweep publishes one batch of unpublished records older than the grace period, oldest first,
// and flags the ones the transport accepted.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration(MetricSweepDuration, time.Since(start), nil)
	}()

	cutoff := s.now().Add(-s.gracePeriod)
	records, err := s.store.FetchUnpublished(ctx, cutoff, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unpublished records: %w", err)
	}
	s.metrics.RecordGauge(MetricSweepBacklog, float64(len(records)), nil)
	if len(records) == 0 {
		return nil
	}

	s.logger.Info("Sweeping unpublished events", zap.Int("count", len(records)), zap.Time("occurred_before", cutoff))

	outcomes := s.fanout.publish(ctx, records)
	published, err := s.fanout.markPublished(ctx, s.store, records, outcomes)
	if err != nil {
		return err
	}

	s.logger.Info("Sweep finished",
		zap.Int("published", published),
		zap.Int("failed", len(records)-published),
	)
	return nil
}

// Worker wraps Sweep in a BaseWorker running every interval with the given jitter.
func (s *Sweeper) Worker(interval time.Duration, opts ...WorkerOption) *BaseWorker {
	return NewBaseWorker("outbox-sweeper", interval, s.logger, s.Sweep, opts...)
}
