package eventrelay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/overtonx/eventrelay/storage"
)

// fanout publishes a batch of stored records concurrently and flags the delivered ones.
// It is shared by the relay and the sweeper.
type fanout struct {
	publisher Publisher
	logger    *zap.Logger
	metrics   MetricsCollector
	timeout   time.Duration
	limit     int
	limiter   *rate.Limiter
	// detach makes attempts outlive the caller's cancellation.
	detach bool
	source string
}

// publish returns one outcome per record, in input order. Outcomes are independent: one failure never
// cancels its siblings.
func (f *fanout) publish(ctx context.Context, records []storage.OutboxRecord) []bool {
	outcomes := make([]bool, len(records))
	if len(records) == 0 {
		return outcomes
	}
	if f.detach {
		ctx = context.WithoutCancel(ctx)
	}

	var g errgroup.Group
	if f.limit > 0 {
		g.SetLimit(f.limit)
	}
	for i, record := range records {
		g.Go(func() error {
			outcomes[i] = f.attempt(ctx, record)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (f *fanout) attempt(ctx context.Context, record storage.OutboxRecord) (ok bool) {
	fields := []zap.Field{
		zap.String("event_id", record.EventID.String()),
		zap.String("event_type", record.EventType),
		zap.String("correlation_id", record.CorrelationID),
	}
	tags := map[string]string{"event_type": record.EventType, "source": f.source}

	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Publisher panicked", append(fields, zap.Any("panic", r))...)
			f.metrics.IncrementCounter(MetricPublishFailed, tags)
			ok = false
		}
	}()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			f.logger.Warn("Publish skipped, rate limiter wait aborted", append(fields, zap.Error(err))...)
			return false
		}
	}

	start := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err := f.publisher.Publish(attemptCtx, record)
	f.metrics.RecordDuration(MetricPublishDuration, time.Since(start), tags)
	if err != nil {
		f.logger.Warn("Failed to publish event, it stays unpublished", append(fields, zap.Error(err))...)
		f.metrics.IncrementCounter(MetricPublishFailed, tags)
		return false
	}

	f.metrics.IncrementCounter(MetricPublishSucceeded, tags)
	return true
}

// markPublished flags the delivered records in one write and returns how many were flagged.
// A failed write is only logged: the records remain unpublished and the sweeper will deliver them again.
func (f *fanout) markPublished(ctx context.Context, store storage.OutboxStore, records []storage.OutboxRecord, outcomes []bool) (int, error) {
	if len(records) != len(outcomes) {
		return 0, fmt.Errorf("%w: %d outcomes for %d records", ErrPublishOutcomeMismatch, len(outcomes), len(records))
	}

	ids := make([]uuid.UUID, 0, len(records))
	for i, delivered := range outcomes {
		if delivered {
			ids = append(ids, records[i].EventID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if f.detach {
		ctx = context.WithoutCancel(ctx)
	}
	writeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := store.MarkPublished(writeCtx, ids); err != nil {
		f.logger.Error("Failed to mark events as published, they will be delivered again",
			zap.Int("count", len(ids)),
			zap.Error(err),
		)
		f.metrics.IncrementCounter(MetricMarkPublishedFailed, map[string]string{"source": f.source})
		return 0, nil
	}
	return len(ids), nil
}
