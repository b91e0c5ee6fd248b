package inbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/storage"
)

const DefaultRetention = 7 * 24 * time.Hour

// Cleaner purges ledger rows older than the retention window. The window must exceed the longest redelivery
// delay of the transport, otherwise a late redelivery is no longer recognised.
type Cleaner struct {
	ledger    storage.InboxLedger
	logger    *zap.Logger
	metrics   eventrelay.MetricsCollector
	retention time.Duration
	now       func() time.Time
}

func NewCleaner(ledger storage.InboxLedger, opts ...CleanerOption) (*Cleaner, error) {
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	c := &Cleaner{
		ledger:    ledger,
		logger:    zap.NewNop(),
		metrics:   eventrelay.NewNopMetricsCollector(),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Cleanup deletes rows consumed strictly before now minus retention. A row exactly retention old is kept.
func (c *Cleaner) Cleanup(ctx context.Context) error {
	start := time.Now()
	defer func() {
		c.metrics.RecordDuration(eventrelay.MetricInboxCleanupDuration, time.Since(start), nil)
	}()

	cutoff := c.now().Add(-c.retention)
	deleted, err := c.ledger.DeleteConsumedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up inbox ledger: %w", err)
	}

	if deleted > 0 {
		c.logger.Info("Cleaned up inbox ledger", zap.Int64("count", deleted), zap.Time("consumed_before", cutoff))
		c.metrics.RecordGauge(eventrelay.MetricInboxCleanupDeleted, float64(deleted), nil)
	}
	return nil
}

// Worker wraps Cleanup in a BaseWorker.
func (c *Cleaner) Worker(interval time.Duration, opts ...eventrelay.WorkerOption) *eventrelay.BaseWorker {
	return eventrelay.NewBaseWorker("inbox-cleaner", interval, c.logger, c.Cleanup, opts...)
}
