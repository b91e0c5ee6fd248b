package eventrelay

import (
	"context"
	"time"

	"github.com/overtonx/eventrelay/storage"
)

// Publisher sends one stored event to the transport. A nil error means the transport accepted it.
type Publisher interface {
	Publish(ctx context.Context, record storage.OutboxRecord) error
	Close() error
}

// TxManager is the unit of work the relay commits through.
// *manager.Manager from github.com/avito-tech/go-transaction-manager satisfies it.
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}
