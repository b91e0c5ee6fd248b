package eventrelay

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/storage"
)

const (
	defaultBreakerFailureThreshold = 5
	defaultBreakerOpenTimeout      = 30 * time.Second
)

// BreakerPublisher guards a Publisher with a circuit breaker. While the circuit is open every Publish fails
// immediately with gobreaker.ErrOpenState and the record stays unpublished for the sweeper.
type BreakerPublisher struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next Publisher, opts ...BreakerOption) *BreakerPublisher {
	o := &breakerOptions{
		name:             "outbox-publisher",
		failureThreshold: defaultBreakerFailureThreshold,
		openTimeout:      defaultBreakerOpenTimeout,
		logger:           zap.NewNop(),
		metrics:          NewNopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(o)
	}

	settings := gobreaker.Settings{
		Name:        o.name,
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("Publisher circuit breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			o.metrics.IncrementCounter(MetricBreakerStateChange, map[string]string{"to": to.String()})
		},
	}

	return &BreakerPublisher{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerPublisher) Publish(ctx context.Context, record storage.OutboxRecord) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Publish(ctx, record)
	})
	return err
}

func (b *BreakerPublisher) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerPublisher) Close() error {
	return b.next.Close()
}
