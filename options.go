package eventrelay

import (
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultPublishTimeout     = 5 * time.Second
	defaultPublishConcurrency = 16
	defaultSweepBatchSize     = 100
	defaultSweepGracePeriod   = 30 * time.Second
	defaultWorkerInterval     = 10 * time.Second
	defaultWorkerJitter       = 0.2
)

//
// Relay Options
//

type RelayOption func(*relayOptions)

type relayOptions struct {
	logger         *zap.Logger
	metrics        MetricsCollector
	publishTimeout time.Duration
	maxConcurrency int
}

func WithRelayLogger(logger *zap.Logger) RelayOption {
	return func(o *relayOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithRelayMetrics(metrics MetricsCollector) RelayOption {
	return func(o *relayOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithRelayPublishTimeout bounds each individual publish attempt.
func WithRelayPublishTimeout(timeout time.Duration) RelayOption {
	return func(o *relayOptions) {
		if timeout > 0 {
			o.publishTimeout = timeout
		}
	}
}

// WithRelayMaxConcurrency caps in-flight publishes per operation. Zero or less means unbounded.
func WithRelayMaxConcurrency(n int) RelayOption {
	return func(o *relayOptions) {
		o.maxConcurrency = n
	}
}

//
// Sweeper Options
//

type SweeperOption func(*sweeperOptions)

type sweeperOptions struct {
	logger         *zap.Logger
	metrics        MetricsCollector
	batchSize      int
	gracePeriod    time.Duration
	publishTimeout time.Duration
	maxConcurrency int
	limiter        *rate.Limiter
	now            func() time.Time
}

func WithSweeperLogger(logger *zap.Logger) SweeperOption {
	return func(o *sweeperOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithSweeperMetrics(metrics MetricsCollector) SweeperOption {
	return func(o *sweeperOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func WithSweeperBatchSize(size int) SweeperOption {
	return func(o *sweeperOptions) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithSweeperGracePeriod sets how long after occurred_at an unpublished record becomes eligible for the sweeper,
// leaving fresh records to the relay's own post-commit publish. It is measured from the raise time, not the commit.
func WithSweeperGracePeriod(grace time.Duration) SweeperOption {
	return func(o *sweeperOptions) {
		if grace >= 0 {
			o.gracePeriod = grace
		}
	}
}

func WithSweeperPublishTimeout(timeout time.Duration) SweeperOption {
	return func(o *sweeperOptions) {
		if timeout > 0 {
			o.publishTimeout = timeout
		}
	}
}

func WithSweeperMaxConcurrency(n int) SweeperOption {
	return func(o *sweeperOptions) {
		o.maxConcurrency = n
	}
}

// WithSweeperRateLimit throttles re-publishing to perSecond events with the given burst.
func WithSweeperRateLimit(perSecond float64, burst int) SweeperOption {
	return func(o *sweeperOptions) {
		if perSecond > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(o *sweeperOptions) {
		if now != nil {
			o.now = now
		}
	}
}

//
// Breaker Options
//

type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	name             string
	failureThreshold uint32
	openTimeout      time.Duration
	logger           *zap.Logger
	metrics          MetricsCollector
}

func WithBreakerName(name string) BreakerOption {
	return func(o *breakerOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithBreakerFailureThreshold sets how many consecutive failures open the circuit.
func WithBreakerFailureThreshold(n uint32) BreakerOption {
	return func(o *breakerOptions) {
		if n > 0 {
			o.failureThreshold = n
		}
	}
}

// WithBreakerOpenTimeout sets how long the circuit stays open before a probe is let through.
func WithBreakerOpenTimeout(timeout time.Duration) BreakerOption {
	return func(o *breakerOptions) {
		if timeout > 0 {
			o.openTimeout = timeout
		}
	}
}

func WithBreakerLogger(logger *zap.Logger) BreakerOption {
	return func(o *breakerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithBreakerMetrics(metrics MetricsCollector) BreakerOption {
	return func(o *breakerOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

//
// KafkaPublisher Options
//

type KafkaPublisherOption func(*KafkaPublisher)

func WithKafkaProducerProps(props kafka.ConfigMap) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		for k, v := range props {
			p.producerProps[k] = v
		}
	}
}

func WithKafkaDefaultTopic(topic string) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		if topic != "" {
			p.defaultTopic = topic
		}
	}
}

func WithKafkaHeaderBuilder(builder KafkaHeaderBuilder) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		if builder != nil {
			p.headerBuilder = builder
		}
	}
}

func WithKafkaTopicResolver(resolver KafkaTopicResolver) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.topicResolver = resolver
	}
}

func WithKafkaFlushTimeout(timeout time.Duration) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		if timeout > 0 {
			p.flushTimeout = timeout
		}
	}
}

//
// Worker Options
//

type WorkerOption func(*BaseWorker)

// WithWorkerJitter spreads runs uniformly within interval*(1±fraction). Zero disables jitter.
func WithWorkerJitter(fraction float64) WorkerOption {
	return func(w *BaseWorker) {
		if fraction >= 0 && fraction < 1 {
			w.jitter = fraction
		}
	}
}
