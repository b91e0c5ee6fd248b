// Package redisstream publishes outbox events to Redis streams with XADD.
package redisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/storage"
)

// Stream entry fields. Stored headers are added as "header.<name>".
const (
	FieldPayload      = "payload"
	headerFieldPrefix = "header."
)

var _ eventrelay.Publisher = (*Publisher)(nil)

type Publisher struct {
	client         redis.UniversalClient
	logger         *zap.Logger
	defaultStream  string
	streamResolver func(record storage.OutboxRecord) string
	maxLen         int64
}

type Option func(*Publisher)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithDefaultStream(stream string) Option {
	return func(p *Publisher) {
		if stream != "" {
			p.defaultStream = stream
		}
	}
}

// WithStreamResolver picks the stream per record. An empty result selects the default stream.
func WithStreamResolver(resolver func(record storage.OutboxRecord) string) Option {
	return func(p *Publisher) {
		p.streamResolver = resolver
	}
}

// WithMaxLen caps each stream at roughly n entries. Zero keeps streams unbounded.
func WithMaxLen(n int64) Option {
	return func(p *Publisher) {
		if n >= 0 {
			p.maxLen = n
		}
	}
}

func NewPublisher(client redis.UniversalClient, opts ...Option) *Publisher {
	p := &Publisher{
		client:        client,
		logger:        zap.NewNop(),
		defaultStream: "domain-events",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) stream(record storage.OutboxRecord) string {
	if p.streamResolver != nil {
		if s := p.streamResolver(record); s != "" {
			return s
		}
	}
	return p.defaultStream
}

func (p *Publisher) Publish(ctx context.Context, record storage.OutboxRecord) error {
	values := map[string]any{
		eventrelay.HeaderEventID:       record.EventID.String(),
		eventrelay.HeaderEventType:     record.EventType,
		eventrelay.HeaderCorrelationID: record.CorrelationID,
		eventrelay.HeaderOccurredAt:    record.OccurredAt.UTC().Format(time.RFC3339Nano),
		FieldPayload:                   string(record.Payload),
	}
	for k, v := range eventrelay.StoredHeaders(record) {
		values[headerFieldPrefix+k] = v
	}

	args := &redis.XAddArgs{
		Stream: p.stream(record),
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to add event to redis stream %s: %w", args.Stream, err)
	}

	p.logger.Debug("Event added to redis stream",
		zap.String("event_id", record.EventID.String()),
		zap.String("stream", args.Stream),
		zap.String("entry_id", id),
	)
	return nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
