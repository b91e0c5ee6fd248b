package kafkago

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/inbox"
	"github.com/overtonx/eventrelay/storage"
)

// MessageReader is the part of *kafka.Reader the consumer uses. The reader must belong to a consumer group
// so offsets can be committed explicitly.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler applies one message inside the inbox unit of work.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consumer reads messages, deduplicates them through an inbox.Filter and commits the offset only after the
// message was processed or recognised as a duplicate. A failing handler is retried with backoff, so the
// partition does not advance past an unprocessed message.
type Consumer struct {
	reader       MessageReader
	filter       *inbox.Filter
	handler      MessageHandler
	consumerType string
	logger       *zap.Logger
	tracer       trace.Tracer
	minBackoff   time.Duration
	maxBackoff   time.Duration
}

type ConsumerOption func(*Consumer)

func WithConsumerLogger(logger *zap.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryBackoff bounds the exponential delay between attempts of a failing message.
func WithRetryBackoff(minBackoff, maxBackoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if minBackoff > 0 && maxBackoff >= minBackoff {
			c.minBackoff = minBackoff
			c.maxBackoff = maxBackoff
		}
	}
}

// NewReader builds a consumer-group reader for topic.
func NewReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewConsumer(reader MessageReader, filter *inbox.Filter, consumerType string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:       reader,
		filter:       filter,
		handler:      handler,
		consumerType: consumerType,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("eventrelay/kafkago"),
		minBackoff:   500 * time.Millisecond,
		maxBackoff:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the inbox key of msg: the event_id header, falling back to the message key.
func (c *Consumer) Key(msg kafka.Message) storage.InboxKey {
	messageID := HeaderValue(msg.Headers, eventrelay.HeaderEventID)
	if messageID == "" {
		messageID = string(msg.Key)
	}
	return storage.InboxKey{ConsumerType: c.consumerType, MessageID: messageID}
}

// Run consumes until ctx is cancelled. It closes the reader on return.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Kafka fetch failed", zap.Error(err))
			if !sleep(ctx, c.minBackoff) {
				return nil
			}
			continue
		}

		if !c.process(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to commit kafka offset, message will be redelivered",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// process handles msg until it succeeds, is a duplicate or is poison. It reports false when ctx ended first.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	key := c.Key(msg)
	correlationID := HeaderValue(msg.Headers, eventrelay.HeaderCorrelationID)
	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
		zap.String("message_id", key.MessageID),
	}

	backoff := c.minBackoff
	for {
		msgCtx, span := c.tracer.Start(ExtractTraceContext(ctx, msg), "kafka.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
				attribute.String("messaging.message_id", key.MessageID),
			),
		)

		result, err := c.filter.Handle(msgCtx, key, correlationID, func(ctx context.Context) error {
			return c.handler(ctx, msg)
		})
		if err == nil {
			span.SetAttributes(attribute.String("inbox.result", result.String()))
			span.End()
			return true
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		if errors.Is(err, inbox.ErrInvalidKey) {
			c.logger.Error("Skipping message without a usable id", append(fields, zap.Error(err))...)
			return true
		}

		c.logger.Warn("Message handling failed, retrying", append(fields, zap.Duration("backoff", backoff), zap.Error(err))...)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
