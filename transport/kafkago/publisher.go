// Package kafkago carries outbox events over Kafka with github.com/segmentio/kafka-go and feeds inbound
// messages through the inbox filter.
package kafkago

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/storage"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TopicResolver picks the destination topic for record. An empty result selects the default topic.
type TopicResolver func(record storage.OutboxRecord) string

var _ eventrelay.Publisher = (*Publisher)(nil)

// Publisher writes each record synchronously; WriteMessages returns once the broker acknowledged it.
type Publisher struct {
	writer        MessageWriter
	logger        *zap.Logger
	defaultTopic  string
	topicResolver TopicResolver
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithDefaultTopic(topic string) PublisherOption {
	return func(p *Publisher) {
		if topic != "" {
			p.defaultTopic = topic
		}
	}
}

func WithTopicResolver(resolver TopicResolver) PublisherOption {
	return func(p *Publisher) {
		p.topicResolver = resolver
	}
}

// NewWriter builds a kafka.Writer suited to outbox delivery: hash balancing on the correlation id key
// and acknowledgement from all in-sync replicas.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           5 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(writer MessageWriter, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		writer:       writer,
		logger:       zap.NewNop(),
		defaultTopic: "domain-events",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) message(record storage.OutboxRecord) kafka.Message {
	topic := p.defaultTopic
	if p.topicResolver != nil {
		if t := p.topicResolver(record); t != "" {
			topic = t
		}
	}

	headers := []kafka.Header{
		{Key: eventrelay.HeaderEventID, Value: []byte(record.EventID.String())},
		{Key: eventrelay.HeaderEventType, Value: []byte(record.EventType)},
		{Key: eventrelay.HeaderCorrelationID, Value: []byte(record.CorrelationID)},
		{Key: eventrelay.HeaderOccurredAt, Value: []byte(record.OccurredAt.UTC().Format(time.RFC3339Nano))},
	}
	for k, v := range eventrelay.StoredHeaders(record) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(record.CorrelationID),
		Value:   record.Payload,
		Headers: headers,
		Time:    record.OccurredAt,
	}
}

func (p *Publisher) Publish(ctx context.Context, record storage.OutboxRecord) error {
	msg := p.message(record)
	p.logger.Debug("Publishing event to Kafka",
		zap.String("event_id", record.EventID.String()),
		zap.String("event_type", record.EventType),
		zap.String("topic", msg.Topic),
	)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
