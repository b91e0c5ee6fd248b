package eventrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/storage"
)

// Standard transport header names attached to every published event.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
	HeaderOccurredAt    = "occurred_at"
)

// KafkaHeaderBuilder builds the headers of the Kafka message carrying record.
type KafkaHeaderBuilder func(record storage.OutboxRecord) []kafka.Header

// KafkaTopicResolver picks the destination topic for record. An empty result selects the default topic.
type KafkaTopicResolver func(record storage.OutboxRecord) string

var errUnexpectedDeliveryEvent = errors.New("unexpected kafka delivery event")

// NopPublisher accepts everything. Useful for tests and dry runs.
type NopPublisher struct{}

func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (p *NopPublisher) Publish(context.Context, storage.OutboxRecord) error {
	return nil
}

func (p *NopPublisher) Close() error {
	return nil
}

// KafkaPublisher sends records through a confluent-kafka-go producer.
// Publish returns only after the broker acknowledged the message, so a nil error means the event was delivered.
type KafkaPublisher struct {
	logger        *zap.Logger
	producer      *kafka.Producer
	producerProps kafka.ConfigMap
	defaultTopic  string
	headerBuilder KafkaHeaderBuilder
	topicResolver KafkaTopicResolver
	flushTimeout  time.Duration
}

func NewKafkaPublisher(logger *zap.Logger, opts ...KafkaPublisherOption) (*KafkaPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{
		logger: logger,
		producerProps: kafka.ConfigMap{
			"acks":               "all",
			"retries":            3,
			"linger.ms":          5,
			"enable.idempotence": true,
			"compression.type":   "snappy",
		},
		defaultTopic:  "domain-events",
		headerBuilder: BuildKafkaHeaders,
		flushTimeout:  15 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	producer, err := kafka.NewProducer(&p.producerProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	p.producer = producer

	go p.logProducerErrors()

	return p, nil
}

func (p *KafkaPublisher) topicFor(record storage.OutboxRecord) string {
	if p.topicResolver != nil {
		if topic := p.topicResolver(record); topic != "" {
			return topic
		}
	}
	return p.defaultTopic
}

func (p *KafkaPublisher) message(record storage.OutboxRecord) *kafka.Message {
	topic := p.topicFor(record)
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		// Events of one operation share a partition and keep their relative order within it.
		Key:       []byte(record.CorrelationID),
		Value:     record.Payload,
		Headers:   p.headerBuilder(record),
		Timestamp: record.OccurredAt,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, record storage.OutboxRecord) error {
	message := p.message(record)

	p.logger.Debug("Publishing event to Kafka",
		zap.String("event_id", record.EventID.String()),
		zap.String("event_type", record.EventType),
		zap.String("topic", *message.TopicPartition.Topic),
	)

	delivery := make(chan kafka.Event, 1)
	if err := p.producer.Produce(message, delivery); err != nil {
		return fmt.Errorf("failed to enqueue kafka message: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-delivery:
		return deliveryResult(ev)
	}
}

func deliveryResult(ev kafka.Event) error {
	m, ok := ev.(*kafka.Message)
	if !ok {
		return fmt.Errorf("%w: %v", errUnexpectedDeliveryEvent, ev)
	}
	if m.TopicPartition.Error != nil {
		return fmt.Errorf("kafka delivery failed: %w", m.TopicPartition.Error)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing kafka producer")
	if remaining := p.producer.Flush(int(p.flushTimeout.Milliseconds())); remaining > 0 {
		p.logger.Warn("Kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	p.producer.Close()
	return nil
}

// logProducerErrors drains client-level events. Per-message reports go to the delivery channel given to Produce.
func (p *KafkaPublisher) logProducerErrors() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case kafka.Error:
			p.logger.Error("Kafka error", zap.Error(ev), zap.Bool("fatal", ev.IsFatal()))
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Error("Delivery failed", zap.Error(ev.TopicPartition.Error))
			}
		}
	}
}

// BuildKafkaHeaders is the default KafkaHeaderBuilder. Stored headers (trace context) follow the standard ones.
func BuildKafkaHeaders(record storage.OutboxRecord) []kafka.Header {
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte(record.EventID.String())},
		{Key: HeaderEventType, Value: []byte(record.EventType)},
		{Key: HeaderCorrelationID, Value: []byte(record.CorrelationID)},
		{Key: HeaderOccurredAt, Value: []byte(record.OccurredAt.UTC().Format(time.RFC3339Nano))},
	}
	for k, v := range StoredHeaders(record) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// StoredHeaders decodes the JSON header map persisted with record. Malformed headers yield nil.
func StoredHeaders(record storage.OutboxRecord) map[string]string {
	if len(record.Headers) == 0 {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(record.Headers, &raw); err != nil {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			headers[k] = s
			continue
		}
		headers[k] = fmt.Sprintf("%v", v)
	}
	return headers
}
