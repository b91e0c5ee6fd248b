package eventrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	trmcontext "github.com/avito-tech/go-transaction-manager/trm/v2/context"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/storage"
)

// Relay stores the events raised by an operation in the operation's own transaction and publishes them right
// after the commit. Delivery is at-least-once: a crash between commit and MarkPublished leaves the records for
// the Sweeper, which publishes them again.
type Relay struct {
	store      storage.OutboxStore
	txManager  TxManager
	serializer Serializer
	fanout     *fanout
	logger     *zap.Logger
	metrics    MetricsCollector
}

func NewRelay(store storage.OutboxStore, txManager TxManager, publisher Publisher, serializer Serializer, opts ...RelayOption) (*Relay, error) {
	switch {
	case store == nil:
		return nil, ErrStoreRequired
	case txManager == nil:
		return nil, ErrTxManagerRequired
	case publisher == nil:
		return nil, ErrPublisherRequired
	case serializer == nil:
		return nil, ErrSerializerRequired
	}

	o := &relayOptions{
		logger:         zap.NewNop(),
		metrics:        NewNopMetricsCollector(),
		publishTimeout: defaultPublishTimeout,
		maxConcurrency: defaultPublishConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Relay{
		store:      store,
		txManager:  txManager,
		serializer: serializer,
		logger:     o.logger,
		metrics:    o.metrics,
		fanout: &fanout{
			publisher: publisher,
			logger:    o.logger,
			metrics:   o.metrics,
			timeout:   o.publishTimeout,
			limit:     o.maxConcurrency,
			detach:    true,
			source:    "relay",
		},
	}, nil
}

// Execute runs op as one unit of work. Events raised with Raise(ctx, ...) inside op are stored before the
// commit and published after it. If op fails nothing is stored or published and its error is returned as is.
func (r *Relay) Execute(ctx context.Context, correlationID string, op func(ctx context.Context) error) error {
	ctx = Prepare(ctx)
	return r.run(ctx, correlationID, func(ctx context.Context) ([]Event, error) {
		if err := op(ctx); err != nil {
			return nil, err
		}
		return Capture(ctx), nil
	})
}

// StoreAndPublish stores events in a fresh transaction, commits, then publishes them.
// An empty list still opens and commits the transaction.
func (r *Relay) StoreAndPublish(ctx context.Context, events []Event, correlationID string) error {
	return r.run(ctx, correlationID, func(context.Context) ([]Event, error) {
		return events, nil
	})
}

func (r *Relay) run(ctx context.Context, correlationID string, collect func(ctx context.Context) ([]Event, error)) error {
	if tr := trmcontext.DefaultManager.Default(ctx); tr != nil && tr.IsActive() {
		return ErrNestedUnitOfWork
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var (
		events  []Event
		records []storage.OutboxRecord
	)
	err := r.txManager.Do(ctx, func(ctx context.Context) error {
		var err error
		if events, err = collect(ctx); err != nil {
			return err
		}
		records = r.toRecords(ctx, events, correlationID)
		if len(records) == 0 {
			return nil
		}
		if err := r.store.InsertEvents(ctx, records); err != nil {
			return fmt.Errorf("failed to store outbox records: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(records) > 0 {
		r.metrics.IncrementCounter(MetricRecordsStored, nil)
	}

	outcomes := r.fanout.publish(ctx, records)
	published, err := r.fanout.markPublished(ctx, r.store, records, outcomes)
	if err != nil {
		return err
	}

	if len(events) > 0 {
		r.logger.Debug("Operation events relayed",
			zap.String("correlation_id", correlationID),
			zap.Int("events", len(events)),
			zap.Int("published", published),
			zap.Int("failed", len(events)-published),
		)
	}
	return nil
}

// toRecords converts events to outbox records. An event whose payload cannot be serialized is logged and
// dropped; the rest of the operation proceeds.
func (r *Relay) toRecords(ctx context.Context, events []Event, correlationID string) []storage.OutboxRecord {
	if len(events) == 0 {
		return nil
	}
	headers := traceHeaders(ctx)

	records := make([]storage.OutboxRecord, 0, len(events))
	for _, event := range events {
		eventType, payload, err := r.serializer.Serialize(event.Payload)
		if err != nil {
			r.logger.Error("Failed to serialize event, it will not be stored",
				zap.String("event_id", event.ID.String()),
				zap.String("correlation_id", correlationID),
				zap.String("payload_type", fmt.Sprintf("%T", event.Payload)),
				zap.Error(err),
			)
			r.metrics.IncrementCounter(MetricSerializationFailed, nil)
			continue
		}

		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now()
		}
		records = append(records, storage.OutboxRecord{
			EventID:       event.ID,
			CorrelationID: correlationID,
			EventType:     eventType,
			Payload:       payload,
			Headers:       headers,
			OccurredAt:    event.OccurredAt.UTC(),
		})
	}
	return records
}

// traceHeaders captures the current trace context so consumers can continue the trace.
func traceHeaders(ctx context.Context) []byte {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	data, err := json.Marshal(carrier)
	if err != nil {
		return nil
	}
	return data
}
