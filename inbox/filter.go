// Package inbox makes message handlers idempotent. A ledger of (consumer type, message id) keys is written in the
// same transaction as the handler's effects, so a redelivered message is recognised and skipped.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/storage"
)

const maxKeyPartLength = 255

// Result tells the caller what Handle did with a message.
type Result int

const (
	ResultProcessed Result = iota + 1
	ResultDuplicate
)

func (r Result) String() string {
	switch r {
	case ResultProcessed:
		return "processed"
	case ResultDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Handler applies the effects of one message using the transaction carried by ctx.
type Handler func(ctx context.Context) error

// Filter runs each distinct message through its handler at most once per consumer type.
type Filter struct {
	ledger  storage.InboxLedger
	uow     UnitOfWork
	logger  *zap.Logger
	metrics eventrelay.MetricsCollector
	now     func() time.Time
}

func NewFilter(ledger storage.InboxLedger, uow UnitOfWork, opts ...FilterOption) (*Filter, error) {
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if uow == nil {
		return nil, ErrUnitOfWorkRequired
	}

	f := &Filter{
		ledger:  ledger,
		uow:     uow,
		logger:  zap.NewNop(),
		metrics: eventrelay.NewNopMetricsCollector(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Handle checks the ledger, runs handler and records key, all in one unit of work.
//
// A key already in the ledger yields ResultDuplicate without calling handler. A handler error rolls the unit
// back and is returned, so the message can be redelivered. When a concurrent delivery of the same message
// commits first, the insert hits the unique key: everything done here is rolled back and ResultDuplicate is
// returned with a nil error.
func (f *Filter) Handle(ctx context.Context, key storage.InboxKey, correlationID string, handler Handler) (Result, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	fields := []zap.Field{
		zap.String("consumer_type", key.ConsumerType),
		zap.String("message_id", key.MessageID),
		zap.String("correlation_id", correlationID),
	}
	tags := map[string]string{"consumer_type": key.ConsumerType}

	var (
		duplicate bool
		raced     bool
	)
	err := f.uow.Execute(ctx, correlationID, func(ctx context.Context) error {
		seen, err := f.ledger.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to check inbox ledger: %w", err)
		}
		if seen {
			duplicate = true
			return nil
		}

		if err := handler(ctx); err != nil {
			f.metrics.IncrementCounter(eventrelay.MetricInboxHandlerFailed, tags)
			return fmt.Errorf("failed to handle message %s: %w", key.MessageID, err)
		}

		err = f.ledger.Record(ctx, storage.InboxRecord{InboxKey: key, ConsumedAt: f.now().UTC()})
		if errors.Is(err, storage.ErrAlreadyRecorded) {
			raced = true
		}
		return err
	})

	switch {
	case raced:
		f.logger.Info("Message was handled concurrently by another delivery, changes rolled back", fields...)
		f.metrics.IncrementCounter(eventrelay.MetricInboxDuplicate, tags)
		return ResultDuplicate, nil
	case err != nil:
		return 0, err
	case duplicate:
		f.logger.Info("Skipping already handled message", fields...)
		f.metrics.IncrementCounter(eventrelay.MetricInboxDuplicate, tags)
		return ResultDuplicate, nil
	}

	f.metrics.IncrementCounter(eventrelay.MetricInboxProcessed, tags)
	return ResultProcessed, nil
}

func validateKey(key storage.InboxKey) error {
	switch {
	case strings.TrimSpace(key.ConsumerType) == "":
		return fmt.Errorf("%w: consumer type is empty", ErrInvalidKey)
	case strings.TrimSpace(key.MessageID) == "":
		return fmt.Errorf("%w: message id is empty", ErrInvalidKey)
	case len(key.ConsumerType) > maxKeyPartLength, len(key.MessageID) > maxKeyPartLength:
		return fmt.Errorf("%w: key part longer than %d bytes", ErrInvalidKey, maxKeyPartLength)
	}
	return nil
}
