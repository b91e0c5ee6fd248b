package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEventAlreadyExists is returned when an outbox record with the same event_id is inserted twice.
	ErrEventAlreadyExists = errors.New("event already exists")
	// ErrAlreadyRecorded is returned when the inbox ledger already holds the (consumer type, message id) key.
	ErrAlreadyRecorded = errors.New("message already recorded")
	// ErrTransactionRequired is returned when a write that must join the caller's transaction finds none in ctx.
	ErrTransactionRequired = errors.New("transaction is required")
)

// OutboxStore persists raised events next to the business rows that caused them.
type OutboxStore interface {
	// InsertEvents stores records using the transaction carried by ctx.
	InsertEvents(ctx context.Context, records []OutboxRecord) error
	// MarkPublished flips published to true for the given events. It never reverts a flag.
	MarkPublished(ctx context.Context, eventIDs []uuid.UUID) error
	// FetchUnpublished returns records still unpublished that occurred before the given time, oldest first.
	FetchUnpublished(ctx context.Context, occurredBefore time.Time, limit int) ([]OutboxRecord, error)
}

// InboxLedger remembers which messages each consumer has already handled.
type InboxLedger interface {
	// Exists reports whether key is already recorded, reading through the transaction carried by ctx.
	Exists(ctx context.Context, key InboxKey) (bool, error)
	// Record inserts the key. A uniqueness conflict yields ErrAlreadyRecorded.
	Record(ctx context.Context, record InboxRecord) error
	// DeleteConsumedBefore purges records consumed strictly before cutoff.
	DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutboxRecord is the stored form of one raised event.
type OutboxRecord struct {
	EventID       uuid.UUID
	CorrelationID string
	EventType     string
	Payload       []byte
	Headers       []byte
	OccurredAt    time.Time
	Published     bool
}

// InboxKey is the natural key of the ledger.
type InboxKey struct {
	ConsumerType string
	MessageID    string
}

// InboxRecord is one handled message.
type InboxRecord struct {
	InboxKey
	ConsumedAt time.Time
}
