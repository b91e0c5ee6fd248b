package eventrelay

import "errors"

var (
	// ErrNoCaptureScope is returned by Raise when ctx was not produced by Prepare.
	ErrNoCaptureScope = errors.New("no event capture scope prepared")
	// ErrEventPayloadRequired is returned when an event carries no payload.
	ErrEventPayloadRequired = errors.New("event payload is required")

	ErrEventTypeRequired          = errors.New("event type is required")
	ErrEventTypeAlreadyRegistered = errors.New("event type already registered")
	ErrEventTypeNotRegistered     = errors.New("event type is not registered")

	// ErrPublishOutcomeMismatch signals a broken internal contract: a batch got a different number of publish
	// outcomes than records. It is not retryable.
	ErrPublishOutcomeMismatch = errors.New("publish outcome count does not match record count")
	// ErrNestedUnitOfWork is returned when the relay is asked to run inside a transaction it does not own.
	// The relay must commit before it publishes.
	ErrNestedUnitOfWork = errors.New("relay cannot run inside an outer transaction")

	ErrStoreRequired      = errors.New("outbox store is required")
	ErrTxManagerRequired  = errors.New("transaction manager is required")
	ErrPublisherRequired  = errors.New("publisher is required")
	ErrSerializerRequired = errors.New("serializer is required")
)
