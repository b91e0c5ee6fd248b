package inbox

import "errors"

var (
	// ErrInvalidKey is returned by Handle when the consumer type or message id is empty or too long.
	ErrInvalidKey = errors.New("invalid inbox key")

	ErrLedgerRequired     = errors.New("inbox ledger is required")
	ErrUnitOfWorkRequired = errors.New("unit of work is required")
)
