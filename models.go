package eventrelay

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable domain fact raised by business code.
// Payload must be a type known to the relay's Serializer.
type Event struct {
	ID         uuid.UUID
	OccurredAt time.Time
	Payload    any
}

// NewEvent stamps a fresh id and the current UTC time on payload.
func NewEvent(payload any) Event {
	return Event{
		ID:         uuid.New(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}
