package eventrelay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type captureKey struct{}

// captureBuffer is the FIFO of events raised during one operation.
type captureBuffer struct {
	mu     sync.Mutex
	events []Event
}

// Prepare returns a context carrying a fresh, empty capture buffer.
// Everything that runs with the returned context (or a child of it) raises into the same buffer;
// operations started from other contexts never see it.
func Prepare(ctx context.Context) context.Context {
	return context.WithValue(ctx, captureKey{}, &captureBuffer{})
}

// HasCaptureScope reports whether ctx carries a buffer installed by Prepare.
func HasCaptureScope(ctx context.Context) bool {
	_, ok := ctx.Value(captureKey{}).(*captureBuffer)
	return ok
}

// Raise appends event to the operation's buffer. It never performs I/O.
// Missing id or timestamp are stamped here.
func Raise(ctx context.Context, event Event) error {
	buf, ok := ctx.Value(captureKey{}).(*captureBuffer)
	if !ok {
		return ErrNoCaptureScope
	}
	if event.Payload == nil {
		return ErrEventPayloadRequired
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	buf.mu.Lock()
	buf.events = append(buf.events, event)
	buf.mu.Unlock()
	return nil
}

// Capture removes and returns everything raised so far, in raise order.
func Capture(ctx context.Context) []Event {
	buf, ok := ctx.Value(captureKey{}).(*captureBuffer)
	if !ok {
		return nil
	}

	buf.mu.Lock()
	events := buf.events
	buf.events = nil
	buf.mu.Unlock()
	return events
}
