package eventrelay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

type orderCancelled struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func TestRaise_WithoutScope(t *testing.T) {
	err := Raise(context.Background(), NewEvent(orderPlaced{OrderID: "o-1"}))
	assert.ErrorIs(t, err, ErrNoCaptureScope)
	assert.False(t, HasCaptureScope(context.Background()))
	assert.Nil(t, Capture(context.Background()))
}

func TestRaise_NilPayload(t *testing.T) {
	ctx := Prepare(context.Background())
	assert.ErrorIs(t, Raise(ctx, Event{}), ErrEventPayloadRequired)
	assert.Empty(t, Capture(ctx))
}

func TestCapture_ReturnsRaiseOrderAndEmpties(t *testing.T) {
	ctx := Prepare(context.Background())
	require.True(t, HasCaptureScope(ctx))

	first := NewEvent(orderPlaced{OrderID: "o-1"})
	second := NewEvent(orderCancelled{OrderID: "o-1"})
	require.NoError(t, Raise(ctx, first))
	require.NoError(t, Raise(ctx, second))

	events := Capture(ctx)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, second.ID, events[1].ID)

	assert.Empty(t, Capture(ctx), "second capture must be empty")
}

func TestRaise_StampsMissingIdentity(t *testing.T) {
	ctx := Prepare(context.Background())
	before := time.Now()
	require.NoError(t, Raise(ctx, Event{Payload: orderPlaced{OrderID: "o-2"}}))

	events := Capture(ctx)
	require.Len(t, events, 1)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.False(t, events[0].OccurredAt.Before(before.Add(-time.Second)))
}

func TestPrepare_ChildContextsShareBuffer(t *testing.T) {
	ctx := Prepare(context.Background())
	child, cancel := context.WithCancel(ctx)
	defer cancel()

	require.NoError(t, Raise(child, NewEvent(orderPlaced{OrderID: "o-3"})))
	assert.Len(t, Capture(ctx), 1)
}

func TestPrepare_ConcurrentOperationsAreIsolated(t *testing.T) {
	const operations = 20
	results := make([][]Event, operations)

	var wg sync.WaitGroup
	for i := range operations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := Prepare(context.Background())
			for range i + 1 {
				_ = Raise(ctx, NewEvent(orderPlaced{OrderID: "o"}))
			}
			results[i] = Capture(ctx)
		}()
	}
	wg.Wait()

	for i, events := range results {
		assert.Len(t, events, i+1, "operation %d saw another operation's events", i)
	}
}

func TestRaise_ConcurrentWithinOneOperation(t *testing.T) {
	ctx := Prepare(context.Background())

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Raise(ctx, NewEvent(orderPlaced{OrderID: "o"}))
		}()
	}
	wg.Wait()

	assert.Len(t, Capture(ctx), 50)
}
