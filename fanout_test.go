package eventrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/storage"
)

func newTestFanout(publisher Publisher) *fanout {
	return &fanout{
		publisher: publisher,
		logger:    zap.NewNop(),
		metrics:   NewNopMetricsCollector(),
		timeout:   time.Second,
		source:    "test",
	}
}

func TestFanout_OutcomesKeepInputOrder(t *testing.T) {
	records := unpublished(4)
	failing := records[2].EventID
	f := newTestFanout(&funcPublisher{fn: func(_ context.Context, r storage.OutboxRecord) error {
		if r.EventID == failing {
			return assert.AnError
		}
		return nil
	}})

	assert.Equal(t, []bool{true, true, false, true}, f.publish(context.Background(), records))
	assert.Empty(t, f.publish(context.Background(), nil))
}

func TestFanout_PanickingPublisherIsAFailedOutcome(t *testing.T) {
	f := newTestFanout(&funcPublisher{fn: func(context.Context, storage.OutboxRecord) error {
		panic("boom")
	}})

	assert.Equal(t, []bool{false, false}, f.publish(context.Background(), unpublished(2)))
}

func TestFanout_MarkPublishedRejectsOutcomeMismatch(t *testing.T) {
	f := newTestFanout(NewNopPublisher())
	store := new(storage.MockStore)

	_, err := f.markPublished(context.Background(), store, unpublished(3), []bool{true, true})
	require.ErrorIs(t, err, ErrPublishOutcomeMismatch)
	store.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
}
