package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/storage"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestPublisher_Publish(t *testing.T) {
	_, client := newTestClient(t)
	publisher := NewPublisher(client, WithStreamResolver(func(r storage.OutboxRecord) string {
		if r.EventType == "order.placed" {
			return "orders"
		}
		return ""
	}))
	defer publisher.Close()

	record := storage.OutboxRecord{
		EventID:       uuid.New(),
		CorrelationID: "corr-1",
		EventType:     "order.placed",
		Payload:       []byte(`{"order_id":"o-1"}`),
		Headers:       []byte(`{"tenant":"acme"}`),
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	require.NoError(t, publisher.Publish(ctx, record))

	entries, err := client.XRange(ctx, "orders", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, record.EventID.String(), values["event_id"])
	assert.Equal(t, "order.placed", values["event_type"])
	assert.Equal(t, "corr-1", values["correlation_id"])
	assert.Equal(t, "2026-03-01T12:00:00Z", values["occurred_at"])
	assert.Equal(t, `{"order_id":"o-1"}`, values["payload"])
	assert.Equal(t, "acme", values["header.tenant"])

	record.EventType = "user.created"
	require.NoError(t, publisher.Publish(ctx, record))
	n, err := client.XLen(ctx, "domain-events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPublisher_PublishFailsWhenRedisIsDown(t *testing.T) {
	mr, client := newTestClient(t)
	publisher := NewPublisher(client)
	defer publisher.Close()

	mr.Close()

	err := publisher.Publish(context.Background(), storage.OutboxRecord{EventID: uuid.New(), Payload: []byte(`{}`)})
	assert.Error(t, err)
}

func TestPublisher_Options(t *testing.T) {
	_, client := newTestClient(t)
	publisher := NewPublisher(client, WithDefaultStream("events"), WithMaxLen(1000), WithMaxLen(-1))
	defer publisher.Close()

	assert.Equal(t, "events", publisher.defaultStream)
	assert.Equal(t, int64(1000), publisher.maxLen)
}
