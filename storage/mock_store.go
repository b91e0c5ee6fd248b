package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the OutboxStore interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertEvents(ctx context.Context, records []OutboxRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockStore) MarkPublished(ctx context.Context, eventIDs []uuid.UUID) error {
	args := m.Called(ctx, eventIDs)
	return args.Error(0)
}

func (m *MockStore) FetchUnpublished(ctx context.Context, occurredBefore time.Time, limit int) ([]OutboxRecord, error) {
	args := m.Called(ctx, occurredBefore, limit)
	records, _ := args.Get(0).([]OutboxRecord)
	return records, args.Error(1)
}

// MockLedger is a mock implementation of the InboxLedger interface for testing.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Exists(ctx context.Context, key InboxKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) Record(ctx context.Context, record InboxRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockLedger) DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
