package eventrelay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/overtonx/eventrelay/storage"
)

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, record storage.OutboxRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// funcPublisher delegates to fn and tracks how many calls are in flight.
type funcPublisher struct {
	fn          func(ctx context.Context, record storage.OutboxRecord) error
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (p *funcPublisher) Publish(ctx context.Context, record storage.OutboxRecord) error {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		current := p.maxInFlight.Load()
		if n <= current || p.maxInFlight.CompareAndSwap(current, n) {
			break
		}
	}
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, record)
}

func (p *funcPublisher) Close() error { return nil }

// fakeTxManager runs fn directly and counts commits and rollbacks.
type fakeTxManager struct {
	mu         sync.Mutex
	begun      int
	committed  int
	rolledBack int
}

func (m *fakeTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.begun++
	m.mu.Unlock()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rolledBack++
		return err
	}
	m.committed++
	return nil
}

func (m *fakeTxManager) counts() (begun, committed, rolledBack int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begun, m.committed, m.rolledBack
}
