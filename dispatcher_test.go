package eventrelay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// stubWorker blocks in Start until stopped or cancelled.
type stubWorker struct {
	name        string
	startCalled chan struct{}
	stopCalled  chan struct{}
	stopOnce    sync.Once
	stopChan    chan struct{}
}

func newStubWorker(name string) *stubWorker {
	return &stubWorker{
		name:        name,
		startCalled: make(chan struct{}, 1),
		stopCalled:  make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

func (w *stubWorker) Name() string { return w.name }

func (w *stubWorker) Start(ctx context.Context) {
	w.startCalled <- struct{}{}
	select {
	case <-ctx.Done():
	case <-w.stopChan:
	}
}

func (w *stubWorker) Stop() {
	w.stopOnce.Do(func() {
		w.stopCalled <- struct{}{}
		close(w.stopChan)
	})
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("%s did not happen", what)
	}
}

func TestDispatcher_StartAndStop(t *testing.T) {
	sweeper := newStubWorker("outbox-sweeper")
	cleaner := newStubWorker("inbox-cleaner")
	dispatcher := NewDispatcher(zap.NewNop(), sweeper, cleaner)
	assert.False(t, dispatcher.IsStarted())

	done := make(chan struct{})
	go func() {
		dispatcher.Start(context.Background())
		close(done)
	}()

	waitSignal(t, sweeper.startCalled, "sweeper start")
	waitSignal(t, cleaner.startCalled, "cleaner start")
	assert.True(t, dispatcher.IsStarted())

	dispatcher.Stop()

	waitSignal(t, sweeper.stopCalled, "sweeper stop")
	waitSignal(t, cleaner.stopCalled, "cleaner stop")
	waitSignal(t, done, "dispatcher shutdown")
	assert.False(t, dispatcher.IsStarted())
}

func TestDispatcher_ContextCancellation(t *testing.T) {
	worker := newStubWorker("sweeper")
	dispatcher := NewDispatcher(nil, worker)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	dispatcher.Start(ctx)

	waitSignal(t, worker.stopCalled, "worker stop after cancellation")
	assert.False(t, dispatcher.IsStarted())
}

func TestDispatcher_StartTwiceAndStopTwice(t *testing.T) {
	worker := newStubWorker("sweeper")
	dispatcher := NewDispatcher(zap.NewNop())
	dispatcher.Add(worker)

	go dispatcher.Start(context.Background())
	waitSignal(t, worker.startCalled, "worker start")

	dispatcher.Start(context.Background())
	assert.True(t, dispatcher.IsStarted())

	dispatcher.Stop()
	assert.False(t, dispatcher.IsStarted())

	dispatcher.Stop()
	assert.False(t, dispatcher.IsStarted())
}
