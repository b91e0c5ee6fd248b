package eventrelay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher owns the background workers of a process (the outbox sweeper and the inbox cleaner)
// and shuts them down together.
type Dispatcher struct {
	logger *zap.Logger

	mu      sync.Mutex
	workers []Worker
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewDispatcher(logger *zap.Logger, workers ...Worker) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:  logger,
		workers: workers,
	}
}

// Add registers a worker. Workers added after Start are ignored until the next Start.
func (d *Dispatcher) Add(worker Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers = append(d.workers, worker)
}

// Start runs every worker and blocks until ctx is cancelled or Stop is called, then waits for all of them.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		d.logger.Warn("Dispatcher already started")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true
	workers := append([]Worker(nil), d.workers...)
	d.mu.Unlock()

	d.logger.Info("Dispatcher starting", zap.Int("worker_count", len(workers)))

	var wg sync.WaitGroup
	for _, worker := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Start(ctx)
			d.logger.Info("Worker stopped", zap.String("worker_name", worker.Name()))
		}()
	}

	<-ctx.Done()
	for _, worker := range workers {
		worker.Stop()
	}
	wg.Wait()
	cancel()

	d.mu.Lock()
	d.started = false
	close(d.done)
	d.mu.Unlock()

	d.logger.Info("Dispatcher stopped")
}

// Stop ends a running Start and waits for it to return. It is a no-op when the dispatcher is not running.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
}

func (d *Dispatcher) IsStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}
