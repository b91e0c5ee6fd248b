package eventrelay

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BaseWorker runs workFunc periodically until Stop is called or its context is cancelled.
// A failing or panicking run is logged and the loop goes on with the next one.
type BaseWorker struct {
	name     string
	interval time.Duration
	jitter   float64
	logger   *zap.Logger
	workFunc func(ctx context.Context) error

	wg       sync.WaitGroup
	mu       sync.Mutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

func NewBaseWorker(name string, interval time.Duration, logger *zap.Logger, workFunc func(ctx context.Context) error, opts ...WorkerOption) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultWorkerInterval
	}
	w := &BaseWorker{
		name:     name,
		interval: interval,
		jitter:   defaultWorkerJitter,
		logger:   logger,
		workFunc: workFunc,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// nextDelay draws the wait before the next run from [interval*(1-jitter), interval*(1+jitter)].
func (w *BaseWorker) nextDelay() time.Duration {
	spread := time.Duration(float64(w.interval) * w.jitter)
	if spread <= 0 {
		return w.interval
	}
	return w.interval - spread + rand.N(2*spread+1)
}

// Start blocks, running the work function until ctx is done or Stop is called.
func (w *BaseWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("name", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("Worker starting",
		zap.String("name", w.name),
		zap.Duration("interval", w.interval),
		zap.Float64("jitter", w.jitter),
	)
	defer w.logger.Info("Worker finished", zap.String("name", w.name))

	timer := time.NewTimer(w.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-timer.C:
			if !w.run(ctx) {
				return
			}
			timer.Reset(w.nextDelay())
		}
	}
}

// run executes one iteration. It reports false when the worker is shutting down.
func (w *BaseWorker) run(ctx context.Context) bool {
	w.mu.Lock()
	select {
	case <-w.stopChan:
		w.mu.Unlock()
		return false
	case <-ctx.Done():
		w.mu.Unlock()
		return false
	default:
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Worker function panicked", zap.String("name", w.name), zap.Any("panic", r))
		}
	}()

	if err := w.workFunc(ctx); err != nil {
		w.logger.Error("Worker function failed", zap.String("name", w.name), zap.Error(err))
	}
	return true
}

// Stop signals the loop to exit and waits for the run in progress. Safe to call more than once.
func (w *BaseWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		close(w.stopChan)
		w.mu.Unlock()
		w.wg.Wait()
	})
}

func (w *BaseWorker) Name() string {
	return w.name
}
