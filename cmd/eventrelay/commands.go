package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/inbox"
	"github.com/overtonx/eventrelay/internal/config"
	"github.com/overtonx/eventrelay/internal/metrics"
	"github.com/overtonx/eventrelay/storage/sqlstore"
)

const shutdownTimeout = 15 * time.Second

// app holds the dependencies shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *sqlstore.SQLStore
	closeDB func() error
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, dialect, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   sqlstore.NewSQLStore(db, dialect, sqlstore.WithLogger(logger)),
		closeDB: db.Close,
	}, nil
}

func (a *app) close() {
	if err := a.closeDB(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func runMigrate(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return a.store.EnsureTables(ctx)
}

func runSweepOnce(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	publisher, err := newPublisher(a.cfg.Publisher, a.logger, eventrelay.NewNopMetricsCollector())
	if err != nil {
		return err
	}
	defer closePublisher(publisher, a.logger)

	sweeper, err := newSweeper(a.cfg, a.store, publisher, a.logger, eventrelay.NewNopMetricsCollector())
	if err != nil {
		return err
	}
	return sweeper.Sweep(ctx)
}

func runCleanupOnce(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cleaner, err := newCleaner(a.cfg.Inbox, a.store, a.logger, eventrelay.NewNopMetricsCollector())
	if err != nil {
		return err
	}
	return cleaner.Cleanup(ctx)
}

// runWorkers blocks until SIGINT or SIGTERM, then stops every worker and flushes the publisher.
func runWorkers(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var collector eventrelay.MetricsCollector = eventrelay.NewNopMetricsCollector()
	var provider *metrics.Provider
	if a.cfg.Metrics.Enabled {
		provider, err = metrics.NewProvider()
		if err != nil {
			return err
		}
		otel.SetMeterProvider(provider.MeterProvider())
		collector = eventrelay.NewOpenTelemetryMetricsCollectorWithMeter(provider.MeterProvider().Meter("eventrelay"))
	}

	publisher, err := newPublisher(a.cfg.Publisher, a.logger, collector)
	if err != nil {
		return err
	}
	defer closePublisher(publisher, a.logger)

	dispatcher := eventrelay.NewDispatcher(a.logger)

	if a.cfg.Sweeper.Enabled {
		sweeper, err := newSweeper(a.cfg, a.store, publisher, a.logger, collector)
		if err != nil {
			return err
		}
		dispatcher.Add(sweeper.Worker(a.cfg.Sweeper.Interval, eventrelay.WithWorkerJitter(a.cfg.Sweeper.Jitter)))
	}

	if a.cfg.Inbox.CleanerEnabled {
		cleaner, err := newCleaner(a.cfg.Inbox, a.store, a.logger, collector)
		if err != nil {
			return err
		}
		dispatcher.Add(cleaner.Worker(a.cfg.Inbox.CleanupInterval))
	}

	a.logger.Info("Starting eventrelay",
		zap.String("version", version),
		zap.String("transport", a.cfg.Publisher.Transport),
		zap.Bool("sweeper", a.cfg.Sweeper.Enabled),
		zap.Bool("inbox_cleaner", a.cfg.Inbox.CleanerEnabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	if provider != nil {
		g.Go(func() error {
			return provider.Serve(gctx, a.cfg.Metrics.Addr, a.logger)
		})
	}
	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})

	err = g.Wait()

	if provider != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if shutdownErr := provider.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Warn("Failed to shut down meter provider", zap.Error(shutdownErr))
		}
	}

	a.logger.Info("eventrelay stopped")
	if err != nil {
		return fmt.Errorf("eventrelay stopped with error: %w", err)
	}
	return nil
}

func newSweeper(
	cfg *config.Config,
	store *sqlstore.SQLStore,
	publisher eventrelay.Publisher,
	logger *zap.Logger,
	collector eventrelay.MetricsCollector,
) (*eventrelay.Sweeper, error) {
	opts := []eventrelay.SweeperOption{
		eventrelay.WithSweeperLogger(logger),
		eventrelay.WithSweeperMetrics(collector),
		eventrelay.WithSweeperBatchSize(cfg.Sweeper.BatchSize),
		eventrelay.WithSweeperGracePeriod(cfg.Sweeper.GracePeriod),
		eventrelay.WithSweeperPublishTimeout(cfg.Publisher.PublishTimeout),
	}
	if cfg.Sweeper.RateLimit > 0 {
		opts = append(opts, eventrelay.WithSweeperRateLimit(cfg.Sweeper.RateLimit, cfg.Sweeper.RateBurst))
	}
	return eventrelay.NewSweeper(store, publisher, opts...)
}

func newCleaner(
	cfg config.InboxConfig,
	store *sqlstore.SQLStore,
	logger *zap.Logger,
	collector eventrelay.MetricsCollector,
) (*inbox.Cleaner, error) {
	return inbox.NewCleaner(store,
		inbox.WithCleanerLogger(logger),
		inbox.WithCleanerMetrics(collector),
		inbox.WithCleanerRetention(cfg.Retention),
	)
}

func closePublisher(publisher eventrelay.Publisher, logger *zap.Logger) {
	if err := publisher.Close(); err != nil {
		logger.Warn("Failed to close publisher", zap.Error(err))
	}
}
