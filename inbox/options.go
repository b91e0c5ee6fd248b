package inbox

import (
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
)

type FilterOption func(*Filter)

func WithFilterLogger(logger *zap.Logger) FilterOption {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithFilterMetrics(metrics eventrelay.MetricsCollector) FilterOption {
	return func(f *Filter) {
		if metrics != nil {
			f.metrics = metrics
		}
	}
}

func WithFilterClock(now func() time.Time) FilterOption {
	return func(f *Filter) {
		if now != nil {
			f.now = now
		}
	}
}

type CleanerOption func(*Cleaner)

func WithCleanerLogger(logger *zap.Logger) CleanerOption {
	return func(c *Cleaner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithCleanerMetrics(metrics eventrelay.MetricsCollector) CleanerOption {
	return func(c *Cleaner) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

func WithCleanerRetention(retention time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if retention > 0 {
			c.retention = retention
		}
	}
}

func WithCleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		if now != nil {
			c.now = now
		}
	}
}
