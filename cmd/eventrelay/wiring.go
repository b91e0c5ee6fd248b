package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/internal/config"
	"github.com/overtonx/eventrelay/storage/sqlstore"
	"github.com/overtonx/eventrelay/transport/kafkago"
	"github.com/overtonx/eventrelay/transport/redisstream"
)

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Named("eventrelay"), nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, sqlstore.Dialect, error) {
	dialect, err := sqlstore.DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, 0, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, 0, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, dialect, nil
}

// newPublisher builds the configured transport, wrapped in a circuit breaker when enabled.
func newPublisher(cfg config.PublisherConfig, logger *zap.Logger, collector eventrelay.MetricsCollector) (eventrelay.Publisher, error) {
	var (
		publisher eventrelay.Publisher
		err       error
	)

	switch cfg.Transport {
	case config.TransportKafka:
		publisher, err = eventrelay.NewKafkaPublisher(logger,
			eventrelay.WithKafkaProducerProps(kafka.ConfigMap{"bootstrap.servers": cfg.KafkaBrokers}),
			eventrelay.WithKafkaDefaultTopic(cfg.KafkaTopic),
		)
		if err != nil {
			return nil, err
		}
	case config.TransportKafkaGo:
		publisher = kafkago.NewPublisher(kafkago.NewWriter(kafkago.SplitBrokers(cfg.KafkaBrokers)),
			kafkago.WithPublisherLogger(logger),
			kafkago.WithDefaultTopic(cfg.KafkaTopic),
		)
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		publisher = redisstream.NewPublisher(client,
			redisstream.WithLogger(logger),
			redisstream.WithDefaultStream(cfg.RedisStream),
			redisstream.WithMaxLen(int64(cfg.RedisMaxLen)),
		)
	case config.TransportNop:
		publisher = eventrelay.NewNopPublisher()
	default:
		return nil, fmt.Errorf("unsupported publisher transport %q", cfg.Transport)
	}

	if !cfg.BreakerEnabled {
		return publisher, nil
	}
	return eventrelay.NewBreakerPublisher(publisher,
		eventrelay.WithBreakerName(cfg.Transport),
		eventrelay.WithBreakerFailureThreshold(uint32(cfg.BreakerFailures)),
		eventrelay.WithBreakerOpenTimeout(cfg.BreakerOpenTimeout),
		eventrelay.WithBreakerLogger(logger),
		eventrelay.WithBreakerMetrics(collector),
	), nil
}
