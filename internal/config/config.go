// Package config loads the eventrelay process configuration: an optional YAML file, then .env, then
// environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/go-sql-driver/mysql"
	validation "github.com/jellydator/validation"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the variable holding the optional YAML file path.
const ConfigFileEnv = "EVENTRELAY_CONFIG_FILE"

const (
	TransportKafka   = "kafka"
	TransportKafkaGo = "kafka-go"
	TransportRedis   = "redis"
	TransportNop     = "nop"
)

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Database  DatabaseConfig  `yaml:"database"`
	Publisher PublisherConfig `yaml:"publisher"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Inbox     InboxConfig     `yaml:"inbox"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type DatabaseConfig struct {
	// Driver is the database/sql driver: mysql, postgres (lib/pq) or pgx.
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type PublisherConfig struct {
	// Transport is one of kafka (confluent), kafka-go, redis or nop.
	Transport      string        `yaml:"transport"`
	KafkaBrokers   string        `yaml:"kafka_brokers"`
	KafkaTopic     string        `yaml:"kafka_topic"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	RedisStream    string        `yaml:"redis_stream"`
	RedisMaxLen    int           `yaml:"redis_max_len"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	BreakerEnabled     bool          `yaml:"breaker_enabled"`
	BreakerFailures    int           `yaml:"breaker_failures"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

type SweeperConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Jitter      float64       `yaml:"jitter"`
	GracePeriod time.Duration `yaml:"grace_period"`
	BatchSize   int           `yaml:"batch_size"`
	// RateLimit caps re-published events per second. Zero disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type InboxConfig struct {
	CleanerEnabled  bool          `yaml:"cleaner_enabled"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Retention       time.Duration `yaml:"retention"`
	// MaxRedeliveryDelay is the longest time the transport may take to redeliver a message.
	// Retention must exceed it, otherwise late duplicates are no longer recognised.
	MaxRedeliveryDelay time.Duration `yaml:"max_redelivery_delay"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver:          "mysql",
			DSN:             "root:root@tcp(localhost:3306)/eventrelay?parseTime=true",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Publisher: PublisherConfig{
			Transport:          TransportKafka,
			KafkaBrokers:       "localhost:9092",
			KafkaTopic:         "domain-events",
			RedisAddr:          "localhost:6379",
			RedisStream:        "domain-events",
			PublishTimeout:     5 * time.Second,
			BreakerEnabled:     true,
			BreakerFailures:    5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:     true,
			Interval:    10 * time.Second,
			Jitter:      0.2,
			GracePeriod: 30 * time.Second,
			BatchSize:   100,
			RateBurst:   1,
		},
		Inbox: InboxConfig{
			CleanerEnabled:     true,
			CleanupInterval:    time.Hour,
			Retention:          7 * 24 * time.Hour,
			MaxRedeliveryDelay: 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9464",
		},
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := Default()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides every field that has its environment variable set.
func (c *Config) applyEnv() {
	c.LogLevel = env.GetString("LOG_LEVEL", c.LogLevel)

	c.Database.Driver = env.GetString("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = env.GetString("DB_DSN", c.Database.DSN)
	c.Database.MaxOpenConns = env.GetInt("DB_MAX_OPEN_CONNECTIONS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = env.GetInt("DB_MAX_IDLE_CONNECTIONS", c.Database.MaxIdleConns)
	overrideDuration(&c.Database.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME_SECONDS", time.Second)

	p := &c.Publisher
	p.Transport = env.GetString("PUBLISHER_TRANSPORT", p.Transport)
	p.KafkaBrokers = env.GetString("KAFKA_BROKERS", p.KafkaBrokers)
	p.KafkaTopic = env.GetString("KAFKA_TOPIC", p.KafkaTopic)
	p.RedisAddr = env.GetString("REDIS_ADDR", p.RedisAddr)
	p.RedisPassword = env.GetString("REDIS_PASSWORD", p.RedisPassword)
	p.RedisDB = env.GetInt("REDIS_DB", p.RedisDB)
	p.RedisStream = env.GetString("REDIS_STREAM", p.RedisStream)
	p.RedisMaxLen = env.GetInt("REDIS_STREAM_MAX_LEN", p.RedisMaxLen)
	overrideDuration(&p.PublishTimeout, "PUBLISH_TIMEOUT_MS", time.Millisecond)
	p.BreakerEnabled = env.GetBool("BREAKER_ENABLED", p.BreakerEnabled)
	p.BreakerFailures = env.GetInt("BREAKER_FAILURES", p.BreakerFailures)
	overrideDuration(&p.BreakerOpenTimeout, "BREAKER_OPEN_TIMEOUT_SECONDS", time.Second)

	s := &c.Sweeper
	s.Enabled = env.GetBool("SWEEPER_ENABLED", s.Enabled)
	overrideDuration(&s.Interval, "SWEEPER_INTERVAL_SECONDS", time.Second)
	s.Jitter = env.GetFloat64("SWEEPER_JITTER", s.Jitter)
	overrideDuration(&s.GracePeriod, "SWEEPER_GRACE_PERIOD_SECONDS", time.Second)
	s.BatchSize = env.GetInt("SWEEPER_BATCH_SIZE", s.BatchSize)
	s.RateLimit = env.GetFloat64("SWEEPER_RATE_LIMIT", s.RateLimit)
	s.RateBurst = env.GetInt("SWEEPER_RATE_BURST", s.RateBurst)

	i := &c.Inbox
	i.CleanerEnabled = env.GetBool("INBOX_CLEANER_ENABLED", i.CleanerEnabled)
	overrideDuration(&i.CleanupInterval, "INBOX_CLEANUP_INTERVAL_SECONDS", time.Second)
	overrideDuration(&i.Retention, "INBOX_RETENTION_HOURS", time.Hour)
	overrideDuration(&i.MaxRedeliveryDelay, "INBOX_MAX_REDELIVERY_DELAY_HOURS", time.Hour)

	c.Metrics.Enabled = env.GetBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = env.GetString("METRICS_ADDR", c.Metrics.Addr)
}

// overrideDuration replaces dst with the variable read in whole units, only when the variable is set,
// so sub-unit values from the YAML file survive.
func overrideDuration(dst *time.Duration, key string, unit time.Duration) {
	if _, ok := os.LookupEnv(key); !ok {
		return
	}
	*dst = env.GetDuration(key, int64(*dst/unit), unit)
}

var (
	errRetentionTooShort = errors.New("retention must exceed the maximum redelivery delay")
	errMySQLParseTime    = errors.New("mysql dsn must set parseTime=true")
)

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Database),
		validation.Field(&c.Publisher),
		validation.Field(&c.Sweeper),
		validation.Field(&c.Inbox),
		validation.Field(&c.Metrics),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In("mysql", "postgres", "pgx")),
		validation.Field(&d.DSN, validation.Required, validation.When(d.Driver == "mysql", validation.By(validateMySQLDSN))),
		validation.Field(&d.MaxOpenConns, validation.Min(1)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
	)
}

// validateMySQLDSN rejects DSNs the outbox store cannot scan: timestamps are read into time.Time.
func validateMySQLDSN(value any) error {
	dsn, _ := value.(string)
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return err
	}
	if !cfg.ParseTime {
		return errMySQLParseTime
	}
	return nil
}

func (p PublisherConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Transport, validation.Required,
			validation.In(TransportKafka, TransportKafkaGo, TransportRedis, TransportNop)),
		validation.Field(&p.KafkaBrokers,
			validation.When(p.Transport == TransportKafka || p.Transport == TransportKafkaGo, validation.Required)),
		validation.Field(&p.KafkaTopic,
			validation.When(p.Transport == TransportKafka || p.Transport == TransportKafkaGo, validation.Required)),
		validation.Field(&p.RedisAddr, validation.When(p.Transport == TransportRedis, validation.Required)),
		validation.Field(&p.RedisStream, validation.When(p.Transport == TransportRedis, validation.Required)),
		validation.Field(&p.PublishTimeout, validation.Required),
		validation.Field(&p.BreakerFailures, validation.When(p.BreakerEnabled, validation.Required, validation.Min(1))),
		validation.Field(&p.BreakerOpenTimeout, validation.When(p.BreakerEnabled, validation.Required)),
	)
}

func (s SweeperConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Interval, validation.When(s.Enabled, validation.Required)),
		validation.Field(&s.Jitter, validation.Min(0.0), validation.Max(0.99)),
		validation.Field(&s.BatchSize, validation.When(s.Enabled, validation.Required, validation.Min(1))),
		validation.Field(&s.RateLimit, validation.Min(0.0)),
	)
}

func (i InboxConfig) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.CleanupInterval, validation.When(i.CleanerEnabled, validation.Required)),
		validation.Field(&i.Retention, validation.Required, validation.By(func(any) error {
			if i.Retention <= i.MaxRedeliveryDelay {
				return fmt.Errorf("%w (%s <= %s)", errRetentionTooShort, i.Retention, i.MaxRedeliveryDelay)
			}
			return nil
		})),
	)
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Addr, validation.When(m.Enabled, validation.Required)),
	)
}

// loadDotEnv loads the nearest .env file found walking up from the working directory.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
