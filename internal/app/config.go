package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/kelseyhightower/envconfig"

	"github.com/fleetmed/medsync/internal/platform/cache"
	"github.com/fleetmed/medsync/internal/platform/db"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:"127.0.0.1:8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"60s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"45s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	StorePath   string `envconfig:"STORE_PATH" default:"medsync.db"`
	PGDSN       string `envconfig:"PG_DSN"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"5m"`
	IdempotencyCapacity int           `envconfig:"IDEMPOTENCY_CAPACITY" default:"64"`

	RemoteURL             string        `envconfig:"REMOTE_URL" required:"true"`
	RemoteAPIKey          string        `envconfig:"REMOTE_API_KEY" required:"true"`
	RemoteTimeout         time.Duration `envconfig:"REMOTE_TIMEOUT" default:"30s"`
	MonthFetchConcurrency int           `envconfig:"MONTH_FETCH_CONCURRENCY" default:"4"`

	APIToken           string `envconfig:"API_TOKEN"`
	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	Timezone string `envconfig:"TIMEZONE" default:"UTC"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch db.Driver(c.StoreDriver) {
	case db.DriverSQLite:
	case db.DriverPostgres:
		if c.PGDSN == "" {
			return errors.New("PG_DSN must be provided when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RemoteURL == "" {
		return errors.New("remote url must be provided")
	}
	if c.MonthFetchConcurrency < 1 {
		return errors.New("MONTH_FETCH_CONCURRENCY must be at least 1")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// StoreConfig returns the store connection settings.
func (c *Config) StoreConfig() db.Config {
	return db.Config{Driver: db.Driver(c.StoreDriver), Path: c.StorePath, DSN: c.PGDSN}
}

// CacheOptions returns the Redis settings of the idempotency cache.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// QueueRedis returns the Redis settings of the job queue.
func (c *Config) QueueRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// Location returns the configured time zone, UTC when invalid.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Today returns the current calendar date in the configured time zone.
func (c *Config) Today() string {
	return time.Now().In(c.Location()).Format(time.DateOnly)
}
