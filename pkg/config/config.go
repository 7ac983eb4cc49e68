// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/canopy-network/pointsx/pkg/utils"
	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Addr        string
	LogLevel    string
	LogEncoding string

	// Accrual
	Rate          float64
	Decimals      int32
	AccrualCron   string
	SettleDelay   time.Duration
	Workers       int
	LedgerRetries int

	// Storage
	StoreBackend string
	PostgresURL  string
	PostgresDB   string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	EventsStream  string
	EventsGroup   string
	Consumer      string
	NotifyChannel string

	// API
	AdminToken       string
	AdminUser        string
	AdminPassword    string
	SessionSecret    string
	RequestTimeout   time.Duration
	RecalcPerMinute  int
	TxCacheSize      int
	TxCacheTTL       time.Duration
	LeaderboardLimit int
}

// Load reads path (ignored when missing) and then the process environment.
// Variables already set in the environment win over the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	cfg := &Config{
		Addr:        utils.Env("ADDR", ":3001"),
		LogLevel:    utils.Env("LOG_LEVEL", "info"),
		LogEncoding: utils.Env("LOG_ENCODING", "json"),

		Rate:          utils.EnvFloat("POINTS_RATE", 0.05),
		Decimals:      int32(utils.EnvInt("TOKEN_DECIMALS", 18)),
		AccrualCron:   utils.Env("ACCRUAL_CRON", "0 0 * * * *"),
		SettleDelay:   utils.EnvDuration("ACCRUAL_SETTLE_DELAY", 0),
		Workers:       utils.EnvInt("ACCRUAL_WORKERS", 8),
		LedgerRetries: utils.EnvInt("LEDGER_RETRY_MAX", 8),

		StoreBackend: utils.Env("STORE_BACKEND", BackendMemory),
		PostgresURL:  utils.Env("POSTGRES_URL", "postgres://localhost:5432/postgres"),
		PostgresDB:   utils.Env("POSTGRES_DB", "token_points"),

		RedisEnabled:  utils.EnvBool("REDIS_ENABLED", false),
		RedisHost:     utils.Env("REDIS_HOST", "localhost"),
		RedisPort:     utils.Env("REDIS_PORT", "6379"),
		RedisPassword: utils.Env("REDIS_PASSWORD", ""),
		RedisDB:       utils.EnvInt("REDIS_DB", 0),
		EventsStream:  utils.Env("REDIS_EVENTS_STREAM", "token:balance-events"),
		EventsGroup:   utils.Env("REDIS_EVENTS_GROUP", "points-accrual"),
		Consumer:      utils.Env("REDIS_CONSUMER", "points-1"),
		NotifyChannel: utils.Env("REDIS_NOTIFY_CHANNEL", "token:points.accrued"),

		AdminToken:       utils.Env("ADMIN_TOKEN", "devtoken"),
		AdminUser:        utils.Env("ADMIN_USER", "admin"),
		AdminPassword:    utils.Env("ADMIN_PASSWORD", "admin"),
		SessionSecret:    utils.Env("SESSION_SECRET", "change-me-please"),
		RequestTimeout:   utils.EnvDuration("API_REQUEST_TIMEOUT", 10*time.Second),
		RecalcPerMinute:  utils.EnvInt("RECALC_RATE_PER_MINUTE", 6),
		TxCacheSize:      utils.EnvInt("TXCACHE_SIZE", 10000),
		TxCacheTTL:       utils.EnvDuration("TXCACHE_TTL", 5*time.Minute),
		LeaderboardLimit: utils.EnvInt("LEADERBOARD_MAX_LIMIT", 1000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("POINTS_RATE must be positive, got %v", c.Rate)
	}
	if c.Decimals < 0 || c.Decimals > 36 {
		return fmt.Errorf("TOKEN_DECIMALS out of range: %d", c.Decimals)
	}
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.LedgerRetries < 1 {
		c.LedgerRetries = 1
	}
	return nil
}

// RedisAddr returns host:port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
