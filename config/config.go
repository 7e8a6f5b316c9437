package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	AES      AESConfig      `mapstructure:"aes"`
	Log      LogConfig      `mapstructure:"log"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// WebhookConfig governs the delivery pipeline.
type WebhookConfig struct {
	// MaxPerFiduciary caps live subscriptions per owner.
	MaxPerFiduciary int `mapstructure:"max_per_fiduciary"`
	// Timeout bounds each outbound HTTP delivery attempt.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxAttempts is the total delivery budget per record, first attempt
	// included.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryDelays holds the backoff before attempt N+1; the last entry
	// repeats if attempts outnumber entries.
	RetryDelays []time.Duration `mapstructure:"retry_delays"`
	// Workers is the delivery worker pool size.
	Workers int `mapstructure:"workers"`
	// FanoutDeadline bounds one event's whole fan-out, independent of
	// the per-attempt timeout.
	FanoutDeadline time.Duration `mapstructure:"fanout_deadline"`
	// HistoryPageSize / HistoryPageMax bound delivery history reads.
	HistoryPageSize int `mapstructure:"history_page_size"`
	HistoryPageMax  int `mapstructure:"history_page_max"`
	// SweepInterval is how often the retry sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// SweepBatch caps records claimed per sweep run.
	SweepBatch int `mapstructure:"sweep_batch"`
	// StalledReclaimAge is how long a record may sit non-terminal in
	// flight (pending, or retrying after a claim) without a state change
	// before the supervisory sweep marks it failed.
	StalledReclaimAge time.Duration `mapstructure:"stalled_reclaim_age"`
	// RevalidateURLs re-runs the URL safety check right before each
	// delivery. Off by default: it still checks only the literal
	// hostname, so DNS rebinding remains unmitigated either way.
	RevalidateURLs bool `mapstructure:"revalidate_urls"`
}

// RetryDelay returns the backoff to apply after the given attempt
// number (1-based).
func (w WebhookConfig) RetryDelay(attempt int) time.Duration {
	if len(w.RetryDelays) == 0 {
		return time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(w.RetryDelays) {
		return w.RetryDelays[len(w.RetryDelays)-1]
	}
	return w.RetryDelays[attempt-1]
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PHLOEM.
// Nested keys use underscore: PHLOEM_DATABASE_HOST, PHLOEM_JWT_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "phloem")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "phloem")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("webhook.max_per_fiduciary", 10)
	v.SetDefault("webhook.timeout", "30s")
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.retry_delays", []string{"1m", "5m", "15m"})
	v.SetDefault("webhook.workers", 8)
	v.SetDefault("webhook.fanout_deadline", "2m")
	v.SetDefault("webhook.history_page_size", 50)
	v.SetDefault("webhook.history_page_max", 100)
	v.SetDefault("webhook.sweep_interval", "30s")
	v.SetDefault("webhook.sweep_batch", 50)
	v.SetDefault("webhook.stalled_reclaim_age", "5m")
	v.SetDefault("webhook.revalidate_urls", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PHLOEM_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PHLOEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
