// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDARB_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Limitless  LimitlessConfig  `toml:"limitless"`
	Ingest     IngestConfig     `toml:"ingest"`
	Grouping   GroupingConfig   `toml:"grouping"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Alerts     AlertsConfig     `toml:"alerts"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// QuoteTTL bounds how long cached quotes survive without a refresh.
	QuoteTTL duration `toml:"quote_ttl"`
	// RateLimit and RateWindow tune the shared venue rate limiter.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
}

// LimitlessConfig holds Limitless API endpoints.
type LimitlessConfig struct {
	BaseURL string `toml:"base_url"`
}

// IngestConfig tunes market discovery and quote refresh.
type IngestConfig struct {
	PageSize     int      `toml:"page_size"`
	MaxMarkets   int      `toml:"max_markets"`
	QuoteWorkers int      `toml:"quote_workers"`
	Interval     duration `toml:"interval"`
	// FeedEnabled turns on the Polymarket WebSocket quote feed.
	FeedEnabled    bool     `toml:"feed_enabled"`
	SubscribeBatch int      `toml:"subscribe_batch"`
	FlushInterval  duration `toml:"flush_interval"`
}

// GroupingConfig tunes cross-venue market correlation.
type GroupingConfig struct {
	MinSimilarity  int      `toml:"min_similarity"`
	MaxEndDateSkew duration `toml:"max_end_date_skew"`
	MaxGroupSize   int      `toml:"max_group_size"`
	MaxMarkets     int      `toml:"max_markets"`
	Cron           string   `toml:"cron"`
}

// ScannerConfig tunes candidate generation and the scan pass.
type ScannerConfig struct {
	SizeBucketsUSD []float64 `toml:"size_buckets_usd"`
	MaxGroupSize   int       `toml:"max_group_size"`
	MaxQuoteAge    duration  `toml:"max_quote_age"`
	Rebalancing    bool      `toml:"rebalancing"`
	Workers        int       `toml:"workers"`
	MaxGroups      int       `toml:"max_groups"`
	GroupTimeout   duration  `toml:"group_timeout"`
	LockTTL        duration  `toml:"lock_ttl"`
	Interval       duration  `toml:"interval"`
}

// AlertsConfig tunes alert dispatch and delivery.
type AlertsConfig struct {
	// MinImprovementUSD is how much an opportunity's net value must grow
	// before an already-sent alert is re-opened.
	MinImprovementUSD float64  `toml:"min_improvement_usd"`
	Cooldown          duration `toml:"cooldown"`
	PollInterval      duration `toml:"poll_interval"`
	BatchLimit        int      `toml:"batch_limit"`
	Lease             duration `toml:"lease"`
	AttemptTimeout    duration `toml:"attempt_timeout"`
	BackoffBase       duration `toml:"backoff_base"`
	BackoffCap        duration `toml:"backoff_cap"`
	MaxAttempts       int      `toml:"max_attempts"`
}

// ArchiveConfig tunes cold storage of resolved opportunities.
type ArchiveConfig struct {
	Enabled     bool     `toml:"enabled"`
	MaxAge      duration `toml:"max_age"`
	AlertMaxAge duration `toml:"alert_max_age"`
	BatchLimit  int      `toml:"batch_limit"`
	Cron        string   `toml:"cron"`
}

// NotifyConfig holds notification channel credentials. The Telegram token can
// be given raw, or via an encrypted file plus password.
type NotifyConfig struct {
	TelegramToken      string   `toml:"telegram_token"`
	TelegramChatID     string   `toml:"telegram_chat_id"`
	EncryptedTokenPath string   `toml:"encrypted_token_path"`
	TokenPassword      string   `toml:"token_password"`
	DiscordWebhookURL  string   `toml:"discord_webhook_url"`
	Events             []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "predarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			QuoteTTL:   duration{5 * time.Minute},
			RateLimit:  5,
			RateWindow: duration{time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predarb-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Polymarket: PolymarketConfig{
			BaseURL: "https://gamma-api.polymarket.com",
			WsURL:   "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Limitless: LimitlessConfig{
			BaseURL: "https://api.limitless.exchange",
		},
		Ingest: IngestConfig{
			PageSize:       100,
			MaxMarkets:     1000,
			QuoteWorkers:   8,
			Interval:       duration{time.Minute},
			FeedEnabled:    false,
			SubscribeBatch: 200,
			FlushInterval:  duration{5 * time.Second},
		},
		Grouping: GroupingConfig{
			MinSimilarity:  70,
			MaxEndDateSkew: duration{60 * 24 * time.Hour},
			MaxGroupSize:   8,
			MaxMarkets:     1000,
			Cron:           "*/15 * * * *",
		},
		Scanner: ScannerConfig{
			SizeBucketsUSD: []float64{100, 500, 1000},
			MaxGroupSize:   6,
			MaxQuoteAge:    duration{2 * time.Minute},
			Rebalancing:    true,
			Workers:        4,
			MaxGroups:      500,
			GroupTimeout:   duration{10 * time.Second},
			LockTTL:        duration{2 * time.Minute},
			Interval:       duration{90 * time.Second},
		},
		Alerts: AlertsConfig{
			MinImprovementUSD: 1.0,
			Cooldown:          duration{5 * time.Minute},
			PollInterval:      duration{10 * time.Second},
			BatchLimit:        50,
			Lease:             duration{time.Minute},
			AttemptTimeout:    duration{15 * time.Second},
			BackoffBase:       duration{30 * time.Second},
			BackoffCap:        duration{10 * time.Minute},
			MaxAttempts:       5,
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			MaxAge:      duration{30 * 24 * time.Hour},
			AlertMaxAge: duration{7 * 24 * time.Hour},
			BatchLimit:  5000,
			Cron:        "0 3 * * *",
		},
		Notify: NotifyConfig{
			Events: []string{"scan_pass", "ingest_failed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest": true,
	"scan":   true,
	"alerts": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsS3 reports whether the configured mode requires object storage.
func (c *Config) NeedsS3() bool {
	return c.Archive.Enabled && (c.Mode == "scan" || c.Mode == "full")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, scan, alerts, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.RateLimit < 1 {
		errs = append(errs, "redis: rate_limit must be >= 1")
	}
	if c.Redis.RateWindow.Duration <= 0 {
		errs = append(errs, "redis: rate_window must be positive")
	}

	// S3, only needed when archiving is on.
	if c.NeedsS3() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
	}

	// Venue endpoints
	needsVenues := c.Mode == "ingest" || c.Mode == "full"
	if needsVenues {
		if c.Polymarket.BaseURL == "" {
			errs = append(errs, "polymarket: base_url must not be empty")
		}
		if c.Ingest.FeedEnabled && c.Polymarket.WsURL == "" {
			errs = append(errs, "polymarket: ws_url is required when the quote feed is enabled")
		}
		if c.Limitless.BaseURL == "" {
			errs = append(errs, "limitless: base_url must not be empty")
		}
		if c.Ingest.PageSize < 1 {
			errs = append(errs, "ingest: page_size must be >= 1")
		}
		if c.Ingest.QuoteWorkers < 1 {
			errs = append(errs, "ingest: quote_workers must be >= 1")
		}
		if c.Ingest.Interval.Duration <= 0 {
			errs = append(errs, "ingest: interval must be positive")
		}
	}

	// Scanner
	if c.Mode == "scan" || c.Mode == "full" {
		if len(c.Scanner.SizeBucketsUSD) == 0 {
			errs = append(errs, "scanner: size_buckets_usd must not be empty")
		}
		for _, s := range c.Scanner.SizeBucketsUSD {
			if s <= 0 {
				errs = append(errs, fmt.Sprintf("scanner: size bucket %v must be positive", s))
			}
		}
		if c.Scanner.Workers < 1 {
			errs = append(errs, "scanner: workers must be >= 1")
		}
		if c.Scanner.MaxQuoteAge.Duration <= 0 {
			errs = append(errs, "scanner: max_quote_age must be positive")
		}
		if c.Scanner.GroupTimeout.Duration <= 0 {
			errs = append(errs, "scanner: group_timeout must be positive")
		}
		if c.Scanner.LockTTL.Duration <= 0 {
			errs = append(errs, "scanner: lock_ttl must be positive")
		}
		if c.Grouping.MinSimilarity < 0 || c.Grouping.MinSimilarity > 100 {
			errs = append(errs, fmt.Sprintf("grouping: min_similarity must be 0-100, got %d", c.Grouping.MinSimilarity))
		}
		if c.Grouping.MaxGroupSize < 2 {
			errs = append(errs, "grouping: max_group_size must be >= 2")
		}
	}

	// Alerts
	if c.Mode == "alerts" || c.Mode == "full" {
		if c.Alerts.MaxAttempts < 1 {
			errs = append(errs, "alerts: max_attempts must be >= 1")
		}
		if c.Alerts.BackoffBase.Duration <= 0 {
			errs = append(errs, "alerts: backoff_base must be positive")
		}
		if c.Alerts.BackoffCap.Duration < c.Alerts.BackoffBase.Duration {
			errs = append(errs, "alerts: backoff_cap must be >= backoff_base")
		}
		if c.Alerts.BatchLimit < 1 {
			errs = append(errs, "alerts: batch_limit must be >= 1")
		}
		if c.Alerts.Lease.Duration <= 0 {
			errs = append(errs, "alerts: lease must be positive")
		}
		if c.Notify.TelegramToken == "" && c.Notify.EncryptedTokenPath == "" {
			errs = append(errs, "notify: either telegram_token or encrypted_token_path must be set for mode "+c.Mode)
		}
		if c.Notify.EncryptedTokenPath != "" && c.Notify.TokenPassword == "" {
			errs = append(errs, "notify: token_password is required when encrypted_token_path is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
