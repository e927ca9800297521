package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PREDARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PREDARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PREDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDARB_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "PREDARB_REDIS_QUOTE_TTL")
	setInt(&cfg.Redis.RateLimit, "PREDARB_REDIS_RATE_LIMIT")
	setDuration(&cfg.Redis.RateWindow, "PREDARB_REDIS_RATE_WINDOW")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PREDARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDARB_S3_FORCE_PATH_STYLE")

	// ── Venues ──
	setStr(&cfg.Polymarket.BaseURL, "PREDARB_POLYMARKET_BASE_URL")
	setStr(&cfg.Polymarket.WsURL, "PREDARB_POLYMARKET_WS_URL")
	setStr(&cfg.Limitless.BaseURL, "PREDARB_LIMITLESS_BASE_URL")

	// ── Ingest ──
	setInt(&cfg.Ingest.PageSize, "PREDARB_INGEST_PAGE_SIZE")
	setInt(&cfg.Ingest.MaxMarkets, "PREDARB_INGEST_MAX_MARKETS")
	setInt(&cfg.Ingest.QuoteWorkers, "PREDARB_INGEST_QUOTE_WORKERS")
	setDuration(&cfg.Ingest.Interval, "PREDARB_INGEST_INTERVAL")
	setBool(&cfg.Ingest.FeedEnabled, "PREDARB_INGEST_FEED_ENABLED")
	setInt(&cfg.Ingest.SubscribeBatch, "PREDARB_INGEST_SUBSCRIBE_BATCH")
	setDuration(&cfg.Ingest.FlushInterval, "PREDARB_INGEST_FLUSH_INTERVAL")

	// ── Grouping ──
	setInt(&cfg.Grouping.MinSimilarity, "PREDARB_GROUPING_MIN_SIMILARITY")
	setDuration(&cfg.Grouping.MaxEndDateSkew, "PREDARB_GROUPING_MAX_END_DATE_SKEW")
	setInt(&cfg.Grouping.MaxGroupSize, "PREDARB_GROUPING_MAX_GROUP_SIZE")
	setInt(&cfg.Grouping.MaxMarkets, "PREDARB_GROUPING_MAX_MARKETS")
	setStr(&cfg.Grouping.Cron, "PREDARB_GROUPING_CRON")

	// ── Scanner ──
	setInt(&cfg.Scanner.MaxGroupSize, "PREDARB_SCANNER_MAX_GROUP_SIZE")
	setDuration(&cfg.Scanner.MaxQuoteAge, "PREDARB_SCANNER_MAX_QUOTE_AGE")
	setBool(&cfg.Scanner.Rebalancing, "PREDARB_SCANNER_REBALANCING")
	setInt(&cfg.Scanner.Workers, "PREDARB_SCANNER_WORKERS")
	setInt(&cfg.Scanner.MaxGroups, "PREDARB_SCANNER_MAX_GROUPS")
	setDuration(&cfg.Scanner.GroupTimeout, "PREDARB_SCANNER_GROUP_TIMEOUT")
	setDuration(&cfg.Scanner.LockTTL, "PREDARB_SCANNER_LOCK_TTL")
	setDuration(&cfg.Scanner.Interval, "PREDARB_SCANNER_INTERVAL")

	// ── Alerts ──
	setFloat64(&cfg.Alerts.MinImprovementUSD, "PREDARB_ALERTS_MIN_IMPROVEMENT_USD")
	setDuration(&cfg.Alerts.Cooldown, "PREDARB_ALERTS_COOLDOWN")
	setDuration(&cfg.Alerts.PollInterval, "PREDARB_ALERTS_POLL_INTERVAL")
	setInt(&cfg.Alerts.BatchLimit, "PREDARB_ALERTS_BATCH_LIMIT")
	setDuration(&cfg.Alerts.Lease, "PREDARB_ALERTS_LEASE")
	setDuration(&cfg.Alerts.AttemptTimeout, "PREDARB_ALERTS_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Alerts.BackoffBase, "PREDARB_ALERTS_BACKOFF_BASE")
	setDuration(&cfg.Alerts.BackoffCap, "PREDARB_ALERTS_BACKOFF_CAP")
	setInt(&cfg.Alerts.MaxAttempts, "PREDARB_ALERTS_MAX_ATTEMPTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PREDARB_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.MaxAge, "PREDARB_ARCHIVE_MAX_AGE")
	setDuration(&cfg.Archive.AlertMaxAge, "PREDARB_ARCHIVE_ALERT_MAX_AGE")
	setInt(&cfg.Archive.BatchLimit, "PREDARB_ARCHIVE_BATCH_LIMIT")
	setStr(&cfg.Archive.Cron, "PREDARB_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.EncryptedTokenPath, "PREDARB_NOTIFY_ENCRYPTED_TOKEN_PATH")
	setStr(&cfg.Notify.TokenPassword, "PREDARB_NOTIFY_TOKEN_PASSWORD")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDARB_MODE")
	setStr(&cfg.LogLevel, "PREDARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
