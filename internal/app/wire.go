package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/predarb/predarb/internal/blob/s3"
	"github.com/predarb/predarb/internal/cache/redis"
	"github.com/predarb/predarb/internal/config"
	"github.com/predarb/predarb/internal/crypto"
	"github.com/predarb/predarb/internal/domain"
	"github.com/predarb/predarb/internal/notify"
	"github.com/predarb/predarb/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore      domain.MarketStore
	FeeStore         domain.FeeStore
	OpportunityStore domain.OpportunityStore
	AlertStore       domain.AlertStore
	SubscriberStore  domain.SubscriberStore
	GroupStore       domain.GroupStore

	// Caches
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Blob storage, nil unless archiving is enabled for this mode.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier   *notify.Notifier
	UserSender notify.UserSender
}

// needsRedis returns true for modes that coordinate through Redis.
func needsRedis(mode string) bool {
	switch mode {
	case "ingest", "scan", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode persists something) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.FeeStore = postgres.NewFeeStore(pool)
	deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	deps.AlertStore = postgres.NewAlertStore(pool)
	deps.SubscriberStore = postgres.NewSubscriberStore(pool)
	deps.GroupStore = postgres.NewGroupStore(pool)

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Redis.RateLimit, cfg.Redis.RateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 blob storage (only when archiving is on for this mode) ---
	if cfg.NeedsS3() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.OpportunityStore,
			deps.AlertStore,
			s3blob.ArchiverConfig{
				MaxAge:      cfg.Archive.MaxAge.Duration,
				AlertMaxAge: cfg.Archive.AlertMaxAge.Duration,
				BatchLimit:  cfg.Archive.BatchLimit,
			},
			logger,
		)
	}

	// --- Notifications ---
	var telegram *notify.TelegramSender
	if cfg.Notify.TelegramToken != "" || cfg.Notify.EncryptedTokenPath != "" {
		token, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           cfg.Notify.TelegramToken,
			EncryptedPath: cfg.Notify.EncryptedTokenPath,
			Password:      cfg.Notify.TokenPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: telegram token: %w", err)
		}
		telegram = notify.NewTelegramSender(token, cfg.Notify.TelegramChatID)
		deps.UserSender = telegram
	}

	var senders []notify.Sender
	if telegram != nil && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, telegram)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
