package domain

import (
	"context"
	"time"
)

// QuoteCache holds the latest quote per (platform, event id) so the scanner
// and the WS feed share one hot view without a database round-trip.
type QuoteCache interface {
	Set(ctx context.Context, platform, eventID string, q Quote) error
	Get(ctx context.Context, platform, eventID string) (Quote, error)
}

// LockManager provides distributed locks so recurring passes (scan, grouping
// recompute, archival) never overlap across processes.
type LockManager interface {
	// Acquire obtains the lock and returns an unlock function, or ErrLockHeld
	// when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates to external APIs.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
