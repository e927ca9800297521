package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists normalized markets and their latest quotes.
type MarketStore interface {
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	// ListByGroupKey returns the markets of one correlation group; this is the
	// scanner's read path.
	ListByGroupKey(ctx context.Context, groupKey string) ([]Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	// UpdateQuote overwrites the stored quote for one market, keyed by venue
	// identity. Missing markets are ignored; the discovery pipeline will pick
	// them up on its next cycle.
	UpdateQuote(ctx context.Context, platform, eventID string, quote Quote) error
	// SetGroupKeys reassigns correlation-group keys after a grouping
	// recompute, keyed by market ID.
	SetGroupKeys(ctx context.Context, keys map[string]string) error
	Count(ctx context.Context) (int64, error)
}

// FeeStore reads and maintains per-platform fee schedules.
type FeeStore interface {
	Get(ctx context.Context, platform string) (PlatformFee, error)
	Upsert(ctx context.Context, fee PlatformFee) error
	// List returns every schedule; the scanner loads this once per pass as an
	// immutable FeeSnapshot.
	List(ctx context.Context) ([]PlatformFee, error)
}

// OpportunityStore persists deduplicated opportunities keyed by hash.
type OpportunityStore interface {
	// Upsert atomically inserts the opportunity or, when a row with the same
	// hash already exists, refreshes its metrics. It reports whether the row
	// was newly created. Concurrent callers racing on one hash must all
	// succeed, with exactly one observing created=true.
	Upsert(ctx context.Context, opp Opportunity) (id string, created bool, err error)
	GetByID(ctx context.Context, id string) (Opportunity, error)
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListDetectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Opportunity, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// AlertStore persists the per-user alert queue.
type AlertStore interface {
	// Enqueue creates one pending alert per user for the opportunity,
	// silently skipping (user, opportunity) pairs that already exist. It
	// returns the number of rows actually created.
	Enqueue(ctx context.Context, opportunityID string, userIDs []string) (int, error)
	// ClaimPending returns up to limit due pending alerts and leases them
	// until now+lease so concurrent workers never deliver the same alert.
	ClaimPending(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Alert, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, value decimal.Decimal) error
	MarkFailed(ctx context.Context, id string, reason string) error
	MarkDead(ctx context.Context, id string, reason string) error
	// Reschedule requeues a retryable failure with the attempt count and the
	// next delivery time computed by the backoff policy.
	Reschedule(ctx context.Context, id string, attempts int, nextAt time.Time, reason string) error
	// ReopenImproved flips already-sent alerts for the opportunity back to
	// pending when the refreshed net profit improves on the value last
	// delivered by at least minChange. It returns the number of reopened
	// rows.
	ReopenImproved(ctx context.Context, opportunityID string, newValue, minChange decimal.Decimal, nextAt time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[AlertStatus]int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubscriberStore reads the alert subscription registry.
type SubscriberStore interface {
	Upsert(ctx context.Context, sub Subscriber) error
	// ListEligible returns subscribed users whose minimum-profit preference
	// the given net profit meets.
	ListEligible(ctx context.Context, netProfitUSD decimal.Decimal) ([]Subscriber, error)
}

// GroupStore persists correlation groups.
type GroupStore interface {
	UpsertBatch(ctx context.Context, groups []CorrelationGroup) error
	ListRecent(ctx context.Context, limit int) ([]CorrelationGroup, error)
}
