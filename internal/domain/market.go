package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Known platform identifiers. The engine treats platforms as open strings so
// new venues can be ingested without a code change; these constants exist for
// the venues we ship clients for.
const (
	PlatformPolymarket = "polymarket"
	PlatformLimitless  = "limitless"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive MarketStatus = "active"
	// MarketStatusInactive covers markets a venue lists but does not accept
	// orders on (paused, pending funding, under review).
	MarketStatusInactive MarketStatus = "inactive"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusSettled  MarketStatus = "settled"
)

// Quote is the latest normalized binary-market quote for one market. Prices
// are probabilities in [0,1]; FillableUSD bounds the notional one side can
// absorb without moving the book.
type Quote struct {
	YesPrice    decimal.Decimal `json:"yes_price"`
	NoPrice     decimal.Decimal `json:"no_price"`
	FillableUSD decimal.Decimal `json:"fillable_usd"`
	Ts          time.Time       `json:"ts"`
}

// Valid reports whether the quote is usable for candidate generation: both
// sides priced inside (0,1) and a positive fillable size.
func (q Quote) Valid() bool {
	one := decimal.NewFromInt(1)
	if q.YesPrice.LessThanOrEqual(decimal.Zero) || q.YesPrice.GreaterThanOrEqual(one) {
		return false
	}
	if q.NoPrice.LessThanOrEqual(decimal.Zero) || q.NoPrice.GreaterThanOrEqual(one) {
		return false
	}
	return q.FillableUSD.GreaterThan(decimal.Zero)
}

// Stale reports whether the quote is older than maxAge at the given instant.
func (q Quote) Stale(now time.Time, maxAge time.Duration) bool {
	if q.Ts.IsZero() {
		return true
	}
	return now.Sub(q.Ts) > maxAge
}

// Market is one binary prediction market on one venue. Identity is
// (Platform, EventID); ingestion upserts on that pair and the engine reads
// markets as immutable snapshots.
type Market struct {
	ID        string
	Platform  string
	EventID   string
	Title     string
	GroupKey  string // correlation-group key assigned by ingestion
	Status    MarketStatus
	Quote     Quote
	EndDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
