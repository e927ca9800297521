package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each market's
// quote is stored at "quote:{platform}:{eventID}" with fields for both sides,
// the fillable depth, and a Unix nanosecond timestamp. Entries expire so the
// cache never serves quotes older than the TTL.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(platform, eventID string) string {
	return "quote:" + platform + ":" + eventID
}

// Set stores the latest quote for a market.
func (qc *QuoteCache) Set(ctx context.Context, platform, eventID string, q domain.Quote) error {
	key := quoteKey(platform, eventID)
	fields := map[string]interface{}{
		"yes":      q.YesPrice.String(),
		"no":       q.NoPrice.String(),
		"fillable": q.FillableUSD.String(),
		"ts":       strconv.FormatInt(q.Ts.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", platform, eventID, err)
	}
	return nil
}

// Get retrieves the latest quote for a market. It returns domain.ErrNotFound
// when no quote is cached.
func (qc *QuoteCache) Get(ctx context.Context, platform, eventID string) (domain.Quote, error) {
	key := quoteKey(platform, eventID)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", platform, eventID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	var q domain.Quote
	if q.YesPrice, err = parseField(vals, "yes"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s/%s: %w", platform, eventID, err)
	}
	if q.NoPrice, err = parseField(vals, "no"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s/%s: %w", platform, eventID, err)
	}
	if q.FillableUSD, err = parseField(vals, "fillable"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s/%s: %w", platform, eventID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	ns, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s/%s: parse ts: %w", platform, eventID, err)
	}
	q.Ts = time.Unix(0, ns).UTC()

	return q, nil
}

func parseField(vals map[string]string, field string) (decimal.Decimal, error) {
	s, ok := vals[field]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
