// Package scanner generates and scores candidate opportunities, one
// correlation group at a time. Candidate generation is CPU-only; blocking
// calls are limited to the market listing at the top of each group scan and
// the quote-cache overlay reads.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
	"github.com/predarb/predarb/internal/fees"
)

// modelVersion tags candidates with the scoring model that produced them. It
// participates in the dedup hash, so bumping it re-opens every opportunity.
const modelVersion = "default_v1"

// Config holds candidate-generation parameters.
type Config struct {
	// SizeBucketsUSD are the stake sizes tried per combination. A bucket is
	// skipped when any leg's fillable depth cannot absorb it, so persisted
	// leg sizes (and therefore hashes) stay stable across passes.
	SizeBucketsUSD []decimal.Decimal
	// MaxGroupSize caps the markets considered per group, bounding the
	// O(n^k) enumeration.
	MaxGroupSize int
	// MaxQuoteAge rejects quotes older than this at scan time.
	MaxQuoteAge time.Duration
	// Rebalancing enables multi-outcome buy-all candidates (arity 3).
	Rebalancing bool
}

// Scanner produces scored candidates for one group per call.
type Scanner struct {
	markets domain.MarketStore
	quotes  domain.QuoteCache
	cfg     Config
	logger  *slog.Logger
}

// New creates a Scanner reading markets from the given store. quotes may be
// nil; when set, cached quotes newer than the stored row overlay it, so the
// scanner sees feed updates that have not been flushed to the store yet.
func New(markets domain.MarketStore, quotes domain.QuoteCache, cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		markets: markets,
		quotes:  quotes,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scanner")),
	}
}

// ScanGroup enumerates leg combinations in the group, scores them against the
// fee snapshot, and returns the candidates with strictly positive net profit.
// Duplicate candidates (same hash) are collapsed before return, so the
// deduplicator never sees two copies from one pass.
func (s *Scanner) ScanGroup(ctx context.Context, group domain.CorrelationGroup, snapshot domain.FeeSnapshot) ([]domain.Candidate, error) {
	markets, err := s.markets.ListByGroupKey(ctx, group.GroupKey)
	if err != nil {
		return nil, fmt.Errorf("scanner: list group %s: %w", group.GroupKey, err)
	}

	now := time.Now().UTC()
	usable := markets[:0]
	for _, m := range markets {
		if m.Status != domain.MarketStatusActive {
			continue
		}
		m.Quote = s.freshestQuote(ctx, m)
		if !m.Quote.Valid() || m.Quote.Stale(now, s.cfg.MaxQuoteAge) {
			// Malformed or stale quote data: skip the market, not the group.
			s.logger.DebugContext(ctx, "skipping market with unusable quote",
				slog.String("market_id", m.ID),
				slog.String("platform", m.Platform),
			)
			continue
		}
		usable = append(usable, m)
	}
	if s.cfg.MaxGroupSize > 0 && len(usable) > s.cfg.MaxGroupSize {
		usable = usable[:s.cfg.MaxGroupSize]
	}

	var out []domain.Candidate
	seen := make(map[string]bool)

	emit := func(cand domain.Candidate) {
		h := cand.Hash()
		if seen[h] {
			return
		}
		seen[h] = true
		out = append(out, cand)
	}

	s.dutchBookPairs(ctx, group, usable, snapshot, emit)
	if s.cfg.Rebalancing && group.Kind == domain.GroupKindMultiOutcome {
		s.rebalancingBuyAll(ctx, group, usable, snapshot, emit)
	}

	return out, nil
}

// freshestQuote overlays the cached quote when it is newer than the stored
// row. Cache misses and read errors fall back to the stored quote; the cache
// is an overlay, never the source of record.
func (s *Scanner) freshestQuote(ctx context.Context, m domain.Market) domain.Quote {
	if s.quotes == nil {
		return m.Quote
	}
	cached, err := s.quotes.Get(ctx, m.Platform, m.EventID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.DebugContext(ctx, "quote cache read failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
		return m.Quote
	}
	if cached.Valid() && cached.Ts.After(m.Quote.Ts) {
		return cached
	}
	return m.Quote
}

// dutchBookPairs emits two-leg candidates: buy YES on venue A and NO on venue
// B when the combined price is below 1 after fees. Same-platform pairs are
// structurally invalid (the venue itself arbitrages those away) and are
// discarded before scoring.
func (s *Scanner) dutchBookPairs(ctx context.Context, group domain.CorrelationGroup, markets []domain.Market, snapshot domain.FeeSnapshot, emit func(domain.Candidate)) {
	for _, a := range markets {
		for _, b := range markets {
			if a.ID == b.ID || a.Platform == b.Platform {
				continue
			}
			maxFill := decimal.Min(a.Quote.FillableUSD, b.Quote.FillableUSD)
			for _, bucket := range s.cfg.SizeBucketsUSD {
				if bucket.GreaterThan(maxFill) {
					continue
				}
				legs := []domain.Leg{
					{MarketID: a.ID, Platform: a.Platform, Side: domain.SideYes, Price: a.Quote.YesPrice, Size: bucket},
					{MarketID: b.ID, Platform: b.Platform, Side: domain.SideNo, Price: b.Quote.NoPrice, Size: bucket},
				}
				s.score(ctx, group, domain.OppTypeDutchBook, legs, snapshot, emit)
			}
		}
	}
}

// rebalancingBuyAll emits one candidate per size bucket buying YES on every
// outcome market of an exhaustive partition. Bounded to arity 3.
func (s *Scanner) rebalancingBuyAll(ctx context.Context, group domain.CorrelationGroup, markets []domain.Market, snapshot domain.FeeSnapshot, emit func(domain.Candidate)) {
	if len(markets) < 2 || len(markets) > 3 {
		return
	}
	maxFill := markets[0].Quote.FillableUSD
	for _, m := range markets[1:] {
		maxFill = decimal.Min(maxFill, m.Quote.FillableUSD)
	}
	for _, bucket := range s.cfg.SizeBucketsUSD {
		if bucket.GreaterThan(maxFill) {
			continue
		}
		legs := make([]domain.Leg, 0, len(markets))
		for _, m := range markets {
			legs = append(legs, domain.Leg{
				MarketID: m.ID,
				Platform: m.Platform,
				Side:     domain.SideYes,
				Price:    m.Quote.YesPrice,
				Size:     bucket,
			})
		}
		s.score(ctx, group, domain.OppTypeRebalancing, legs, snapshot, emit)
	}
}

// score runs the fee model and emits the candidate only on strictly positive
// net profit. Zero or negative net is a valid outcome, not an error; unknown
// platform fees reject the combination without touching the rest of the
// group.
func (s *Scanner) score(ctx context.Context, group domain.CorrelationGroup, typ domain.OppType, legs []domain.Leg, snapshot domain.FeeSnapshot, emit func(domain.Candidate)) {
	metrics, err := fees.Score(legs, snapshot)
	if err != nil {
		s.logger.DebugContext(ctx, "candidate rejected",
			slog.String("group_key", group.GroupKey),
			slog.String("type", string(typ)),
			slog.String("reason", err.Error()),
		)
		return
	}
	if !metrics.NetProfitUSD.GreaterThan(decimal.Zero) {
		return
	}
	emit(domain.Candidate{
		Type:    typ,
		GroupID: group.ID,
		Legs:    domain.CanonicalLegs(legs),
		Params:  map[string]string{"model": modelVersion},
		Metrics: metrics,
	})
}
