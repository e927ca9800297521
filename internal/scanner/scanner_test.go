package scanner

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

type fakeMarketStore struct {
	byGroup map[string][]domain.Market
}

func (f *fakeMarketStore) UpsertBatch(context.Context, []domain.Market) error { return nil }
func (f *fakeMarketStore) GetByID(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (f *fakeMarketStore) ListByGroupKey(_ context.Context, key string) ([]domain.Market, error) {
	return f.byGroup[key], nil
}
func (f *fakeMarketStore) ListActive(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (f *fakeMarketStore) UpdateQuote(context.Context, string, string, domain.Quote) error {
	return nil
}
func (f *fakeMarketStore) SetGroupKeys(context.Context, map[string]string) error { return nil }
func (f *fakeMarketStore) Count(context.Context) (int64, error)                  { return 0, nil }

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func market(id, platform string, yes, no float64) domain.Market {
	return domain.Market{
		ID:       id,
		Platform: platform,
		EventID:  id,
		Status:   domain.MarketStatusActive,
		Quote: domain.Quote{
			YesPrice:    dec(yes),
			NoPrice:     dec(no),
			FillableUSD: dec(1000),
			Ts:          time.Now().UTC(),
		},
	}
}

func freeSnapshot(platforms ...string) domain.FeeSnapshot {
	s := make(domain.FeeSnapshot, len(platforms))
	for _, p := range platforms {
		s[p] = domain.PlatformFee{Platform: p}
	}
	return s
}

func newTestScanner(markets ...domain.Market) *Scanner {
	store := &fakeMarketStore{byGroup: map[string][]domain.Market{"g": markets}}
	return New(store, nil, Config{
		SizeBucketsUSD: []decimal.Decimal{dec(100)},
		MaxGroupSize:   6,
		MaxQuoteAge:    2 * time.Minute,
		Rebalancing:    true,
	}, slog.Default())
}

type fakeQuoteCache struct {
	quotes map[string]domain.Quote
}

func (f *fakeQuoteCache) Set(_ context.Context, platform, eventID string, q domain.Quote) error {
	f.quotes[platform+"/"+eventID] = q
	return nil
}

func (f *fakeQuoteCache) Get(_ context.Context, platform, eventID string) (domain.Quote, error) {
	q, ok := f.quotes[platform+"/"+eventID]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func newCachedScanner(cache *fakeQuoteCache, markets ...domain.Market) *Scanner {
	store := &fakeMarketStore{byGroup: map[string][]domain.Market{"g": markets}}
	return New(store, cache, Config{
		SizeBucketsUSD: []decimal.Decimal{dec(100)},
		MaxGroupSize:   6,
		MaxQuoteAge:    2 * time.Minute,
		Rebalancing:    true,
	}, slog.Default())
}

var testGroup = domain.CorrelationGroup{ID: "grp-1", GroupKey: "g", Kind: domain.GroupKindBinary}

func TestScanGroup_EmitsPositiveDutchBook(t *testing.T) {
	// YES@0.40 on polymarket + NO@0.50 on limitless sums to 0.90; the
	// reverse direction (YES@0.45 + NO@0.65) sums past 1 and is dropped.
	s := newTestScanner(
		market("m1", "polymarket", 0.40, 0.65),
		market("m2", "limitless", 0.45, 0.50),
	)

	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket", "limitless"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}

	c := cands[0]
	if c.Type != domain.OppTypeDutchBook {
		t.Errorf("type = %s, want dutch_book", c.Type)
	}
	if c.GroupID != "grp-1" {
		t.Errorf("group id = %s, want grp-1", c.GroupID)
	}
	if !c.Metrics.NetProfitUSD.Equal(dec(10)) {
		t.Errorf("net = %s, want 10", c.Metrics.NetProfitUSD)
	}
}

func TestScanGroup_SkipsSamePlatformPairs(t *testing.T) {
	s := newTestScanner(
		market("m1", "polymarket", 0.40, 0.65),
		market("m2", "polymarket", 0.45, 0.50),
	)

	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("candidates = %d, want 0 for same-platform pair", len(cands))
	}
}

func TestScanGroup_SkipsStaleQuotes(t *testing.T) {
	stale := market("m2", "limitless", 0.45, 0.50)
	stale.Quote.Ts = time.Now().UTC().Add(-time.Hour)

	s := newTestScanner(market("m1", "polymarket", 0.40, 0.65), stale)

	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket", "limitless"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("candidates = %d, want 0 when one quote is stale", len(cands))
	}
}

func TestScanGroup_SkipsMalformedQuotes(t *testing.T) {
	bad := market("m2", "limitless", 0.45, 0.50)
	bad.Quote.NoPrice = decimal.Zero

	s := newTestScanner(market("m1", "polymarket", 0.40, 0.65), bad)

	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket", "limitless"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("candidates = %d, want 0 when one quote is malformed", len(cands))
	}
}

func TestScanGroup_RejectsUnknownFeePlatform(t *testing.T) {
	s := newTestScanner(
		market("m1", "polymarket", 0.40, 0.65),
		market("m2", "limitless", 0.45, 0.50),
	)

	// limitless missing from the snapshot: the pair is rejected, not priced
	// at zero fees.
	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("candidates = %d, want 0 with unknown platform fees", len(cands))
	}
}

func TestScanGroup_RespectsFillableDepth(t *testing.T) {
	shallow := market("m2", "limitless", 0.45, 0.50)
	shallow.Quote.FillableUSD = dec(50) // below the only size bucket

	s := newTestScanner(market("m1", "polymarket", 0.40, 0.65), shallow)

	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket", "limitless"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("candidates = %d, want 0 when depth cannot absorb the bucket", len(cands))
	}
}

func TestScanGroup_RebalancingBuyAll(t *testing.T) {
	// Three-outcome partition, YES prices summing to 0.90. NO prices are set
	// high enough that no dutch-book pair survives.
	s := newTestScanner(
		market("m1", "polymarket", 0.30, 0.95),
		market("m2", "limitless", 0.30, 0.95),
		market("m3", "other", 0.30, 0.95),
	)
	group := domain.CorrelationGroup{ID: "grp-1", GroupKey: "g", Kind: domain.GroupKindMultiOutcome}

	cands, err := s.ScanGroup(context.Background(), group, freeSnapshot("polymarket", "limitless", "other"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
	c := cands[0]
	if c.Type != domain.OppTypeRebalancing {
		t.Errorf("type = %s, want rebalancing", c.Type)
	}
	if len(c.Legs) != 3 {
		t.Errorf("legs = %d, want 3", len(c.Legs))
	}
	if !c.Metrics.NetProfitUSD.Equal(dec(10)) {
		t.Errorf("net = %s, want 10", c.Metrics.NetProfitUSD)
	}
}

func TestScanGroup_NoRebalancingForBinaryGroups(t *testing.T) {
	s := newTestScanner(
		market("m1", "polymarket", 0.30, 0.95),
		market("m2", "limitless", 0.30, 0.95),
	)

	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket", "limitless"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("candidates = %d, want 0 (buy-all needs a multi-outcome group)", len(cands))
	}
}

func TestScanGroup_OverlaysFresherCachedQuote(t *testing.T) {
	// The stored m2 quote aged past MaxQuoteAge, but the feed has pushed a
	// fresh one to the cache that has not been flushed to the store yet.
	aged := market("m2", "limitless", 0.45, 0.50)
	aged.Quote.Ts = time.Now().UTC().Add(-time.Hour)

	fresh := market("m2", "limitless", 0.45, 0.50).Quote
	cache := &fakeQuoteCache{quotes: map[string]domain.Quote{"limitless/m2": fresh}}

	s := newCachedScanner(cache, market("m1", "polymarket", 0.40, 0.65), aged)

	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket", "limitless"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1 with cached quote overlaid", len(cands))
	}
}

func TestScanGroup_KeepsStoredQuoteWhenCacheIsOlder(t *testing.T) {
	older := market("m2", "limitless", 0.30, 0.30).Quote
	older.Ts = time.Now().UTC().Add(-time.Minute)
	cache := &fakeQuoteCache{quotes: map[string]domain.Quote{"limitless/m2": older}}

	s := newCachedScanner(cache,
		market("m1", "polymarket", 0.40, 0.65),
		market("m2", "limitless", 0.45, 0.50),
	)

	cands, err := s.ScanGroup(context.Background(), testGroup, freeSnapshot("polymarket", "limitless"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
	for _, leg := range cands[0].Legs {
		if leg.MarketID == "m2" && leg.Side == domain.SideNo && !leg.Price.Equal(dec(0.50)) {
			t.Errorf("m2 NO price = %s, want stored 0.50 over stale cached 0.30", leg.Price)
		}
	}
}
