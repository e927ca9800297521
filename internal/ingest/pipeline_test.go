package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

type fakeClient struct {
	platform string
	markets  []domain.Market
	listErr  error
	badQuote map[string]error

	mu        sync.Mutex
	listCalls int
}

func (c *fakeClient) Platform() string { return c.platform }

func (c *fakeClient) ListActiveMarkets(_ context.Context, limit, offset int) ([]domain.Market, error) {
	c.mu.Lock()
	c.listCalls++
	c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	if offset >= len(c.markets) {
		return nil, nil
	}
	end := offset + limit
	if end > len(c.markets) {
		end = len(c.markets)
	}
	return c.markets[offset:end], nil
}

func (c *fakeClient) FetchQuote(_ context.Context, eventID string) (domain.Quote, error) {
	if err := c.badQuote[eventID]; err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		YesPrice:    decimal.NewFromFloat(0.40),
		NoPrice:     decimal.NewFromFloat(0.62),
		FillableUSD: decimal.NewFromInt(500),
		Ts:          time.Now().UTC(),
	}, nil
}

type captureMarketStore struct {
	mu         sync.Mutex
	batches    [][]domain.Market
	countCalls int
}

func (s *captureMarketStore) UpsertBatch(_ context.Context, markets []domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, markets)
	return nil
}

func (s *captureMarketStore) GetByID(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (s *captureMarketStore) ListByGroupKey(context.Context, string) ([]domain.Market, error) {
	return nil, nil
}
func (s *captureMarketStore) ListActive(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (s *captureMarketStore) UpdateQuote(context.Context, string, string, domain.Quote) error {
	return nil
}
func (s *captureMarketStore) SetGroupKeys(context.Context, map[string]string) error { return nil }

func (s *captureMarketStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	var n int64
	for _, b := range s.batches {
		n += int64(len(b))
	}
	return n, nil
}

type memQuoteCache struct {
	mu sync.Mutex
	m  map[string]domain.Quote
}

func (c *memQuoteCache) Set(_ context.Context, platform, eventID string, q domain.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]domain.Quote)
	}
	c.m[platform+"/"+eventID] = q
	return nil
}

func (c *memQuoteCache) Get(_ context.Context, platform, eventID string) (domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.m[platform+"/"+eventID]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

type noopLimiter struct{}

func (noopLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}
func (noopLimiter) Wait(context.Context, string) error { return nil }

func venueMarkets(platform string, n int) []domain.Market {
	markets := make([]domain.Market, n)
	for i := range markets {
		id := fmt.Sprintf("%s-%d", platform, i)
		markets[i] = domain.Market{
			ID:       id,
			Platform: platform,
			EventID:  id,
			Title:    "Market " + id,
			Status:   domain.MarketStatusActive,
		}
	}
	return markets
}

func newTestPipeline(store *captureMarketStore, cache *memQuoteCache, clients ...Client) *Pipeline {
	return NewPipeline(clients, store, cache, noopLimiter{}, Config{
		PageSize:     10,
		MaxMarkets:   50,
		QuoteWorkers: 4,
		RateKey:      "ingest",
	}, slog.Default())
}

func TestRunOnce_PagesThroughDiscovery(t *testing.T) {
	client := &fakeClient{platform: "polymarket", markets: venueMarkets("polymarket", 25)}
	store := &captureMarketStore{}
	cache := &memQuoteCache{}

	stats, err := newTestPipeline(store, cache, client).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Markets != 25 {
		t.Errorf("markets = %d, want 25", stats.Markets)
	}
	if stats.Quotes != 25 {
		t.Errorf("quotes = %d, want 25", stats.Quotes)
	}
	// 25 markets at page size 10 is three pages, the last one short.
	if client.listCalls != 3 {
		t.Errorf("list calls = %d, want 3", client.listCalls)
	}
	if len(store.batches) != 1 || len(store.batches[0]) != 25 {
		t.Fatalf("unexpected upsert batches: %d", len(store.batches))
	}
	if store.batches[0][0].Quote.YesPrice.IsZero() {
		t.Error("persisted market missing its fetched quote")
	}
	if _, err := cache.Get(context.Background(), "polymarket", "polymarket-0"); err != nil {
		t.Errorf("quote not cached: %v", err)
	}
	// Cycle summary reports the store-wide market count.
	if store.countCalls != 1 {
		t.Errorf("count calls = %d, want 1", store.countCalls)
	}
}

func TestRunOnce_ToleratesQuoteErrors(t *testing.T) {
	client := &fakeClient{
		platform: "limitless",
		markets:  venueMarkets("limitless", 3),
		badQuote: map[string]error{"limitless-1": errors.New("orderbook 500")},
	}
	store := &captureMarketStore{}

	stats, err := newTestPipeline(store, &memQuoteCache{}, client).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Markets != 3 {
		t.Errorf("markets = %d, want 3", stats.Markets)
	}
	if stats.Quotes != 2 {
		t.Errorf("quotes = %d, want 2", stats.Quotes)
	}
	if stats.QuoteErrors != 1 {
		t.Errorf("quote errors = %d, want 1", stats.QuoteErrors)
	}
	// The quoteless market is still persisted for discovery continuity.
	if len(store.batches) != 1 || len(store.batches[0]) != 3 {
		t.Fatalf("unexpected upsert batches: %+v", store.batches)
	}
}

func TestRunOnce_IsolatesVenueFailure(t *testing.T) {
	broken := &fakeClient{platform: "polymarket", listErr: errors.New("gamma api down")}
	healthy := &fakeClient{platform: "limitless", markets: venueMarkets("limitless", 5)}
	store := &captureMarketStore{}

	stats, err := newTestPipeline(store, &memQuoteCache{}, broken, healthy).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce with one healthy venue: %v", err)
	}
	if stats.Markets != 5 {
		t.Errorf("markets = %d, want 5", stats.Markets)
	}
}

func TestRunOnce_AllVenuesFailed(t *testing.T) {
	broken := &fakeClient{platform: "polymarket", listErr: errors.New("gamma api down")}
	store := &captureMarketStore{}

	_, err := newTestPipeline(store, &memQuoteCache{}, broken).RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error when every venue fails")
	}
}

func TestRunOnce_CapsMarketsPerVenue(t *testing.T) {
	client := &fakeClient{platform: "polymarket", markets: venueMarkets("polymarket", 200)}
	store := &captureMarketStore{}

	stats, err := newTestPipeline(store, &memQuoteCache{}, client).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Markets != 50 {
		t.Errorf("markets = %d, want cap of 50", stats.Markets)
	}
}
