// Package ingest discovers markets on external venues and keeps their quotes
// fresh, feeding the market store and the quote cache that the scanner reads.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/predarb/predarb/internal/domain"
)

// Client is one venue's market-data API.
type Client interface {
	Platform() string
	ListActiveMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error)
	FetchQuote(ctx context.Context, eventID string) (domain.Quote, error)
}

// Config tunes one ingest cycle.
type Config struct {
	// PageSize is the discovery page size per venue request.
	PageSize int
	// MaxMarkets caps markets ingested per venue per cycle.
	MaxMarkets int
	// QuoteWorkers bounds concurrent orderbook fetches per venue.
	QuoteWorkers int
	// RateKey prefixes the per-venue rate limiter keys.
	RateKey string
}

// Stats summarizes one ingest cycle.
type Stats struct {
	Markets     int
	Quotes      int
	QuoteErrors int
}

// Pipeline runs the fetch, normalize, persist cycle for every configured
// venue. Venue failures are isolated: one venue erroring never blocks the
// others' ingest.
type Pipeline struct {
	clients []Client
	markets domain.MarketStore
	quotes  domain.QuoteCache
	limiter domain.RateLimiter
	cfg     Config
	logger  *slog.Logger
}

func NewPipeline(
	clients []Client,
	markets domain.MarketStore,
	quotes domain.QuoteCache,
	limiter domain.RateLimiter,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		clients: clients,
		markets: markets,
		quotes:  quotes,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ingest")),
	}
}

// RunOnce ingests every venue once and returns aggregate stats. The error is
// non-nil only when every venue failed.
func (p *Pipeline) RunOnce(ctx context.Context) (Stats, error) {
	var (
		total   Stats
		failed  int
		lastErr error
	)
	for _, client := range p.clients {
		stats, err := p.ingestVenue(ctx, client)
		if err != nil {
			failed++
			lastErr = err
			p.logger.ErrorContext(ctx, "venue ingest failed",
				slog.String("platform", client.Platform()),
				slog.String("error", err.Error()),
			)
			continue
		}
		total.Markets += stats.Markets
		total.Quotes += stats.Quotes
		total.QuoteErrors += stats.QuoteErrors
	}
	if failed == len(p.clients) && failed > 0 {
		return total, fmt.Errorf("ingest: all venues failed: %w", lastErr)
	}

	known, err := p.markets.Count(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "market count unavailable", slog.String("error", err.Error()))
		known = -1
	}
	p.logger.InfoContext(ctx, "ingest cycle complete",
		slog.Int("ingested", total.Markets),
		slog.Int("quotes", total.Quotes),
		slog.Int64("known_markets", known),
	)
	return total, nil
}

// ingestVenue pages through a venue's active markets, fetches a quote for
// each, and persists the batch.
func (p *Pipeline) ingestVenue(ctx context.Context, client Client) (Stats, error) {
	var stats Stats
	platform := client.Platform()

	var discovered []domain.Market
	for offset := 0; offset < p.cfg.MaxMarkets; offset += p.cfg.PageSize {
		if err := p.limiter.Wait(ctx, p.cfg.RateKey+":"+platform+":markets"); err != nil {
			return stats, fmt.Errorf("ingest: rate wait: %w", err)
		}
		page, err := client.ListActiveMarkets(ctx, p.cfg.PageSize, offset)
		if err != nil {
			return stats, err
		}
		discovered = append(discovered, page...)
		if len(page) < p.cfg.PageSize {
			break
		}
	}
	if len(discovered) > p.cfg.MaxMarkets {
		discovered = discovered[:p.cfg.MaxMarkets]
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.QuoteWorkers)

	for i := range discovered {
		m := &discovered[i]
		g.Go(func() error {
			if err := p.limiter.Wait(gctx, p.cfg.RateKey+":"+platform+":orderbook"); err != nil {
				return fmt.Errorf("ingest: rate wait: %w", err)
			}
			quote, err := client.FetchQuote(gctx, m.EventID)
			if err != nil {
				// Quote failures leave the market quoteless; the scanner
				// filters it out as stale.
				if errors.Is(err, context.Canceled) {
					return err
				}
				p.logger.DebugContext(gctx, "quote fetch failed",
					slog.String("platform", platform),
					slog.String("event_id", m.EventID),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				stats.QuoteErrors++
				mu.Unlock()
				return nil
			}
			m.Quote = quote
			if err := p.quotes.Set(gctx, platform, m.EventID, quote); err != nil {
				p.logger.WarnContext(gctx, "quote cache set failed",
					slog.String("event_id", m.EventID),
					slog.String("error", err.Error()),
				)
			}
			mu.Lock()
			stats.Quotes++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if err := p.markets.UpsertBatch(ctx, discovered); err != nil {
		return stats, fmt.Errorf("ingest: upsert markets: %w", err)
	}
	stats.Markets = len(discovered)

	p.logger.InfoContext(ctx, "venue ingested",
		slog.String("platform", platform),
		slog.Int("markets", stats.Markets),
		slog.Int("quotes", stats.Quotes),
		slog.Int("quote_errors", stats.QuoteErrors),
	)
	return stats, nil
}
