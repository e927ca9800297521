package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/predarb/predarb/internal/domain"
	"github.com/predarb/predarb/internal/platform/polymarket"
)

// FeedConfig tunes the real-time quote feed.
type FeedConfig struct {
	// SubscribeBatch is how many markets to subscribe to, newest first.
	SubscribeBatch int
	// FlushInterval is how often buffered quote updates are written through
	// to the market store.
	FlushInterval time.Duration
}

// PriceFeed wires the Polymarket WebSocket feed into the quote cache and the
// market store. Cache writes happen per update; store writes are buffered and
// flushed on an interval so a busy feed never saturates the database.
type PriceFeed struct {
	ws      *polymarket.WSClient
	markets domain.MarketStore
	quotes  domain.QuoteCache
	cfg     FeedConfig
	logger  *slog.Logger

	updates chan feedUpdate
}

type feedUpdate struct {
	eventID string
	quote   domain.Quote
}

func NewPriceFeed(
	ws *polymarket.WSClient,
	markets domain.MarketStore,
	quotes domain.QuoteCache,
	cfg FeedConfig,
	logger *slog.Logger,
) *PriceFeed {
	return &PriceFeed{
		ws:      ws,
		markets: markets,
		quotes:  quotes,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "price_feed")),
		updates: make(chan feedUpdate, 1024),
	}
}

// Run connects, subscribes to the active market set, and pumps quote updates
// until the context is cancelled.
func (f *PriceFeed) Run(ctx context.Context) error {
	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("ingest: feed connect: %w", err)
	}
	defer f.ws.Close()

	active, err := f.markets.ListActive(ctx, domain.ListOpts{Limit: f.cfg.SubscribeBatch})
	if err != nil {
		return fmt.Errorf("ingest: feed list markets: %w", err)
	}
	eventIDs := make([]string, 0, len(active))
	for _, m := range active {
		if m.Platform == domain.PlatformPolymarket {
			eventIDs = append(eventIDs, m.EventID)
		}
	}
	if len(eventIDs) == 0 {
		f.logger.WarnContext(ctx, "no markets to subscribe, feed idle")
	} else if err := f.ws.Subscribe(ctx, eventIDs); err != nil {
		return fmt.Errorf("ingest: feed subscribe: %w", err)
	}

	f.ws.OnQuoteUpdate(func(eventID string, quote domain.Quote) {
		select {
		case f.updates <- feedUpdate{eventID: eventID, quote: quote}:
		default:
			// Buffer full: drop the update, the next one supersedes it anyway.
		}
	})

	f.logger.InfoContext(ctx, "price feed running", slog.Int("subscriptions", len(eventIDs)))
	return f.pump(ctx)
}

// pump applies updates to the cache immediately and writes the newest quote
// per market to the store every FlushInterval.
func (f *PriceFeed) pump(ctx context.Context) error {
	dirty := make(map[string]domain.Quote)
	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flush(context.WithoutCancel(ctx), dirty)
			return ctx.Err()

		case u := <-f.updates:
			if !u.quote.Valid() {
				continue
			}
			if err := f.quotes.Set(ctx, domain.PlatformPolymarket, u.eventID, u.quote); err != nil {
				f.logger.WarnContext(ctx, "quote cache set failed",
					slog.String("event_id", u.eventID),
					slog.String("error", err.Error()),
				)
			}
			dirty[u.eventID] = u.quote

		case <-ticker.C:
			f.flush(ctx, dirty)
			dirty = make(map[string]domain.Quote)
		}
	}
}

func (f *PriceFeed) flush(ctx context.Context, dirty map[string]domain.Quote) {
	for eventID, quote := range dirty {
		if err := f.markets.UpdateQuote(ctx, domain.PlatformPolymarket, eventID, quote); err != nil {
			f.logger.WarnContext(ctx, "quote flush failed",
				slog.String("event_id", eventID),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(dirty) > 0 {
		f.logger.DebugContext(ctx, "quotes flushed", slog.Int("count", len(dirty)))
	}
}
