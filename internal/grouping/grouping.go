// Package grouping clusters markets that price the same underlying event on
// different venues. Groups are the unit of work for the opportunity scanner:
// only markets sharing a group key are compared against each other.
package grouping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/predarb/predarb/internal/domain"
)

// Config tunes the clustering heuristics.
type Config struct {
	// MinSimilarity is the title-similarity floor, 0..100.
	MinSimilarity int
	// MaxEndDateSkew is how far apart resolution dates may be for two markets
	// to still describe the same event. Markets without an end date never
	// veto on this axis.
	MaxEndDateSkew time.Duration
	// MaxGroupSize caps cluster membership; oversized clusters are truncated
	// in discovery order.
	MaxGroupSize int
	// MaxMarkets bounds the candidate pool per recompute, newest first.
	MaxMarkets int
}

// Defaults mirrors the tuning the heuristics were validated with.
func Defaults() Config {
	return Config{
		MinSimilarity:  70,
		MaxEndDateSkew: 60 * 24 * time.Hour,
		MaxGroupSize:   8,
		MaxMarkets:     1000,
	}
}

// Grouper recomputes correlation groups over the active market pool.
type Grouper struct {
	markets domain.MarketStore
	groups  domain.GroupStore
	cfg     Config
	logger  *slog.Logger
}

func New(markets domain.MarketStore, groups domain.GroupStore, cfg Config, logger *slog.Logger) *Grouper {
	return &Grouper{
		markets: markets,
		groups:  groups,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "grouping")),
	}
}

// Recompute rebuilds correlation groups from the current active market pool
// and persists both the groups and each member's group key. Cross-platform
// clusters only: a group whose members all live on one venue has nothing to
// arbitrage and is dropped.
func (g *Grouper) Recompute(ctx context.Context) (int, error) {
	pool, err := g.markets.ListActive(ctx, domain.ListOpts{Limit: g.cfg.MaxMarkets})
	if err != nil {
		return 0, fmt.Errorf("grouping: list active markets: %w", err)
	}

	clusters := g.cluster(pool)

	var (
		rows []domain.CorrelationGroup
		keys = make(map[string]string)
	)
	now := time.Now().UTC()
	for _, cl := range clusters {
		if len(cl) < 2 || !crossPlatform(cl) {
			continue
		}
		seed := cl[0]
		key := groupKey(seed)
		kind := domain.GroupKindBinary
		if len(cl) > 2 {
			kind = domain.GroupKindMultiOutcome
		}
		ids := make([]string, len(cl))
		for i, m := range cl {
			ids[i] = m.ID
			keys[m.ID] = key
		}
		rows = append(rows, domain.CorrelationGroup{
			ID:        uuid.NewString(),
			GroupKey:  key,
			Title:     seed.Title,
			Kind:      kind,
			MarketIDs: ids,
			UpdatedAt: now,
		})
	}

	if err := g.groups.UpsertBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("grouping: upsert groups: %w", err)
	}
	if err := g.markets.SetGroupKeys(ctx, keys); err != nil {
		return 0, fmt.Errorf("grouping: set group keys: %w", err)
	}

	g.logger.InfoContext(ctx, "groups recomputed",
		slog.Int("markets", len(pool)),
		slog.Int("groups", len(rows)),
	)
	return len(rows), nil
}

// cluster greedily assigns each market to the first existing cluster whose
// seed it is compatible with, otherwise seeds a new cluster. Greedy seeding
// keeps group keys stable across recomputes as long as the seed market stays
// active.
func (g *Grouper) cluster(pool []domain.Market) [][]domain.Market {
	var clusters [][]domain.Market
next:
	for _, m := range pool {
		for i, cl := range clusters {
			if len(cl) >= g.cfg.MaxGroupSize {
				continue
			}
			if g.compatible(cl[0], m) {
				clusters[i] = append(clusters[i], m)
				continue next
			}
		}
		clusters = append(clusters, []domain.Market{m})
	}
	return clusters
}

// compatible applies the pairwise filters from cheapest to most expensive:
// end-date proximity, entity overlap, then title similarity.
func (g *Grouper) compatible(a, b domain.Market) bool {
	if !endDatesWithin(a, b, g.cfg.MaxEndDateSkew) {
		return false
	}
	if !entitiesCompatible(extractEntities(a.Title), extractEntities(b.Title)) {
		return false
	}
	return similarity(a.Title, b.Title) >= g.cfg.MinSimilarity
}

func endDatesWithin(a, b domain.Market, skew time.Duration) bool {
	if a.EndDate == nil || b.EndDate == nil {
		return true
	}
	d := a.EndDate.Sub(*b.EndDate)
	if d < 0 {
		d = -d
	}
	return d <= skew
}

func crossPlatform(cl []domain.Market) bool {
	for _, m := range cl[1:] {
		if m.Platform != cl[0].Platform {
			return true
		}
	}
	return false
}

// groupKey derives a stable key from the seed market's normalized title and
// resolution month. The key survives price updates and member churn.
func groupKey(seed domain.Market) string {
	bucket := "open"
	if seed.EndDate != nil {
		bucket = seed.EndDate.UTC().Format("2006-01")
	}
	return Slug(seed.Title) + ":" + bucket
}
