// Package dedup maps candidates to persisted opportunities through the
// canonical identity hash. All racing is resolved at the storage boundary by
// the hash uniqueness constraint; this package never holds locks.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/predarb/predarb/internal/domain"
)

// Result reports the outcome of one upsert.
type Result struct {
	OpportunityID string
	Hash          string
	// Created is true when this call inserted the row. A false value means a
	// row with the same hash already existed and only its metrics were
	// refreshed; callers must not fan out fresh alerts for it.
	Created bool
}

// Deduplicator performs atomic insert-or-find of candidates by hash.
type Deduplicator struct {
	opps   domain.OpportunityStore
	logger *slog.Logger
}

// New creates a Deduplicator over the given opportunity store.
func New(opps domain.OpportunityStore, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		opps:   opps,
		logger: logger.With(slog.String("component", "dedup")),
	}
}

// Upsert computes the candidate's canonical hash and atomically
// inserts-or-finds the persisted row. Hash, type, and legs are immutable on
// an existing row; metrics are refreshed last-writer-wins. Concurrent callers
// with the same candidate all succeed and agree on the opportunity ID.
func (d *Deduplicator) Upsert(ctx context.Context, cand domain.Candidate) (Result, error) {
	now := time.Now().UTC()
	opp := domain.Opportunity{
		ID:          uuid.New().String(),
		Hash:        cand.Hash(),
		Type:        cand.Type,
		GroupID:     cand.GroupID,
		Legs:        domain.CanonicalLegs(cand.Legs),
		Params:      cand.Params,
		Metrics:     cand.Metrics,
		DetectedAt:  now,
		RefreshedAt: now,
	}

	id, created, err := d.opps.Upsert(ctx, opp)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: upsert %s: %w", opp.Hash, err)
	}

	if created {
		d.logger.InfoContext(ctx, "opportunity created",
			slog.String("opportunity_id", id),
			slog.String("hash", opp.Hash),
			slog.String("type", string(opp.Type)),
			slog.String("net_profit_usd", opp.Metrics.NetProfitUSD.String()),
		)
	} else {
		d.logger.DebugContext(ctx, "opportunity refreshed",
			slog.String("opportunity_id", id),
			slog.String("hash", opp.Hash),
		)
	}

	return Result{OpportunityID: id, Hash: opp.Hash, Created: created}, nil
}
