package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/predarb/predarb/internal/alert"
	"github.com/predarb/predarb/internal/dedup"
	"github.com/predarb/predarb/internal/domain"
)

// scanPassLock serializes scheduled passes across processes.
const scanPassLock = "scan_pass"

// EngineConfig tunes one scan pass.
type EngineConfig struct {
	// Workers bounds concurrent group scans.
	Workers int
	// MaxGroups caps the groups considered per pass, newest first.
	MaxGroups int
	// GroupTimeout is the per-group time budget; a group exceeding it is
	// abandoned for the pass and retried on the next one.
	GroupTimeout time.Duration
	// LockTTL bounds how long the cross-process pass lock is held.
	LockTTL time.Duration
}

// PassStats summarizes one scan pass.
type PassStats struct {
	Groups     int
	Abandoned  int
	Candidates int
	Created    int
	Refreshed  int
	Enqueued   int
}

// Engine runs recurring scan passes: it partitions work by correlation group,
// scans groups on a bounded worker pool, and hands surviving candidates to
// the deduplicator and dispatcher. Groups share no mutable state, so the only
// synchronization is the storage boundary's uniqueness constraints.
type Engine struct {
	scanner    *Scanner
	groups     domain.GroupStore
	fees       domain.FeeStore
	dedup      *dedup.Deduplicator
	dispatcher *alert.Dispatcher
	locks      domain.LockManager
	cfg        EngineConfig
	logger     *slog.Logger
}

// NewEngine creates a scan-pass Engine.
func NewEngine(
	scanner *Scanner,
	groups domain.GroupStore,
	fees domain.FeeStore,
	dd *dedup.Deduplicator,
	dispatcher *alert.Dispatcher,
	locks domain.LockManager,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		scanner:    scanner,
		groups:     groups,
		fees:       fees,
		dedup:      dd,
		dispatcher: dispatcher,
		locks:      locks,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "scan_engine")),
	}
}

// RunPass executes one full scan pass. A pass already running elsewhere is
// skipped, not queued. Storage failures abort the pass; it is retried whole
// on the next scheduling cycle.
func (e *Engine) RunPass(ctx context.Context) (PassStats, error) {
	var stats PassStats

	unlock, err := e.locks.Acquire(ctx, scanPassLock, e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			e.logger.InfoContext(ctx, "scan pass already running, skipping")
			return stats, nil
		}
		return stats, fmt.Errorf("scanner: acquire pass lock: %w", err)
	}
	defer unlock()

	// One immutable fee snapshot per pass: fee changes mid-pass never mix
	// into this pass's metrics.
	feeList, err := e.fees.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("scanner: load fee snapshot: %w", err)
	}
	snapshot := make(domain.FeeSnapshot, len(feeList))
	for _, f := range feeList {
		snapshot[f.Platform] = f
	}

	groups, err := e.groups.ListRecent(ctx, e.cfg.MaxGroups)
	if err != nil {
		return stats, fmt.Errorf("scanner: list groups: %w", err)
	}
	stats.Groups = len(groups)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, group := range groups {
		g.Go(func() error {
			groupCtx, cancel := context.WithTimeout(gctx, e.cfg.GroupTimeout)
			defer cancel()

			cands, err := e.scanner.ScanGroup(groupCtx, group, snapshot)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && gctx.Err() == nil {
					// Over budget: abandon for this pass, warn, keep the pool moving.
					e.logger.WarnContext(gctx, "group scan abandoned",
						slog.String("group_key", group.GroupKey),
						slog.Duration("budget", e.cfg.GroupTimeout),
					)
					mu.Lock()
					stats.Abandoned++
					mu.Unlock()
					return nil
				}
				return err
			}

			local, err := e.persist(gctx, cands)
			if err != nil {
				return err
			}
			mu.Lock()
			stats.Candidates += len(cands)
			stats.Created += local.Created
			stats.Refreshed += local.Refreshed
			stats.Enqueued += local.Enqueued
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("scanner: pass: %w", err)
	}

	e.logger.InfoContext(ctx, "scan pass complete",
		slog.Int("groups", stats.Groups),
		slog.Int("abandoned", stats.Abandoned),
		slog.Int("candidates", stats.Candidates),
		slog.Int("created", stats.Created),
		slog.Int("refreshed", stats.Refreshed),
		slog.Int("alerts_enqueued", stats.Enqueued),
	)
	return stats, nil
}

// persist runs each candidate through dedup and fans out alerts. Only newly
// created opportunities trigger fresh alerts; refreshes go through the
// re-alert damping policy instead.
func (e *Engine) persist(ctx context.Context, cands []domain.Candidate) (PassStats, error) {
	var stats PassStats
	for _, cand := range cands {
		res, err := e.dedup.Upsert(ctx, cand)
		if err != nil {
			return stats, err
		}
		if res.Created {
			stats.Created++
			n, err := e.dispatcher.DispatchNew(ctx, res.OpportunityID, cand.Metrics.NetProfitUSD)
			if err != nil {
				return stats, err
			}
			stats.Enqueued += n
			continue
		}
		stats.Refreshed++
		if _, err := e.dispatcher.HandleRefresh(ctx, res.OpportunityID, cand.Metrics.NetProfitUSD); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
