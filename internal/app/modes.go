package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/predarb/predarb/internal/alert"
	"github.com/predarb/predarb/internal/dedup"
	"github.com/predarb/predarb/internal/domain"
	"github.com/predarb/predarb/internal/grouping"
	"github.com/predarb/predarb/internal/ingest"
	"github.com/predarb/predarb/internal/platform/limitless"
	"github.com/predarb/predarb/internal/platform/polymarket"
	"github.com/predarb/predarb/internal/scanner"
	"github.com/predarb/predarb/internal/sched"
)

// IngestMode runs market discovery and quote refresh: the polling pipeline on
// its interval, the optional WebSocket quote feed, and the correlation-group
// recompute job.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	pipeline := a.newPipeline(deps)
	g.Go(func() error {
		return a.runIngestLoop(ctx, deps, pipeline)
	})

	if a.cfg.Ingest.FeedEnabled {
		feed := a.newPriceFeed(deps)
		g.Go(func() error {
			return feed.Run(ctx)
		})
	}

	runner := sched.New(ctx, a.logger)
	if err := a.scheduleGrouping(runner, deps); err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	return g.Wait()
}

// ScanMode runs the opportunity scan pass on its interval, plus the grouping
// recompute and archive jobs. It assumes some other process keeps market data
// fresh.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	g, ctx := errgroup.WithContext(ctx)

	engine := a.newScanEngine(deps)
	g.Go(func() error {
		return a.runScanLoop(ctx, deps, engine)
	})

	runner := sched.New(ctx, a.logger)
	if err := a.scheduleGrouping(runner, deps); err != nil {
		return err
	}
	if err := a.scheduleArchive(runner, deps); err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	return g.Wait()
}

// AlertsMode runs the alert delivery worker alone.
func (a *App) AlertsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting alerts mode")

	worker, err := a.newAlertWorker(deps)
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}

// FullMode runs everything in one process: ingest, scan, delivery, and the
// scheduled jobs.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	pipeline := a.newPipeline(deps)
	g.Go(func() error {
		return a.runIngestLoop(ctx, deps, pipeline)
	})

	if a.cfg.Ingest.FeedEnabled {
		feed := a.newPriceFeed(deps)
		g.Go(func() error {
			return feed.Run(ctx)
		})
	}

	engine := a.newScanEngine(deps)
	g.Go(func() error {
		return a.runScanLoop(ctx, deps, engine)
	})

	worker, err := a.newAlertWorker(deps)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return worker.Run(ctx)
	})

	runner := sched.New(ctx, a.logger)
	if err := a.scheduleGrouping(runner, deps); err != nil {
		return err
	}
	if err := a.scheduleArchive(runner, deps); err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	return g.Wait()
}

// runIngestLoop runs one ingest cycle immediately, then again on every
// interval tick. Cycle failures are reported and retried on the next tick.
func (a *App) runIngestLoop(ctx context.Context, deps *Dependencies, pipeline *ingest.Pipeline) error {
	ticker := time.NewTicker(a.cfg.Ingest.Interval.Duration)
	defer ticker.Stop()

	for {
		if _, err := pipeline.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.ErrorContext(ctx, "ingest cycle failed", slog.String("error", err.Error()))
			_ = deps.Notifier.Notify(ctx, "ingest_failed", "Ingest failed", err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runScanLoop runs one scan pass immediately, then again on every interval
// tick. Pass failures are reported and retried on the next tick.
func (a *App) runScanLoop(ctx context.Context, deps *Dependencies, engine *scanner.Engine) error {
	ticker := time.NewTicker(a.cfg.Scanner.Interval.Duration)
	defer ticker.Stop()

	for {
		stats, err := engine.RunPass(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.ErrorContext(ctx, "scan pass failed", slog.String("error", err.Error()))
			_ = deps.Notifier.Notify(ctx, "error", "Scan pass failed", err.Error())
		case stats.Created > 0:
			_ = deps.Notifier.Notify(ctx, "scan_pass", "New opportunities",
				fmt.Sprintf("%d new opportunities detected, %d alerts enqueued", stats.Created, stats.Enqueued))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) newPipeline(deps *Dependencies) *ingest.Pipeline {
	clients := []ingest.Client{
		polymarket.NewClient(a.cfg.Polymarket.BaseURL),
		limitless.NewClient(a.cfg.Limitless.BaseURL),
	}
	return ingest.NewPipeline(clients, deps.MarketStore, deps.QuoteCache, deps.RateLimiter, ingest.Config{
		PageSize:     a.cfg.Ingest.PageSize,
		MaxMarkets:   a.cfg.Ingest.MaxMarkets,
		QuoteWorkers: a.cfg.Ingest.QuoteWorkers,
		RateKey:      "ingest",
	}, a.logger)
}

func (a *App) newPriceFeed(deps *Dependencies) *ingest.PriceFeed {
	ws := polymarket.NewWSClient(a.cfg.Polymarket.WsURL)
	return ingest.NewPriceFeed(ws, deps.MarketStore, deps.QuoteCache, ingest.FeedConfig{
		SubscribeBatch: a.cfg.Ingest.SubscribeBatch,
		FlushInterval:  a.cfg.Ingest.FlushInterval.Duration,
	}, a.logger)
}

func (a *App) newScanEngine(deps *Dependencies) *scanner.Engine {
	buckets := make([]decimal.Decimal, 0, len(a.cfg.Scanner.SizeBucketsUSD))
	for _, s := range a.cfg.Scanner.SizeBucketsUSD {
		buckets = append(buckets, decimal.NewFromFloat(s))
	}
	sc := scanner.New(deps.MarketStore, deps.QuoteCache, scanner.Config{
		SizeBucketsUSD: buckets,
		MaxGroupSize:   a.cfg.Scanner.MaxGroupSize,
		MaxQuoteAge:    a.cfg.Scanner.MaxQuoteAge.Duration,
		Rebalancing:    a.cfg.Scanner.Rebalancing,
	}, a.logger)

	dd := dedup.New(deps.OpportunityStore, a.logger)
	dispatcher := alert.NewDispatcher(
		deps.AlertStore,
		deps.SubscriberStore,
		decimal.NewFromFloat(a.cfg.Alerts.MinImprovementUSD),
		a.logger,
	)

	return scanner.NewEngine(sc, deps.GroupStore, deps.FeeStore, dd, dispatcher, deps.LockManager, scanner.EngineConfig{
		Workers:      a.cfg.Scanner.Workers,
		MaxGroups:    a.cfg.Scanner.MaxGroups,
		GroupTimeout: a.cfg.Scanner.GroupTimeout.Duration,
		LockTTL:      a.cfg.Scanner.LockTTL.Duration,
	}, a.logger)
}

func (a *App) newAlertWorker(deps *Dependencies) (*alert.Worker, error) {
	if deps.UserSender == nil {
		return nil, fmt.Errorf("app: alert delivery requires a telegram token")
	}
	return alert.NewWorker(deps.AlertStore, deps.OpportunityStore, deps.UserSender, alert.WorkerConfig{
		PollInterval:   a.cfg.Alerts.PollInterval.Duration,
		BatchLimit:     a.cfg.Alerts.BatchLimit,
		Lease:          a.cfg.Alerts.Lease.Duration,
		AttemptTimeout: a.cfg.Alerts.AttemptTimeout.Duration,
		Cooldown:       a.cfg.Alerts.Cooldown.Duration,
		Backoff: alert.Backoff{
			Base:        a.cfg.Alerts.BackoffBase.Duration,
			Cap:         a.cfg.Alerts.BackoffCap.Duration,
			MaxAttempts: a.cfg.Alerts.MaxAttempts,
		},
	}, a.logger), nil
}

func (a *App) scheduleGrouping(runner *sched.Runner, deps *Dependencies) error {
	grouper := grouping.New(deps.MarketStore, deps.GroupStore, grouping.Config{
		MinSimilarity:  a.cfg.Grouping.MinSimilarity,
		MaxEndDateSkew: a.cfg.Grouping.MaxEndDateSkew.Duration,
		MaxGroupSize:   a.cfg.Grouping.MaxGroupSize,
		MaxMarkets:     a.cfg.Grouping.MaxMarkets,
	}, a.logger)
	// Ingest and scan processes both schedule this job; the lock keeps one
	// recompute running at a time across the deployment.
	return runner.Add("grouping", a.cfg.Grouping.Cron, func(ctx context.Context) error {
		unlock, err := deps.LockManager.Acquire(ctx, "grouping_recompute", 5*time.Minute)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return nil
			}
			return err
		}
		defer unlock()
		_, err = grouper.Recompute(ctx)
		return err
	})
}

func (a *App) scheduleArchive(runner *sched.Runner, deps *Dependencies) error {
	if deps.Archiver == nil {
		return nil
	}
	return runner.Add("archive", a.cfg.Archive.Cron, func(ctx context.Context) error {
		return deps.Archiver.Run(ctx, time.Now().UTC())
	})
}
