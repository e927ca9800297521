// Package alert enqueues per-user alerts for newly detected opportunities and
// drives their delivery through a retrying worker. Enqueue is idempotent per
// (user, opportunity); delivery owns every alert state transition.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
)

// Dispatcher fans a new opportunity out to its eligible subscribers.
type Dispatcher struct {
	alerts domain.AlertStore
	subs   domain.SubscriberStore
	// minImprovement damps refresh re-alerts: a sent alert is only reopened
	// when net profit improves on the last delivered value by at least this
	// much.
	minImprovement decimal.Decimal
	logger         *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(alerts domain.AlertStore, subs domain.SubscriberStore, minImprovement decimal.Decimal, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		alerts:         alerts,
		subs:           subs,
		minImprovement: minImprovement,
		logger:         logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch enqueues at most one pending alert per user for the opportunity
// and returns the number actually created. Pairs that already have an alert
// row are skipped by the storage uniqueness constraint, so calling Dispatch
// twice for the same opportunity never duplicates rows.
func (d *Dispatcher) Dispatch(ctx context.Context, opportunityID string, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	n, err := d.alerts.Enqueue(ctx, opportunityID, userIDs)
	if err != nil {
		return 0, fmt.Errorf("alert: enqueue %s: %w", opportunityID, err)
	}
	d.logger.InfoContext(ctx, "alerts enqueued",
		slog.String("opportunity_id", opportunityID),
		slog.Int("eligible", len(userIDs)),
		slog.Int("enqueued", n),
	)
	return n, nil
}

// DispatchNew resolves the eligible subscriber set for a newly created
// opportunity and enqueues their alerts.
func (d *Dispatcher) DispatchNew(ctx context.Context, opportunityID string, netProfitUSD decimal.Decimal) (int, error) {
	subs, err := d.subs.ListEligible(ctx, netProfitUSD)
	if err != nil {
		return 0, fmt.Errorf("alert: list eligible: %w", err)
	}
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.UserID)
	}
	return d.Dispatch(ctx, opportunityID, ids)
}

// HandleRefresh applies the re-alert policy after a metric refresh of an
// existing opportunity: sent alerts are reopened only when the refreshed net
// profit improves materially on what the user last saw. Pending, failed, and
// dead alerts are untouched.
func (d *Dispatcher) HandleRefresh(ctx context.Context, opportunityID string, netProfitUSD decimal.Decimal) (int64, error) {
	reopened, err := d.alerts.ReopenImproved(ctx, opportunityID, netProfitUSD, d.minImprovement, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("alert: reopen %s: %w", opportunityID, err)
	}
	if reopened > 0 {
		d.logger.InfoContext(ctx, "alerts reopened after refresh",
			slog.String("opportunity_id", opportunityID),
			slog.Int64("reopened", reopened),
			slog.String("net_profit_usd", netProfitUSD.String()),
		)
	}
	return reopened, nil
}
