package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/predarb/predarb/internal/domain"
	"github.com/predarb/predarb/internal/notify"
)

// WorkerConfig tunes the delivery loop.
type WorkerConfig struct {
	// PollInterval is the idle sleep between empty polls.
	PollInterval time.Duration
	// BatchLimit caps alerts claimed per poll.
	BatchLimit int
	// Lease is how long a claimed alert stays invisible to other workers.
	Lease time.Duration
	// AttemptTimeout bounds one delivery attempt; a timeout counts as a
	// retryable failure.
	AttemptTimeout time.Duration
	// Cooldown is the minimum gap between two deliveries to the same user
	// for the same opportunity (applies to reopened alerts).
	Cooldown time.Duration
	Backoff  Backoff
}

// Worker consumes pending alerts and drives the delivery state machine:
// pending -> sent on success, pending -> pending with backoff on a retryable
// failure below the attempt ceiling, pending -> dead at the ceiling, and
// pending -> failed on a non-retryable error. Terminal states are never
// revisited.
type Worker struct {
	alerts domain.AlertStore
	opps   domain.OpportunityStore
	sender notify.UserSender
	cfg    WorkerConfig
	logger *slog.Logger
}

// NewWorker creates a delivery Worker.
func NewWorker(alerts domain.AlertStore, opps domain.OpportunityStore, sender notify.UserSender, cfg WorkerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		alerts: alerts,
		opps:   opps,
		sender: sender,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "alert_worker")),
	}
}

// Run polls for due alerts until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "alert worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Int("max_attempts", w.cfg.Backoff.MaxAttempts),
	)
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Storage hiccups are retried on the next poll; no partial state
			// is held across the failure.
			w.logger.ErrorContext(ctx, "delivery poll failed", slog.String("error", err.Error()))
		}
		if processed > 0 {
			continue // drain while there is work
		}
		timer := time.NewTimer(w.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce claims one batch of due alerts and attempts delivery for each. It
// returns the number of alerts processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	batch, err := w.alerts.ClaimPending(ctx, now, w.cfg.Lease, w.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("alert: claim pending: %w", err)
	}
	for _, a := range batch {
		w.deliver(ctx, a, now)
	}
	return len(batch), nil
}

func (w *Worker) deliver(ctx context.Context, a domain.Alert, now time.Time) {
	log := w.logger.With(
		slog.String("alert_id", a.ID),
		slog.String("user_id", a.UserID),
		slog.String("opportunity_id", a.OpportunityID),
	)

	opp, err := w.opps.GetByID(ctx, a.OpportunityID)
	if err != nil {
		// A missing opportunity cannot appear later; fail the alert for good.
		if markErr := w.alerts.MarkFailed(ctx, a.ID, "opportunity missing: "+err.Error()); markErr != nil {
			log.ErrorContext(ctx, "mark failed", slog.String("error", markErr.Error()))
		}
		return
	}

	// Reopened alerts honor the per-user cooldown before redelivery.
	if a.SentAt != nil && now.Sub(*a.SentAt) < w.cfg.Cooldown {
		nextAt := a.SentAt.Add(w.cfg.Cooldown)
		if err := w.alerts.Reschedule(ctx, a.ID, a.Attempts, nextAt, "cooldown"); err != nil {
			log.ErrorContext(ctx, "reschedule for cooldown", slog.String("error", err.Error()))
		}
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
	sendErr := w.sender.SendTo(attemptCtx, a.UserID, renderAlert(opp))
	cancel()

	switch {
	case sendErr == nil:
		if err := w.alerts.MarkSent(ctx, a.ID, now, opp.Metrics.NetProfitUSD); err != nil {
			log.ErrorContext(ctx, "mark sent", slog.String("error", err.Error()))
			return
		}
		log.InfoContext(ctx, "alert delivered", slog.Int("attempts", a.Attempts+1))

	case notify.IsPermanent(sendErr):
		if err := w.alerts.MarkFailed(ctx, a.ID, sendErr.Error()); err != nil {
			log.ErrorContext(ctx, "mark failed", slog.String("error", err.Error()))
			return
		}
		log.WarnContext(ctx, "alert failed permanently", slog.String("error", sendErr.Error()))

	default:
		attempts := a.Attempts + 1
		if w.cfg.Backoff.Exhausted(attempts) {
			if err := w.alerts.MarkDead(ctx, a.ID, sendErr.Error()); err != nil {
				log.ErrorContext(ctx, "mark dead", slog.String("error", err.Error()))
				return
			}
			log.WarnContext(ctx, "alert dead-lettered",
				slog.Int("attempts", attempts),
				slog.String("error", sendErr.Error()),
			)
			return
		}
		nextAt := now.Add(w.cfg.Backoff.Next(attempts))
		if err := w.alerts.Reschedule(ctx, a.ID, attempts, nextAt, sendErr.Error()); err != nil {
			log.ErrorContext(ctx, "reschedule", slog.String("error", err.Error()))
			return
		}
		log.InfoContext(ctx, "alert requeued",
			slog.Int("attempts", attempts),
			slog.Time("next_attempt_at", nextAt),
		)
	}
}

// renderAlert formats the user-facing message for one opportunity.
func renderAlert(opp domain.Opportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Arbitrage: %s\n", opp.Type)
	fmt.Fprintf(&b, "Net profit: $%s (gross $%s, fees $%s)\n",
		opp.Metrics.NetProfitUSD.StringFixed(2),
		opp.Metrics.GrossProfitUSD.StringFixed(2),
		opp.Metrics.Fees.Total().StringFixed(2),
	)
	for _, leg := range opp.Legs {
		fmt.Fprintf(&b, "- %s %s @ %s on %s\n", leg.Side, leg.Size.StringFixed(0), leg.Price.StringFixed(3), leg.Platform)
	}
	return b.String()
}
