// Package sched wraps robfig/cron for the engine's recurring passes: ingest
// cycles, grouping recomputes, scan passes, and archival.
package sched

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner schedules named jobs against a shared base context. Jobs run on the
// cron goroutine pool; a job that needs isolation should spawn its own.
type Runner struct {
	cron    *cron.Cron
	logger  *slog.Logger
	baseCtx context.Context
}

// New creates a Runner. Schedules use the standard five-field cron syntax.
func New(baseCtx context.Context, logger *slog.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(),
		logger:  logger.With(slog.String("component", "sched")),
		baseCtx: baseCtx,
	}
}

// Add registers a job under the given schedule. Job errors are logged, never
// fatal; the next tick retries.
func (r *Runner) Add(name, spec string, job func(context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		if err := job(r.baseCtx); err != nil {
			r.logger.Error("job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("sched: add job %s (%q): %w", name, spec, err)
	}
	r.logger.Info("job scheduled", slog.String("job", name), slog.String("spec", spec))
	return nil
}

// Start begins running scheduled jobs.
func (r *Runner) Start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
