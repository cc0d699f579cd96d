// Package scheduler runs the periodic ingestion and settlement sweeps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

var sgt = time.FixedZone("SGT", 8*60*60)

// slogAdapter satisfies cron.Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.l.Debug("scheduler.cron."+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.l.Error("scheduler.cron."+msg, append(keysAndValues, "error", err)...)
}

// Runner wraps a cron instance whose specs are evaluated in SGT. A job still
// running when its next tick fires is skipped.
type Runner struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a Runner. timeout bounds each job run; zero means no bound.
func New(timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	adapter := slogAdapter{l: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLocation(sgt),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		logger:  logger,
	}
}

// Add registers fn under a standard five-field cron spec.
func (r *Runner) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx := r.ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		start := time.Now()
		r.logger.Info("scheduler.job.start", "job", name)
		if err := fn(ctx); err != nil {
			r.logger.Error("scheduler.job.error", "job", name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
			return
		}
		r.logger.Info("scheduler.job.done", "job", name, "elapsed_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	r.logger.Info("scheduler.job.registered", "job", name, "spec", spec)
	return nil
}

func (r *Runner) Start() { r.cron.Start() }

// Stop cancels running jobs and waits for them, or for ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow invokes every registered job once, in registration order, through
// the same wrappers as scheduled runs.
func (r *Runner) RunNow() {
	for _, e := range r.cron.Entries() {
		e.WrappedJob.Run()
	}
}
