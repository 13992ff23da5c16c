package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

// cronLogger routes cron's key-value output to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, logger.Error(err))...)
}

// newScheduler registers the reconcile and reminder jobs. Overlapping runs
// of the same job are skipped.
func newScheduler(ctx context.Context, cfg appConfig, loc *time.Location, svc quota.Service, log *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{log: log.With(logger.Component("scheduler"))}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{
			name:     "reconcile",
			schedule: cfg.ReconcileSchedule,
			run: func(ctx context.Context) error {
				_, err := svc.Reconcile(ctx)
				return err
			},
		},
		{
			name:     "expiration_reminders",
			schedule: cfg.ReminderSchedule,
			run: func(ctx context.Context) error {
				n, err := svc.SendExpirationReminders(ctx)
				if err == nil && n > 0 {
					log.InfoContext(ctx, "expiration reminders sent", logger.Job("expiration_reminders"), "count", n)
				}
				return err
			},
		},
	}

	for _, j := range jobs {
		if _, err := c.AddFunc(j.schedule, runJob(ctx, j.name, cfg.JobTimeout, j.run, log)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func runJob(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error, log *slog.Logger) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		ctx := logger.ContextWithAttrs(ctx, logger.Job(name))
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			log.ErrorContext(ctx, "scheduled job failed", logger.Error(err), logger.Duration(time.Since(start)))
			return
		}
		log.DebugContext(ctx, "scheduled job finished", logger.Duration(time.Since(start)))
	}
}
