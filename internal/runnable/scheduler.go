package runnable

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"
)

type Job func(ctx context.Context) error

// Schedule runs job once when expr is empty. Otherwise expr is a standard
// 5-field cron expression and job runs on it until SIGTERM or ctx is done.
// Runs that would overlap a still running job are skipped.
func Schedule(ctx context.Context, expr string, job Job) error {
	if expr == "" {
		return job(ctx)
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return xerrors.Errorf("failed to parse schedule %q: %w", expr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		if err := job(ctx); err != nil {
			slog.Error("scheduled run failed", "error", err)
		}
	}))
	c.Start()
	slog.Info("scheduler started", "schedule", expr, "next", schedule.Next(time.Now()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	}

	cancel()
	<-c.Stop().Done()
	return nil
}
