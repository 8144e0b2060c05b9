package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/farmready/farmready/pkg/types"
)

// Runner is anything that performs one poll run.
type Runner interface {
	RunOnce(ctx context.Context) (types.RunSummary, error)
}

// Scheduler fires a Runner on a fixed cadence. Overlapping firings are
// rescheduled rather than run concurrently.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	loc      *time.Location
}

// NewScheduler returns a Scheduler for r.
func NewScheduler(r Runner, interval time.Duration, loc *time.Location) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poller: interval must be positive")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{runner: r, interval: interval, loc: loc}, nil
}

// Run starts the schedule, firing once immediately, and blocks until ctx is
// cancelled. A run in flight at shutdown is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(s.loc))
	if err != nil {
		return fmt.Errorf("poller: create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.tick(ctx) }),
		gocron.WithName("poll"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("poller: schedule job: %w", err)
	}

	slog.Info("poller: scheduler started", "interval", s.interval, "timezone", s.loc.String())
	sched.Start()

	<-ctx.Done()
	slog.Info("poller: scheduler stopping")
	return sched.Shutdown()
}

func (s *Scheduler) tick(ctx context.Context) {
	// Runs are not cancelled mid-flight; an interrupted run only leaves some
	// devices unprocessed, and the next run picks them up.
	_, err := s.runner.RunOnce(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		slog.Info("poller: skipped scheduled run", "reason", err)
	default:
		slog.Error("poller: scheduled run failed", "err", err)
	}
}
