// Package cron runs the track-event retention job on a cron schedule.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/paintbridge/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

const DefaultSchedule = "17 3 * * *"

// Pruner deletes records older than a cutoff.
type Pruner interface {
	PruneTrackEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Pruner = (*persistence.Store)(nil)

type Config struct {
	Store     Pruner
	Logger    *slog.Logger
	Schedule  string        // cron expression; DefaultSchedule when empty
	Retention time.Duration // events older than this are pruned
	Interval  time.Duration // tick interval; defaults to 1 minute if zero
	Now       func() time.Time
}

// Scheduler prunes expired track events whenever the schedule comes due.
type Scheduler struct {
	store     Pruner
	logger    *slog.Logger
	schedule  cronlib.Schedule
	expr      string
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	nextRun time.Time
	lastRun time.Time
	pruned  int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("cron: store is required")
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("cron: retention must be positive, got %s", cfg.Retention)
	}
	expr := cfg.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: parse schedule %q: %w", expr, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:     cfg.Store,
		logger:    logger,
		schedule:  sched,
		expr:      expr,
		retention: cfg.Retention,
		interval:  interval,
		now:       now,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention scheduler started", "schedule", s.expr, "retention", s.retention)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("retention scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Prune once on startup, then whenever the schedule is due.
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	due := !s.now().Before(s.nextRun)
	s.mu.Unlock()
	if due {
		s.RunOnce(ctx)
	}
}

// RunOnce prunes events older than the retention window and schedules the
// next run.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()
	cutoff := now.Add(-s.retention)
	n, err := s.store.PruneTrackEvents(ctx, cutoff)

	s.mu.Lock()
	s.lastRun = now
	s.nextRun = s.schedule.Next(now)
	if err == nil {
		s.pruned += n
	}
	next := s.nextRun
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("retention: prune failed", "cutoff", cutoff, "error", err)
		return
	}
	s.logger.Info("retention: pruned track events", "purged", n, "cutoff", cutoff, "next_run_at", next)
}

// NextRun is when the job is next due. Zero before the first run.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Pruned returns the number of events removed since Start.
func (s *Scheduler) Pruned() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruned
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
