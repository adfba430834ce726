// Package scheduler fires maintenance runs on the configured cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/livinlefevreloca/upkeep/internal/cron"
	"github.com/livinlefevreloca/upkeep/internal/inbox"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

// Runner performs one maintenance run
type Runner interface {
	Run(ctx context.Context) (maintenance.Outcome, error)
}

// Options configure a Scheduler
type Options struct {
	Clock    clock.Clock
	Location *time.Location
	Logger   *slog.Logger
}

// Scheduler waits for the next fire time and triggers the runner. Settings
// published on the reload inbox replace the schedule.
type Scheduler struct {
	runner   Runner
	reloads  *inbox.Inbox[maintenance.Settings]
	clock    clock.Clock
	location *time.Location
	logger   *slog.Logger

	mu       sync.RWMutex
	schedule *cron.Schedule
	nextRun  time.Time
	lastFire time.Time
}

// New creates a Scheduler from the current settings. reloads may be nil.
func New(runner Runner, source maintenance.SettingsSource, reloads *inbox.Inbox[maintenance.Settings], opts Options) (*Scheduler, error) {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	settings, err := source.Settings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	sched, err := scheduleFor(settings)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		runner:   runner,
		reloads:  reloads,
		clock:    opts.Clock,
		location: opts.Location,
		logger:   opts.Logger,
		schedule: sched,
	}, nil
}

func scheduleFor(s maintenance.Settings) (*cron.Schedule, error) {
	sched, err := cron.ForFrequency(string(s.Frequency), s.KickoffTime)
	if err != nil {
		return nil, fmt.Errorf("build schedule: %w", err)
	}
	return sched, nil
}

// NextRun returns the next scheduled fire time, zero before Run starts
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRun
}

// Schedule returns the active cron expression
func (s *Scheduler) Schedule() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule.String()
}

// Run is the scheduler loop. It returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("starting scheduler", "schedule", s.Schedule())

	var reloads <-chan maintenance.Settings
	if s.reloads != nil {
		reloads = s.reloads.C()
	}

	for {
		next, err := s.planNext()
		if err != nil {
			s.logger.Error("scheduler stopping", "error", err)
			return
		}
		timer := s.clock.NewTimer(next.Sub(s.clock.Now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return

		case <-timer.Chan():
			s.fire(ctx, next)

		case settings := <-reloads:
			s.reloads.Ack()
			timer.Stop()
			s.apply(settings)
		}
	}
}

// planNext computes and publishes the next fire time
func (s *Scheduler) planNext() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	after := s.clock.Now().In(s.location)
	// A timer can fire a little early; never fire the same slot twice.
	if s.lastFire.After(after) || s.lastFire.Equal(after) {
		after = s.lastFire
	}

	next := s.schedule.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("schedule %q never fires", s.schedule)
	}
	s.nextRun = next
	s.logger.Debug("next maintenance run planned", "at", next)
	return next, nil
}

func (s *Scheduler) fire(ctx context.Context, slot time.Time) {
	s.mu.Lock()
	s.lastFire = slot
	s.mu.Unlock()

	s.logger.Info("scheduled maintenance run firing", "slot", slot)
	outcome, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, maintenance.ErrRunInProgress):
		s.logger.Warn("scheduled run skipped, another run is in progress", "slot", slot)
	case err != nil:
		s.logger.Error("scheduled run failed", "slot", slot, "error", err)
	default:
		s.logger.Info("scheduled run finished", "slot", slot, "status", outcome.Status.String())
	}
}

// apply swaps in the schedule for new settings, keeping the old one if the
// new settings cannot be scheduled.
func (s *Scheduler) apply(settings maintenance.Settings) {
	stats := s.reloads.Stats()
	logger := s.logger.With(
		"reloads_received", stats.TotalReceived,
		"reloads_dropped", stats.TimeoutCount,
		"reloads_pending", stats.CurrentDepth)

	sched, err := scheduleFor(settings)
	if err != nil {
		logger.Error("ignoring settings reload", "error", err)
		return
	}

	s.mu.Lock()
	s.schedule = sched
	s.mu.Unlock()
	logger.Info("schedule updated", "schedule", sched.String())
}
