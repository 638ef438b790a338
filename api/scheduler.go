/*
scheduler.go - Automated daily streak-expiry sweep

PURPOSE:
  Periodically checks whether today's streak expiry has run and, if not,
  resets every streak that can no longer be continued. Streaks otherwise
  only update when their owner is active, so a lapsed account would show
  a stale "current streak" forever.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - At most one completed sweep per calendar day; reruns are skipped
  - Records sweep runs for audit and the admin UI
  - The sweep is idempotent: a crash mid-run leaves a failed record and
    the next tick finishes the job

USAGE:
  sweeper := NewSweepScheduler(store, tracker, loc)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - streak/tracker.go: ExpireStale
  - store/sqlite: Sweep run records
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/coinage/store/sqlite"
	"github.com/warp/coinage/streak"
)

// SweepScheduler drives the daily streak-expiry sweep.
type SweepScheduler struct {
	Store         *sqlite.Store
	Tracker       *streak.Tracker
	Location      *time.Location
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	Clock func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// sweepMu serializes the sweep itself: the manual-run endpoint can
	// race the ticker goroutine. Separate from mu, which Stop holds
	// while waiting for the run loop to exit.
	sweepMu sync.Mutex
}

// NewSweepScheduler creates a scheduler with a 1 hour check interval.
func NewSweepScheduler(store *sqlite.Store, tracker *streak.Tracker, loc *time.Location) *SweepScheduler {
	return &SweepScheduler{
		Store:         store,
		Tracker:       tracker,
		Location:      loc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        slog.Default(),
		Clock:         time.Now,
		stop:          make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("sweep scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("sweep scheduler started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Logger.Info("sweep scheduler stopped")
	}
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndSweep()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndSweep()
		case <-s.stop:
			return
		}
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *SweepScheduler) RunNow() {
	s.checkAndSweep()
}

func (s *SweepScheduler) checkAndSweep() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	ctx := context.Background()
	now := s.Clock()
	today := streak.DayOf(now, s.Location)

	done, err := s.Store.IsSweepComplete(ctx, today)
	if err != nil {
		s.Logger.Error("sweep status check failed", "error", err)
		return
	}
	if done {
		return
	}

	if err := s.sweep(ctx, today, now); err != nil {
		s.Logger.Error("sweep failed", "day", today.String(), "error", err)
	}
}

func (s *SweepScheduler) sweep(ctx context.Context, today streak.Day, now time.Time) error {
	started := now
	run := sqlite.SweepRun{
		ID:        uuid.NewString(),
		Day:       today,
		Status:    "running",
		StartedAt: &started,
		CreatedAt: now,
	}
	if err := s.Store.SaveSweepRun(ctx, run); err != nil {
		return err
	}

	reset, err := s.Tracker.ExpireStale(ctx, today)
	run.StreaksReset = reset
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		s.Store.SaveSweepRun(ctx, run)
		return err
	}

	completed := s.Clock()
	run.Status = "completed"
	run.CompletedAt = &completed
	if err := s.Store.SaveSweepRun(ctx, run); err != nil {
		return err
	}

	s.Logger.Info("streak sweep completed", "day", today.String(), "reset", reset)
	return nil
}
