/*
Package streak computes daily-activity streaks from timestamped activity
events and feeds the reward engine as a metric source.

PURPOSE:
  One StreakRecord per account tracks the current run of consecutive
  active days and the longest run ever. Records are mutated only here,
  through compare-and-commit writes, so racing events for the same
  account cannot lose updates.

STREAK ALGORITHM (per activity on day D, last activity on day L):
  D == L:                 no-op (idempotent per day)
  D <= L + 1 + grace:     current++, longest = max(longest, current)
  otherwise:              current = 1 (gap exceeded the grace window)
  LastActivityDay = D on any change.

DECAY:
  Streaks must decay even for accounts that stop producing events, not
  only lazily on their next activity. ExpireStale runs once per day (see
  api/scheduler.go) and zeroes any streak that can no longer be continued.
  It is idempotent and safe to re-run after a crash mid-sweep.

SEE ALSO:
  - day.go: Calendar day arithmetic
  - rewards/engine.go: Consumes streak length as a condition metric
*/
package streak

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/warp/coinage/economy"
)

// =============================================================================
// STREAK RECORD
// =============================================================================

// StreakRecord is the per-account streak state. Version guards writes.
type StreakRecord struct {
	AccountID       economy.AccountID
	Current         int
	Longest         int
	LastActivityDay Day
	Version         int64
}

// =============================================================================
// STORE
// =============================================================================

// Store persists streak records with compare-and-commit semantics.
type Store interface {
	// GetStreak returns the record, or (nil, nil) if none exists yet.
	GetStreak(ctx context.Context, id economy.AccountID) (*StreakRecord, error)

	// SaveStreak writes the record conditioned on expectedVersion
	// (0 creates). Returns economy.ErrConcurrentModification on conflict.
	SaveStreak(ctx context.Context, rec StreakRecord, expectedVersion int64) error

	// ListStaleStreaks returns records with Current > 0 and
	// LastActivityDay strictly before the given day.
	ListStaleStreaks(ctx context.Context, lastActivityBefore Day) ([]StreakRecord, error)
}

// =============================================================================
// TRACKER
// =============================================================================

const maxCommitAttempts = 5

// Tracker applies activity events to streak records.
type Tracker struct {
	Store Store

	// GraceDays is how many skipped days are tolerated before a streak
	// resets. 0 means strictly consecutive days.
	GraceDays int
}

func NewTracker(store Store, graceDays int) *Tracker {
	return &Tracker{Store: store, GraceDays: graceDays}
}

// RecordActivity registers activity for the account on the given day and
// returns the resulting record. Idempotent per day: a second activity on
// the same day changes nothing.
func (t *Tracker) RecordActivity(ctx context.Context, id economy.AccountID, day Day) (*StreakRecord, error) {
	var out *StreakRecord

	backoff := retry.WithMaxRetries(maxCommitAttempts, retry.NewConstant(2*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rec, err := t.Store.GetStreak(ctx, id)
		if err != nil {
			return err
		}

		if rec == nil {
			fresh := StreakRecord{AccountID: id, Current: 1, Longest: 1, LastActivityDay: day}
			if err := t.Store.SaveStreak(ctx, fresh, 0); err != nil {
				if errors.Is(err, economy.ErrConcurrentModification) {
					return retry.RetryableError(err)
				}
				return err
			}
			fresh.Version = 1
			out = &fresh
			return nil
		}

		updated, changed := t.advance(*rec, day)
		if !changed {
			out = rec
			return nil
		}

		if err := t.Store.SaveStreak(ctx, updated, rec.Version); err != nil {
			if errors.Is(err, economy.ErrConcurrentModification) {
				return retry.RetryableError(err)
			}
			return err
		}
		updated.Version = rec.Version + 1
		out = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// advance is the pure streak transition. Returns changed=false for
// same-day (idempotent) and out-of-order activity.
func (t *Tracker) advance(rec StreakRecord, day Day) (StreakRecord, bool) {
	gap := day.Sub(rec.LastActivityDay)
	if gap <= 0 {
		return rec, false
	}

	if gap <= 1+t.GraceDays && rec.Current > 0 {
		rec.Current++
	} else {
		rec.Current = 1
	}
	if rec.Current > rec.Longest {
		rec.Longest = rec.Current
	}
	rec.LastActivityDay = day
	return rec, true
}

// Get returns the current record; accounts with no activity report a
// zero-length streak.
func (t *Tracker) Get(ctx context.Context, id economy.AccountID) (StreakRecord, error) {
	rec, err := t.Store.GetStreak(ctx, id)
	if err != nil {
		return StreakRecord{}, err
	}
	if rec == nil {
		return StreakRecord{AccountID: id}, nil
	}
	return *rec, nil
}

// ExpireStale resets to 0 every streak that can no longer be continued as
// of today: the last activity is so far back that even activity today
// would start over. Returns how many records were reset. Records that
// race with a concurrent activity update are skipped; the next sweep (or
// the activity itself) settles them.
func (t *Tracker) ExpireStale(ctx context.Context, today Day) (int, error) {
	// A streak is dead when today - last > grace + 1: the earliest
	// possible continuation (today) already exceeds the allowed gap.
	cutoff := today.AddDays(-(t.GraceDays + 1))

	stale, err := t.Store.ListStaleStreaks(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, rec := range stale {
		updated := rec
		updated.Current = 0
		err := t.Store.SaveStreak(ctx, updated, rec.Version)
		if errors.Is(err, economy.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}
