package sqlite_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coinage/economy"
	"github.com/warp/coinage/rewards"
	"github.com/warp/coinage/store/sqlite"
	"github.com/warp/coinage/streak"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var testTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, store *sqlite.Store, id economy.AccountID, coins int64) economy.Account {
	t.Helper()
	acct := economy.NewAccount(id, testTime)
	updated, tx, err := economy.BuildCredit(acct, economy.Coins(coins), economy.SourceAdminAdjustment, "seed-"+string(id), testTime)
	require.NoError(t, err)
	require.NoError(t, store.ApplyTransaction(context.Background(), updated, acct.Version, tx))
	updated.Version = 1
	return updated
}

// =============================================================================
// VERSION GUARD
// =============================================================================

func TestStore_ApplyTransaction_StaleVersionRejected(t *testing.T) {
	// GIVEN: An account at version 1
	// WHEN: Two writers both build on version 1
	// THEN: The second write fails with ErrConcurrentModification

	store := newTestStore(t)
	ctx := context.Background()

	acct := seedAccount(t, store, "user-1", 10)

	u1, tx1, err := economy.BuildCredit(acct, economy.Coins(1), economy.SourceReaction, "a", testTime)
	require.NoError(t, err)
	u2, tx2, err := economy.BuildCredit(acct, economy.Coins(2), economy.SourceReaction, "b", testTime)
	require.NoError(t, err)

	require.NoError(t, store.ApplyTransaction(ctx, u1, acct.Version, tx1))
	err = store.ApplyTransaction(ctx, u2, acct.Version, tx2)
	assert.ErrorIs(t, err, economy.ErrConcurrentModification)

	// The losing write left no transaction behind.
	sum, err := store.SumTransactions(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "11", sum.String())
}

func TestStore_ApplyTransaction_InsertRace(t *testing.T) {
	// Two writers both trying to create the same account: one insert wins.
	store := newTestStore(t)
	ctx := context.Background()

	fresh := economy.NewAccount("user-1", testTime)
	u1, tx1, err := economy.BuildCredit(fresh, economy.Coins(1), economy.SourceReaction, "a", testTime)
	require.NoError(t, err)
	u2, tx2, err := economy.BuildCredit(fresh, economy.Coins(2), economy.SourceReaction, "b", testTime)
	require.NoError(t, err)

	require.NoError(t, store.ApplyTransaction(ctx, u1, 0, tx1))
	err = store.ApplyTransaction(ctx, u2, 0, tx2)
	assert.ErrorIs(t, err, economy.ErrConcurrentModification)
}

// =============================================================================
// GRANTS
// =============================================================================

func grant(id string, account economy.AccountID, reward rewards.RewardID) rewards.Grant {
	return rewards.Grant{ID: id, AccountID: account, RewardID: reward, GrantedAt: testTime}
}

func TestStore_RecordGrant_NonRepeatable_SecondRejected(t *testing.T) {
	// GIVEN: A recorded non-repeatable grant
	// WHEN: Recording the same (account, reward) again
	// THEN: ErrDuplicateGrant

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordGrant(ctx, grant("g1", "user-1", "early-bird"), rewards.GrantPolicy{}, nil))

	err := store.RecordGrant(ctx, grant("g2", "user-1", "early-bird"), rewards.GrantPolicy{}, nil)
	assert.ErrorIs(t, err, rewards.ErrDuplicateGrant)

	// Different account or reward is fine.
	assert.NoError(t, store.RecordGrant(ctx, grant("g3", "user-2", "early-bird"), rewards.GrantPolicy{}, nil))
	assert.NoError(t, store.RecordGrant(ctx, grant("g4", "user-1", "other"), rewards.GrantPolicy{}, nil))
}

func TestStore_RecordGrant_Repeatable_Accumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	repeatable := rewards.GrantPolicy{Repeatable: true}
	require.NoError(t, store.RecordGrant(ctx, grant("g1", "user-1", "daily"), repeatable, nil))
	require.NoError(t, store.RecordGrant(ctx, grant("g2", "user-1", "daily"), repeatable, nil))

	grants, err := store.ListGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	last, err := store.LastGrant(ctx, "user-1", "daily")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "g2", last.ID)
}

func TestStore_RecordGrant_CooldownEnforcedInTransaction(t *testing.T) {
	// GIVEN: A repeatable grant with a 24h cooldown recorded at T
	// WHEN: Recording again inside and then outside the window
	// THEN: Inside is ErrDuplicateGrant, outside lands

	store := newTestStore(t)
	ctx := context.Background()
	policy := rewards.GrantPolicy{Repeatable: true, Cooldown: 24 * time.Hour}

	g1 := grant("g1", "user-1", "daily")
	require.NoError(t, store.RecordGrant(ctx, g1, policy, nil))

	g2 := grant("g2", "user-1", "daily")
	g2.GrantedAt = g1.GrantedAt.Add(time.Hour)
	assert.ErrorIs(t, store.RecordGrant(ctx, g2, policy, nil), rewards.ErrDuplicateGrant)

	g3 := grant("g3", "user-1", "daily")
	g3.GrantedAt = g1.GrantedAt.Add(25 * time.Hour)
	require.NoError(t, store.RecordGrant(ctx, g3, policy, nil))

	grants, err := store.ListGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}

func TestStore_RecordGrant_ConcurrentCooldown_SingleWinner(t *testing.T) {
	// GIVEN: Two writers racing to grant the same repeatable reward,
	//        each carrying its payout
	// WHEN: Both record at the same timestamp
	// THEN: Exactly one grant and one credit land

	store := newTestStore(t)
	ctx := context.Background()

	acct := seedAccount(t, store, "user-1", 10)
	policy := rewards.GrantPolicy{Repeatable: true, Cooldown: 24 * time.Hour}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g := grant(fmt.Sprintf("g%d", i), "user-1", "daily")
			updated, tx, err := economy.BuildCredit(acct, economy.Coins(5), economy.SourceRewardGrant, g.ID, testTime)
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = store.RecordGrant(ctx, g, policy, &rewards.PayoutApplication{
				Account:         updated,
				ExpectedVersion: acct.Version,
				Tx:              tx,
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, rewards.ErrDuplicateGrant)
		}
	}
	assert.Equal(t, 1, winners)

	grants, err := store.ListGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	got, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "15", got.Balance.String(), "the reward paid exactly once")
}

func TestStore_RecordGrant_PayoutAtomicWithGrant(t *testing.T) {
	// GIVEN: A payout whose version guard fails
	// WHEN: RecordGrant applies grant + payout in one transaction
	// THEN: Neither the grant nor the ledger effect survives

	store := newTestStore(t)
	ctx := context.Background()

	acct := seedAccount(t, store, "user-1", 10)

	updated, tx, err := economy.BuildCredit(acct, economy.Coins(20), economy.SourceRewardGrant, "early-bird", testTime)
	require.NoError(t, err)

	// Stale version: pretend another writer advanced the account.
	err = store.RecordGrant(ctx, grant("g1", "user-1", "early-bird"), rewards.GrantPolicy{}, &rewards.PayoutApplication{
		Account:         updated,
		ExpectedVersion: acct.Version + 5,
		Tx:              tx,
	})
	assert.ErrorIs(t, err, economy.ErrConcurrentModification)

	grants, err := store.ListGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, grants, "failed payout must roll the grant back")

	got, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "10", got.Balance.String())

	// With the right version everything lands together.
	err = store.RecordGrant(ctx, grant("g1", "user-1", "early-bird"), rewards.GrantPolicy{}, &rewards.PayoutApplication{
		Account:         updated,
		ExpectedVersion: acct.Version,
		Tx:              tx,
	})
	require.NoError(t, err)

	got, err = store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "30", got.Balance.String())

	grants, err = store.ListGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

// =============================================================================
// ACTIVITY EVENTS
// =============================================================================

func TestStore_CountEvents_WindowAndKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := testTime
	for i, kind := range []string{"reaction", "reaction", "purchase"} {
		require.NoError(t, store.RecordEvent(ctx, rewards.ActivityEvent{
			ID:        "ev-" + string(rune('a'+i)),
			AccountID: "user-1",
			Kind:      kind,
			At:        at.Add(time.Duration(i) * time.Hour),
		}))
	}

	n, err := store.CountEvents(ctx, "user-1", "reaction", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.CountEvents(ctx, "user-1", "reaction", at.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "window excludes the first event")

	n, err = store.CountEvents(ctx, "user-2", "reaction", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// =============================================================================
// STREAKS
// =============================================================================

func TestStore_SaveStreak_VersionGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := streak.StreakRecord{AccountID: "user-1", Current: 1, Longest: 1, LastActivityDay: streak.MakeDay(2026, time.March, 1)}
	require.NoError(t, store.SaveStreak(ctx, rec, 0))

	// Stale write loses.
	err := store.SaveStreak(ctx, rec, 5)
	assert.ErrorIs(t, err, economy.ErrConcurrentModification)

	// Double insert loses too.
	err = store.SaveStreak(ctx, rec, 0)
	assert.ErrorIs(t, err, economy.ErrConcurrentModification)

	got, err := store.GetStreak(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func TestStore_SweepRuns_OnePerDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := streak.MakeDay(2026, time.March, 1)

	done, err := store.IsSweepComplete(ctx, day)
	require.NoError(t, err)
	assert.False(t, done)

	run := sqlite.SweepRun{ID: "run-1", Day: day, Status: "running", CreatedAt: testTime}
	require.NoError(t, store.SaveSweepRun(ctx, run))

	done, err = store.IsSweepComplete(ctx, day)
	require.NoError(t, err)
	assert.False(t, done, "running is not complete")

	completed := testTime.Add(time.Second)
	run.Status = "completed"
	run.StreaksReset = 3
	run.CompletedAt = &completed
	require.NoError(t, store.SaveSweepRun(ctx, run))

	done, err = store.IsSweepComplete(ctx, day)
	require.NoError(t, err)
	assert.True(t, done)

	runs, err := store.ListSweepRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1, "upsert by day, not append")
	assert.Equal(t, 3, runs[0].StreaksReset)
	require.NotNil(t, runs[0].CompletedAt)
}
