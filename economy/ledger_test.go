package economy_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coinage/economy"
	"github.com/warp/coinage/economy/store"
	"github.com/warp/coinage/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*economy.DefaultLedger, *sqlite.Store) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return economy.NewLedger(st), st
}

// =============================================================================
// CREDIT / DEBIT TESTS
// =============================================================================

func TestLedger_CreditDebit_BalanceTracksLog(t *testing.T) {
	// GIVEN: A fresh account
	// WHEN: Crediting 10, crediting 5, debiting 12
	// THEN: Balance is 3, lifetime earned 15, lifetime spent 12

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	id := economy.AccountID("user-1")

	_, err := ledger.Credit(ctx, id, economy.Coins(10), economy.SourceReaction, "msg-1")
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, id, economy.Coins(5), economy.SourceDailyBonus, "day-1")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, id, economy.Coins(12), economy.SourcePurchaseDebit, "order-1")
	require.NoError(t, err)

	acct, err := ledger.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "3", acct.Balance.String())
	assert.Equal(t, "15", acct.LifetimeEarned.String())
	assert.Equal(t, "12", acct.LifetimeSpent.String())
	assert.True(t, acct.Consistent())

	// The log sum agrees with the materialized balance.
	assert.NoError(t, ledger.Verify(ctx, id))
}

func TestLedger_Credit_CreatesAccountLazily(t *testing.T) {
	// GIVEN: No account exists for the ID
	// WHEN: Reading the balance, then crediting
	// THEN: The read reports zero without creating anything; the credit creates

	ledger, store := newTestLedger(t)
	ctx := context.Background()
	id := economy.AccountID("new-user")

	balance, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	acct, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, acct, "balance read must not create an account")

	_, err = ledger.Credit(ctx, id, economy.Coins(1), economy.SourceReaction, "")
	require.NoError(t, err)

	acct, err = store.GetAccount(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "1", acct.Balance.String())
}

func TestLedger_Debit_InsufficientFunds(t *testing.T) {
	// GIVEN: Account with balance 3
	// WHEN: Debiting 5
	// THEN: InsufficientFundsError carrying the shortfall of 2; nothing mutated

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	id := economy.AccountID("user-1")

	_, err := ledger.Credit(ctx, id, economy.Coins(3), economy.SourceReaction, "")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, id, economy.Coins(5), economy.SourcePurchaseDebit, "order-1")
	require.Error(t, err)

	var insufficient *economy.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.ErrorIs(t, err, economy.ErrInsufficientFunds)
	assert.Equal(t, "2", insufficient.Shortfall.String())
	assert.Equal(t, "3", insufficient.Available.String())

	// The failed debit left no trace.
	balance, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "3", balance.String())

	txs, _, err := ledger.History(ctx, id, "", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_Debit_UnknownAccount(t *testing.T) {
	// GIVEN: No account
	// WHEN: Debiting anything
	// THEN: Insufficient funds (the lazily created account has balance 0)

	ledger, _ := newTestLedger(t)

	_, err := ledger.Debit(context.Background(), "ghost", economy.Coins(1), economy.SourcePurchaseDebit, "")
	assert.ErrorIs(t, err, economy.ErrInsufficientFunds)
}

func TestLedger_InvalidAmounts_Rejected(t *testing.T) {
	// GIVEN: Any account
	// WHEN: Crediting or debiting zero, negative, or fractional amounts
	// THEN: ErrInvalidAmount before any mutation

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	id := economy.AccountID("user-1")

	bad := []economy.Amount{
		economy.Coins(0),
		economy.Coins(-5),
		{Value: decimal.RequireFromString("1.5")},
	}
	for _, amount := range bad {
		_, err := ledger.Credit(ctx, id, amount, economy.SourceReaction, "")
		assert.ErrorIs(t, err, economy.ErrInvalidAmount, "credit of %s", amount)
		_, err = ledger.Debit(ctx, id, amount, economy.SourcePurchaseDebit, "")
		assert.ErrorIs(t, err, economy.ErrInvalidAmount, "debit of %s", amount)
	}

	balance, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestLedger_DuplicateReference_Rejected(t *testing.T) {
	// GIVEN: A credit recorded for (source, reference)
	// WHEN: Replaying the same (source, reference)
	// THEN: ErrDuplicateReference; the balance is unchanged

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	id := economy.AccountID("user-1")

	_, err := ledger.Credit(ctx, id, economy.Coins(10), economy.SourceReaction, "msg-42")
	require.NoError(t, err)

	_, err = ledger.Credit(ctx, id, economy.Coins(10), economy.SourceReaction, "msg-42")
	assert.ErrorIs(t, err, economy.ErrDuplicateReference)

	balance, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "10", balance.String())

	// Same reference under a different source is a different operation.
	_, err = ledger.Credit(ctx, id, economy.Coins(2), economy.SourceDailyBonus, "msg-42")
	assert.NoError(t, err)
}

// =============================================================================
// DEACTIVATION
// =============================================================================

func TestLedger_Deactivate_BlocksMutationsKeepsHistory(t *testing.T) {
	// GIVEN: An account with history
	// WHEN: Deactivating it
	// THEN: Credits and debits fail; balance and history stay readable

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	id := economy.AccountID("user-1")

	_, err := ledger.Credit(ctx, id, economy.Coins(7), economy.SourceReaction, "")
	require.NoError(t, err)
	require.NoError(t, ledger.Deactivate(ctx, id))

	_, err = ledger.Credit(ctx, id, economy.Coins(1), economy.SourceReaction, "")
	assert.ErrorIs(t, err, economy.ErrAccountInactive)
	_, err = ledger.Debit(ctx, id, economy.Coins(1), economy.SourcePurchaseDebit, "")
	assert.ErrorIs(t, err, economy.ErrAccountInactive)

	balance, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "7", balance.String())

	txs, _, err := ledger.History(ctx, id, "", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_Deactivate_UnknownAccount(t *testing.T) {
	ledger, _ := newTestLedger(t)

	err := ledger.Deactivate(context.Background(), "ghost")
	assert.ErrorIs(t, err, economy.ErrAccountNotFound)
}

// =============================================================================
// HISTORY PAGING
// =============================================================================

func TestLedger_History_PagesNewestFirst(t *testing.T) {
	// GIVEN: 7 credits in order
	// WHEN: Paging with limit 3
	// THEN: Pages of 3, 3, 1 in reverse-chronological order, then an empty cursor

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	id := economy.AccountID("user-1")

	for i := 1; i <= 7; i++ {
		_, err := ledger.Credit(ctx, id, economy.Coins(int64(i)), economy.SourceReaction, fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}

	var amounts []string
	cursor := ""
	pages := 0
	for {
		txs, next, err := ledger.History(ctx, id, cursor, 3)
		require.NoError(t, err)
		for _, tx := range txs {
			amounts = append(amounts, tx.Amount.String())
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
		require.Less(t, pages, 10, "paging must terminate")
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"7", "6", "5", "4", "3", "2", "1"}, amounts)
}

func TestLedger_History_DefaultLimit(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, "user-1", economy.Coins(1), economy.SourceReaction, "")
	require.NoError(t, err)

	txs, next, err := ledger.History(ctx, "user-1", "", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Empty(t, next)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentDebits_NeverOverdraw(t *testing.T) {
	// GIVEN: Balance 10
	// WHEN: 5 goroutines each debit 3 concurrently
	// THEN: Exactly 3 succeed; balance matches the successes; log stays consistent

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	id := economy.AccountID("user-1")

	_, err := ledger.Credit(ctx, id, economy.Coins(10), economy.SourceReaction, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Debit(ctx, id, economy.Coins(3), economy.SourcePurchaseDebit, "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, economy.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 3, successes)

	balance, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1", balance.String())
	assert.NoError(t, ledger.Verify(ctx, id))
}

// =============================================================================
// STORE INTERCHANGEABILITY
// =============================================================================

func TestLedger_MemoryStore_SameSemantics(t *testing.T) {
	// GIVEN: The ledger over the in-memory store instead of SQLite
	// WHEN: Running the credit/debit/duplicate/paging basics
	// THEN: Behavior is identical; the store is a drop-in

	ledger := economy.NewLedger(store.NewMemory())
	ctx := context.Background()
	id := economy.AccountID("user-1")

	for i := 1; i <= 4; i++ {
		_, err := ledger.Credit(ctx, id, economy.Coins(int64(i)), economy.SourceReaction, fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}
	_, err := ledger.Credit(ctx, id, economy.Coins(1), economy.SourceReaction, "msg-1")
	assert.ErrorIs(t, err, economy.ErrDuplicateReference)

	_, err = ledger.Debit(ctx, id, economy.Coins(4), economy.SourcePurchaseDebit, "order-1")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, id, economy.Coins(100), economy.SourcePurchaseDebit, "order-2")
	assert.ErrorIs(t, err, economy.ErrInsufficientFunds)

	balance, err := ledger.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "6", balance.String())
	assert.NoError(t, ledger.Verify(ctx, id))

	txs, next, err := ledger.History(ctx, id, "", 3)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "-4", txs[0].Amount.String(), "newest first, debits negative")
	require.NotEmpty(t, next)

	txs, next, err = ledger.History(ctx, id, next, 3)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.Empty(t, next)
}

// =============================================================================
// PURE BUILDERS
// =============================================================================

func TestBuildCredit_FixedClock(t *testing.T) {
	// GIVEN: The pure builder and a fixed timestamp
	// WHEN: Building a credit
	// THEN: Post-state and transaction are computed without any storage

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	acct := economy.NewAccount("user-1", now)

	updated, tx, err := economy.BuildCredit(acct, economy.Coins(20), economy.SourceRewardGrant, "early-bird", now)
	require.NoError(t, err)
	assert.Equal(t, "20", updated.Balance.String())
	assert.Equal(t, "20", updated.LifetimeEarned.String())
	assert.Equal(t, "20", tx.Amount.String())
	assert.Equal(t, "20", tx.ResultingBalance.String())
	assert.Equal(t, economy.SourceRewardGrant, tx.Source)
	assert.Equal(t, now, tx.CreatedAt)
}
