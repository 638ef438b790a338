/*
Package economy provides the virtual-currency ledger core.

PURPOSE:
  This package contains the account/transaction model and the Ledger, the
  only component allowed to mutate balances. Every balance change is an
  immutable Transaction; the account row is a guarded materialization of
  the transaction log and the two must always agree.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: An integral quantity of coins (smallest currency unit)
  - Account: Per-user balance plus lifetime earned/spent totals
  - Transaction: An immutable ledger entry recording a balance change
  - SourceKind: What caused the change (reaction, reward grant, ...)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified or deleted
  2. Precision: Uses decimal.Decimal so summation checks are exact
  3. Guarded writes: Account mutation is compare-and-commit, never blind
  4. Auditability: Every transaction carries source kind and reference

SEE ALSO:
  - ledger.go: Credit/debit operations and history paging
  - errors.go: Error taxonomy
  - store.go: Persistence interface
*/
package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Integral quantity of coins
// =============================================================================

// Amount is a quantity of virtual currency in the smallest unit ("coins").
// Values are always whole numbers; decimal is used so that audit summation
// never accumulates floating-point error.
type Amount struct {
	Value decimal.Decimal
}

func Coins(n int64) Amount {
	return Amount{Value: decimal.NewFromInt(n)}
}

func ZeroAmount() Amount {
	return Amount{Value: decimal.Zero}
}

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Int64() int64              { return a.Value.IntPart() }
func (a Amount) String() string            { return a.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// =============================================================================
// SOURCE KIND - What caused a balance change
// =============================================================================

type SourceKind string

const (
	SourceReaction        SourceKind = "reaction"
	SourceDailyBonus      SourceKind = "daily-bonus"
	SourceStreakBonus     SourceKind = "streak-bonus"
	SourceRewardGrant     SourceKind = "reward-grant"
	SourcePurchaseDebit   SourceKind = "purchase-debit"
	SourceAdminAdjustment SourceKind = "admin-adjustment"
)

// =============================================================================
// ACCOUNT - Per-user economy profile
// =============================================================================

// Account holds the materialized balance for one user.
//
// INVARIANT: Balance == LifetimeEarned - LifetimeSpent at all times, and
// both always equal the signed sum of the account's transaction log.
//
// Accounts are created lazily on first credit or debit and are never
// deleted, only deactivated. Version guards every write (optimistic
// concurrency): a write conditioned on a stale version fails with
// ErrConcurrentModification and is retried by the caller.
type Account struct {
	ID             AccountID
	Balance        Amount
	LifetimeEarned Amount
	LifetimeSpent  Amount
	Active         bool
	CreatedAt      time.Time
	Version        int64
}

// NewAccount returns a fresh, empty account for lazy creation.
func NewAccount(id AccountID, now time.Time) Account {
	return Account{
		ID:             id,
		Balance:        ZeroAmount(),
		LifetimeEarned: ZeroAmount(),
		LifetimeSpent:  ZeroAmount(),
		Active:         true,
		CreatedAt:      now,
	}
}

// Consistent reports whether the lifetime totals agree with the balance.
func (a Account) Consistent() bool {
	return a.Balance.Equal(a.LifetimeEarned.Sub(a.LifetimeSpent))
}

// =============================================================================
// TRANSACTION - Immutable, append-only ledger entry
// =============================================================================

// Transaction records one balance change. Amount is signed: positive for
// credits, negative for debits. ResultingBalance is the account balance
// immediately after this transaction applied, which lets history listings
// render running balances without replaying the log.
type Transaction struct {
	ID               TransactionID
	AccountID        AccountID
	Amount           Amount
	ResultingBalance Amount
	Source           SourceKind
	Reference        string // Opaque id of the triggering event, may be empty
	CreatedAt        time.Time
}
