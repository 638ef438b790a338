/*
ledger.go - Credit/debit operations over the append-only transaction log

PURPOSE:
  The Ledger is the single mutation path for balances. Each credit or
  debit is one atomic unit: read the account, validate the post-condition,
  write the new balance and append the Transaction - indivisibly. A
  concurrent reader never observes intermediate state.

CRITICAL INVARIANTS:
  1. Balance == LifetimeEarned - LifetimeSpent at all times
  2. Balance == sum of all transaction amounts for the account
  3. Debits never overdraw; a failed debit mutates nothing
  4. Zero and negative amounts are rejected before any read

CONCURRENCY:
  Writes use compare-and-commit on the account version. On conflict the
  operation is retried with a fresh read, bounded by maxCommitAttempts,
  then surfaced as ErrConcurrentModification.

SEE ALSO:
  - store.go: Atomicity contract
  - store/memory.go, store/sqlite: Implementations
*/
package economy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// =============================================================================
// LEDGER INTERFACE
// =============================================================================

// Ledger owns per-account balances and the immutable transaction log.
type Ledger interface {
	// Credit adds amount to the account, creating it lazily.
	Credit(ctx context.Context, id AccountID, amount Amount, source SourceKind, reference string) (*Transaction, error)

	// Debit removes amount from the account. Fails with
	// InsufficientFundsError (carrying the shortfall) when the balance
	// cannot cover it; no mutation is performed in that case.
	Debit(ctx context.Context, id AccountID, amount Amount, source SourceKind, reference string) (*Transaction, error)

	// Balance returns the current balance. Unknown accounts report zero.
	Balance(ctx context.Context, id AccountID) (Amount, error)

	// Account returns the full account record, or ErrAccountNotFound.
	Account(ctx context.Context, id AccountID) (*Account, error)

	// History pages through the account's transactions, newest first.
	// cursor "" starts at the newest entry; the returned cursor resumes
	// the next page and is empty at the end of the log.
	History(ctx context.Context, id AccountID, cursor string, limit int) ([]Transaction, string, error)

	// Verify recomputes the balance by summing the transaction log and
	// returns InconsistencyError if it disagrees with the account row.
	Verify(ctx context.Context, id AccountID) error

	// Deactivate marks the account inactive. Accounts are never deleted.
	Deactivate(ctx context.Context, id AccountID) error
}

// =============================================================================
// DEFAULT LEDGER
// =============================================================================

const maxCommitAttempts = 5

// DefaultLedger implements Ledger over a Store.
type DefaultLedger struct {
	Store Store

	// Clock is the time source, overridable in tests.
	Clock func() time.Time
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store, Clock: time.Now}
}

func (l *DefaultLedger) Credit(ctx context.Context, id AccountID, amount Amount, source SourceKind, reference string) (*Transaction, error) {
	return l.apply(ctx, id, func(acct Account) (Account, Transaction, error) {
		return BuildCredit(acct, amount, source, reference, l.Clock())
	})
}

func (l *DefaultLedger) Debit(ctx context.Context, id AccountID, amount Amount, source SourceKind, reference string) (*Transaction, error) {
	return l.apply(ctx, id, func(acct Account) (Account, Transaction, error) {
		return BuildDebit(acct, amount, source, reference, l.Clock())
	})
}

// apply runs one compare-and-commit cycle per attempt: fresh read, pure
// computation, conditional write. Only version conflicts are retried.
func (l *DefaultLedger) apply(ctx context.Context, id AccountID, build func(Account) (Account, Transaction, error)) (*Transaction, error) {
	var out *Transaction

	backoff := retry.WithMaxRetries(maxCommitAttempts, retry.NewConstant(2*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		acct, err := l.loadOrNew(ctx, id)
		if err != nil {
			return err
		}

		updated, tx, err := build(acct)
		if err != nil {
			return err
		}

		if err := l.Store.ApplyTransaction(ctx, updated, acct.Version, tx); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return retry.RetryableError(err)
			}
			return err
		}

		out = &tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *DefaultLedger) loadOrNew(ctx context.Context, id AccountID) (Account, error) {
	acct, err := l.Store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if acct == nil {
		// Lazy creation: version 0 tells the store to insert.
		return NewAccount(id, l.Clock()), nil
	}
	return *acct, nil
}

func (l *DefaultLedger) Balance(ctx context.Context, id AccountID) (Amount, error) {
	acct, err := l.Store.GetAccount(ctx, id)
	if err != nil {
		return Amount{}, err
	}
	if acct == nil {
		return ZeroAmount(), nil
	}
	return acct.Balance, nil
}

func (l *DefaultLedger) Account(ctx context.Context, id AccountID) (*Account, error) {
	acct, err := l.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

func (l *DefaultLedger) History(ctx context.Context, id AccountID, cursor string, limit int) ([]Transaction, string, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.Store.LoadTransactions(ctx, id, cursor, limit)
}

func (l *DefaultLedger) Verify(ctx context.Context, id AccountID) error {
	acct, err := l.Store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct == nil {
		return nil // No account, no log: trivially consistent.
	}

	sum, err := l.Store.SumTransactions(ctx, id)
	if err != nil {
		return err
	}
	if !acct.Balance.Equal(sum) || !acct.Consistent() {
		return &InconsistencyError{AccountID: id, Balance: acct.Balance, LogSum: sum}
	}
	return nil
}

func (l *DefaultLedger) Deactivate(ctx context.Context, id AccountID) error {
	backoff := retry.WithMaxRetries(maxCommitAttempts, retry.NewConstant(2*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		acct, err := l.Store.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if acct == nil {
			return ErrAccountNotFound
		}
		updated := *acct
		updated.Active = false
		if err := l.Store.SaveAccount(ctx, updated, acct.Version); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

// =============================================================================
// PURE TRANSACTION BUILDERS
// =============================================================================
// These are exported so callers that need payout+grant atomicity (the
// reward engine) can compute the post-state and hand it to their own
// store method without duplicating the balance rules.

// BuildCredit computes the account state and transaction for a credit.
func BuildCredit(acct Account, amount Amount, source SourceKind, reference string, now time.Time) (Account, Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return Account{}, Transaction{}, err
	}
	if !acct.Active {
		return Account{}, Transaction{}, ErrAccountInactive
	}

	updated := acct
	updated.Balance = acct.Balance.Add(amount)
	updated.LifetimeEarned = acct.LifetimeEarned.Add(amount)

	tx := Transaction{
		ID:               TransactionID(uuid.NewString()),
		AccountID:        acct.ID,
		Amount:           amount,
		ResultingBalance: updated.Balance,
		Source:           source,
		Reference:        reference,
		CreatedAt:        now,
	}
	return updated, tx, nil
}

// BuildDebit computes the account state and transaction for a debit.
// The post-condition balance >= 0 is validated here, before any write.
func BuildDebit(acct Account, amount Amount, source SourceKind, reference string, now time.Time) (Account, Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return Account{}, Transaction{}, err
	}
	if !acct.Active {
		return Account{}, Transaction{}, ErrAccountInactive
	}
	if acct.Balance.LessThan(amount) {
		return Account{}, Transaction{}, &InsufficientFundsError{
			AccountID: acct.ID,
			Available: acct.Balance,
			Requested: amount,
			Shortfall: amount.Sub(acct.Balance),
		}
	}

	updated := acct
	updated.Balance = acct.Balance.Sub(amount)
	updated.LifetimeSpent = acct.LifetimeSpent.Add(amount)

	tx := Transaction{
		ID:               TransactionID(uuid.NewString()),
		AccountID:        acct.ID,
		Amount:           amount.Neg(),
		ResultingBalance: updated.Balance,
		Source:           source,
		Reference:        reference,
		CreatedAt:        now,
	}
	return updated, tx, nil
}

func validateAmount(a Amount) error {
	if !a.IsPositive() || !a.Value.IsInteger() {
		return ErrInvalidAmount
	}
	return nil
}
