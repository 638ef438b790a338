/*
store.go - Persistence interface for accounts and the transaction log

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  owns the atomicity contract: an account update plus its transaction
  append happen as one indivisible unit, guarded by the account version.

APPEND-ONLY CONTRACT:
  The transaction log is append-only. No Update, no Delete, ever.
  Corrections are made via compensating transactions (admin-adjustment).

COMPARE-AND-COMMIT:
  ApplyTransaction writes the new account state conditioned on the version
  the caller read. If another writer won the race, the call fails with
  ErrConcurrentModification and nothing is written. The ledger retries a
  bounded number of times with a fresh read.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (single SQL transaction per apply)
  - economy/store: in-memory store for tests and development
*/
package economy

import "context"

// Store handles persistence of accounts and their transaction logs.
type Store interface {
	// GetAccount returns the account, or (nil, nil) if it has never been
	// written. Callers create lazily via ApplyTransaction with version 0.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// ApplyTransaction atomically persists the updated account and appends
	// the transaction, as one unit. expectedVersion is the version the
	// caller read (0 to create a new account). Returns
	// ErrConcurrentModification when the guard fails and
	// ErrDuplicateReference when (source, reference) was already applied.
	ApplyTransaction(ctx context.Context, updated Account, expectedVersion int64, tx Transaction) error

	// SaveAccount persists account fields that do not touch the balance
	// (activation state), with the same version guard.
	SaveAccount(ctx context.Context, updated Account, expectedVersion int64) error

	// LoadTransactions returns up to limit transactions for the account in
	// reverse-chronological order, starting after the opaque cursor
	// (empty = newest). The second return value is the cursor for the next
	// page; empty when the log is exhausted.
	LoadTransactions(ctx context.Context, id AccountID, cursor string, limit int) ([]Transaction, string, error)

	// SumTransactions returns the signed sum of every transaction amount
	// for the account. Used by the consistency check.
	SumTransactions(ctx context.Context, id AccountID) (Amount, error)
}
