/*
errors.go - Centralized error types for the economy core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Other packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Caller bugs        - InvalidAmount (zero/negative amounts)
  2. Recoverable        - InsufficientFunds (no mutation performed)
  3. Transient          - ConcurrentModification (retried internally)
  4. Idempotency        - DuplicateGrant, DuplicateReference (no-ops)

USAGE:
  if errors.Is(err, economy.ErrInsufficientFunds) {
      var short *economy.InsufficientFundsError
      errors.As(err, &short)
      // short.Shortfall carries how much was missing
  }
*/
package economy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an amount is zero, negative, or not
	// a whole number of coins. This indicates a caller bug.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	// The debit performs no mutation.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrentModification is returned when a compare-and-commit write
	// detects that the account changed since it was read. Callers retry a
	// bounded number of times before surfacing this as a transient failure.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateReference is returned when a transaction with the same
	// source and reference already exists. Expected behavior for retries.
	ErrDuplicateReference = errors.New("duplicate transaction reference")

	// ErrAccountInactive is returned when mutating a deactivated account.
	ErrAccountInactive = errors.New("account is deactivated")

	// ErrAccountNotFound is returned by reads of never-seen accounts where
	// lazy creation does not apply.
	ErrAccountNotFound = errors.New("account not found")

	// ErrLedgerInconsistent is returned by the consistency check when the
	// materialized balance disagrees with the transaction log.
	ErrLedgerInconsistent = errors.New("ledger inconsistent with transaction log")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available Amount
	Requested Amount
	Shortfall Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s has %s, requested %s (short %s)",
		e.AccountID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InconsistencyError reports a balance that does not match its log.
type InconsistencyError struct {
	AccountID AccountID
	Balance   Amount
	LogSum    Amount
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("account %s: balance %s != transaction sum %s",
		e.AccountID, e.Balance, e.LogSum)
}

func (e *InconsistencyError) Unwrap() error { return ErrLedgerInconsistent }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrDuplicateReference)
}
