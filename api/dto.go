/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Wire representations decoupled from domain types. Amounts travel as
  decimal strings so clients never lose precision; timestamps are RFC3339.

SEE ALSO:
  - handlers.go: Where these get populated
  - factory/definition.go: The reward-definition wire form
*/
package api

import "github.com/warp/coinage/factory"

// =============================================================================
// ACCOUNT / LEDGER
// =============================================================================

// AccountDTO is the full account record.
type AccountDTO struct {
	ID             string `json:"id"`
	Balance        string `json:"balance"`
	LifetimeEarned string `json:"lifetime_earned"`
	LifetimeSpent  string `json:"lifetime_spent"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at"`
}

// BalanceDTO is the lightweight balance view.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	ID               string `json:"id"`
	AccountID        string `json:"account_id"`
	Amount           string `json:"amount"`
	ResultingBalance string `json:"resulting_balance"`
	Source           string `json:"source"`
	Reference        string `json:"reference,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// HistoryDTO is one page of transaction history, newest first.
type HistoryDTO struct {
	Transactions []TransactionDTO `json:"transactions"`

	// NextCursor resumes the next page; empty at the end of the log.
	NextCursor string `json:"next_cursor,omitempty"`
}

// VerifyDTO reports the ledger consistency check.
type VerifyDTO struct {
	AccountID  string `json:"account_id"`
	Consistent bool   `json:"consistent"`
	Details    string `json:"details,omitempty"`
}

// =============================================================================
// STREAK
// =============================================================================

// StreakDTO is the account's streak state.
type StreakDTO struct {
	AccountID       string `json:"account_id"`
	Current         int    `json:"current"`
	Longest         int    `json:"longest"`
	LastActivityDay string `json:"last_activity_day,omitempty"`
}

// =============================================================================
// EVENTS AND PURCHASES
// =============================================================================

// EventRequest is an external trigger event.
type EventRequest struct {
	Trigger   string `json:"trigger"` // reaction, purchase, login
	AccountID string `json:"account_id"`
	Reference string `json:"reference,omitempty"`
}

// EventResponse lists the grants the event caused.
type EventResponse struct {
	Grants []GrantDTO `json:"grants"`
}

// GrantDTO records one issued reward.
type GrantDTO struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	RewardID  string `json:"reward_id"`
	GrantedAt string `json:"granted_at"`
}

// PurchaseRequest spends coins. Amount is a whole-coin decimal string.
type PurchaseRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// AdjustmentRequest is a manual admin credit or debit.
type AdjustmentRequest struct {
	AccountID string `json:"account_id"`
	Direction string `json:"direction"` // credit or debit
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// =============================================================================
// REWARD ADMINISTRATION
// =============================================================================

// RewardDTO wraps the factory wire form plus server-side timestamps.
type RewardDTO struct {
	factory.DefinitionJSON
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// =============================================================================
// CONFIGURATION WORKFLOW
// =============================================================================

// WorkflowInputRequest carries one admin reply in the dialog.
type WorkflowInputRequest struct {
	Input string `json:"input"`
}

// WorkflowStepDTO is the dialog state after a step.
type WorkflowStepDTO struct {
	State     string `json:"state"`
	Prompt    string `json:"prompt"`
	Done      bool   `json:"done"`
	Committed bool   `json:"committed"`
}

// =============================================================================
// SWEEPS
// =============================================================================

// SweepRunDTO is one daily streak-expiry run.
type SweepRunDTO struct {
	ID           string `json:"id"`
	Day          string `json:"day"`
	Status       string `json:"status"`
	StreaksReset int    `json:"streaks_reset"`
	Error        string `json:"error,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
