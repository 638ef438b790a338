/*
handlers.go - HTTP API handlers for the virtual-currency service

PURPOSE:
  Exposes the ledger, streak tracker, reward engine and configuration
  workflow via REST. Handles HTTP request/response, JSON serialization,
  and delegates to domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts/{id}               Full account record
    GET    /api/accounts/{id}/balance       Balance only
    GET    /api/accounts/{id}/transactions  Paged history (cursor, limit)
    GET    /api/accounts/{id}/streak        Streak state
    GET    /api/accounts/{id}/grants        Issued rewards
    GET    /api/accounts/{id}/verify        Ledger consistency check
    POST   /api/accounts/{id}/purchases     Spend coins
    POST   /api/accounts/{id}/deactivate    Retire the account

  Events:
    POST   /api/events                      Trigger event (reaction/purchase/login)

  Rewards:
    GET    /api/rewards                     List definitions
    POST   /api/rewards                     Create from JSON
    GET    /api/rewards/{id}                Get one definition
    POST   /api/rewards/{id}/activate       Enable evaluation
    POST   /api/rewards/{id}/deactivate     Disable evaluation

  Admin:
    POST   /api/admin/adjustments           Manual credit/debit
    GET    /api/admin/workflow/{adminID}    Resume the config dialog
    POST   /api/admin/workflow/{adminID}    One dialog input
    DELETE /api/admin/workflow/{adminID}    Discard the draft
    GET    /api/admin/sweeps                Sweep run history
    POST   /api/admin/sweeps/run            Trigger the sweep now

ERROR HANDLING:
  Domain errors map to HTTP status:
  - 400: Invalid amounts, bad condition config, inactive account
  - 404: Unknown account/reward
  - 409: Insufficient funds, duplicates, version conflicts
  - 500: Everything else

SEE ALSO:
  - dto.go: Wire structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/coinage/economy"
	"github.com/warp/coinage/factory"
	"github.com/warp/coinage/rewards"
	"github.com/warp/coinage/rules"
	"github.com/warp/coinage/store/sqlite"
	"github.com/warp/coinage/streak"
	"github.com/warp/coinage/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Ledger   economy.Ledger
	Tracker  *streak.Tracker
	Catalog  *rewards.Catalog
	Engine   *rewards.Engine
	Workflow *workflow.Workflow

	// Sweeper is set after construction so the manual-run endpoint can
	// reuse the scheduler's bookkeeping. Optional.
	Sweeper *SweepScheduler
}

// NewHandler wires the domain components over the given store.
func NewHandler(store *sqlite.Store, loc *time.Location, graceDays int, cooldown time.Duration) *Handler {
	ledger := economy.NewLedger(store)
	tracker := streak.NewTracker(store, graceDays)
	catalog := rewards.NewCatalog(store)

	engine := rewards.NewEngine(catalog, store, store, store, tracker)
	engine.Location = loc
	if cooldown > 0 {
		engine.Cooldown = cooldown
	}

	return &Handler{
		Store:    store,
		Ledger:   ledger,
		Tracker:  tracker,
		Catalog:  catalog,
		Engine:   engine,
		Workflow: workflow.New(store),
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetAccount returns the full account record.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := economy.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Ledger.Account(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}

	writeJSON(w, http.StatusOK, AccountDTO{
		ID:             string(acct.ID),
		Balance:        acct.Balance.String(),
		LifetimeEarned: acct.LifetimeEarned.String(),
		LifetimeSpent:  acct.LifetimeSpent.String(),
		Active:         acct.Active,
		CreatedAt:      acct.CreatedAt.Format(time.RFC3339),
	})
}

// GetBalance returns the account balance. Unknown accounts report zero.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := economy.AccountID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: string(id),
		Balance:   balance.String(),
	})
}

// GetTransactions returns one page of history, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := economy.AccountID(chi.URLParam(r, "id"))
	cursor := r.URL.Query().Get("cursor")

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1-500", nil)
			return
		}
		limit = n
	}

	txs, next, err := h.Ledger.History(r.Context(), id, cursor, limit)
	if err != nil {
		writeDomainError(w, "Failed to load history", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, HistoryDTO{Transactions: dtos, NextCursor: next})
}

// GetStreak returns the account's streak. Accounts with no activity yet
// report a zero streak.
func (h *Handler) GetStreak(w http.ResponseWriter, r *http.Request) {
	id := economy.AccountID(chi.URLParam(r, "id"))

	rec, err := h.Tracker.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get streak", err)
		return
	}

	dto := StreakDTO{
		AccountID: string(id),
		Current:   rec.Current,
		Longest:   rec.Longest,
	}
	if rec.LastActivityDay != 0 {
		dto.LastActivityDay = rec.LastActivityDay.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetGrants returns the account's issued rewards, newest first.
func (h *Handler) GetGrants(w http.ResponseWriter, r *http.Request) {
	id := economy.AccountID(chi.URLParam(r, "id"))

	grants, err := h.Store.ListGrants(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list grants", err)
		return
	}

	dtos := make([]GrantDTO, len(grants))
	for i, g := range grants {
		dtos[i] = toGrantDTO(g)
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": dtos})
}

// VerifyAccount recomputes the balance from the transaction log.
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	id := economy.AccountID(chi.URLParam(r, "id"))

	err := h.Ledger.Verify(r.Context(), id)
	if err != nil && !errors.Is(err, economy.ErrLedgerInconsistent) {
		writeDomainError(w, "Failed to verify account", err)
		return
	}

	dto := VerifyDTO{AccountID: string(id), Consistent: err == nil}
	if err != nil {
		dto.Details = err.Error()
	}
	writeJSON(w, http.StatusOK, dto)
}

// SubmitPurchase debits coins and feeds the purchase trigger through the
// reward engine, so purchase-count rewards fire on the same request.
func (h *Handler) SubmitPurchase(w http.ResponseWriter, r *http.Request) {
	id := economy.AccountID(chi.URLParam(r, "id"))

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	ctx := r.Context()
	tx, err := h.Ledger.Debit(ctx, id, amount, economy.SourcePurchaseDebit, req.Reference)
	if err != nil {
		writeDomainError(w, "Purchase failed", err)
		return
	}

	grants, err := h.Engine.OnEvent(ctx, rewards.TriggerPurchase, id, req.Reference)
	if err != nil {
		// The debit is already durable; report it with the evaluation
		// failure rather than pretending the purchase did not happen.
		writeJSON(w, http.StatusCreated, map[string]any{
			"transaction": toTransactionDTO(*tx),
			"warning":     "reward evaluation failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction": toTransactionDTO(*tx),
		"grants":      toGrantDTOs(grants),
	})
}

// DeactivateAccount retires the account. Its history remains readable.
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id := economy.AccountID(chi.URLParam(r, "id"))

	if err := h.Ledger.Deactivate(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to deactivate account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// =============================================================================
// EVENT HANDLER
// =============================================================================

// SubmitEvent is the single entry point for external trigger events.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}

	trigger := rewards.TriggerKind(req.Trigger)
	switch trigger {
	case rewards.TriggerReaction, rewards.TriggerPurchase, rewards.TriggerLogin:
	default:
		writeError(w, http.StatusBadRequest, "Unknown trigger kind", nil)
		return
	}

	grants, err := h.Engine.OnEvent(r.Context(), trigger, economy.AccountID(req.AccountID), req.Reference)
	if err != nil {
		writeDomainError(w, "Failed to process event", err)
		return
	}

	writeJSON(w, http.StatusOK, EventResponse{Grants: toGrantDTOs(grants)})
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewards returns all reward definitions.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Catalog.List(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list rewards", err)
		return
	}

	dtos := make([]RewardDTO, len(defs))
	for i, def := range defs {
		dtos[i] = toRewardDTO(def)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateReward creates a definition from its JSON form.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	def, err := factory.ParseDefinition(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reward definition", err)
		return
	}
	if def.ID == "" {
		def.ID = rewards.RewardID(uuid.NewString())
	}

	created, err := h.Catalog.Create(r.Context(), def)
	if err != nil {
		writeDomainError(w, "Failed to create reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(created))
}

// GetReward returns one definition.
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	id := rewards.RewardID(chi.URLParam(r, "id"))

	def, err := h.Catalog.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get reward", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(def))
}

// ActivateReward enables the definition for evaluation.
func (h *Handler) ActivateReward(w http.ResponseWriter, r *http.Request) {
	h.setRewardActive(w, r, true)
}

// DeactivateReward removes the definition from evaluation without
// deleting it or its grant history.
func (h *Handler) DeactivateReward(w http.ResponseWriter, r *http.Request) {
	h.setRewardActive(w, r, false)
}

func (h *Handler) setRewardActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := rewards.RewardID(chi.URLParam(r, "id"))

	def, err := h.Catalog.SetActive(r.Context(), id, active)
	if err != nil {
		writeDomainError(w, "Failed to update reward", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(def))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment applies a manual credit or debit.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	id := economy.AccountID(req.AccountID)
	var tx *economy.Transaction
	switch req.Direction {
	case "credit":
		tx, err = h.Ledger.Credit(r.Context(), id, amount, economy.SourceAdminAdjustment, req.Reference)
	case "debit":
		tx, err = h.Ledger.Debit(r.Context(), id, amount, economy.SourceAdminAdjustment, req.Reference)
	default:
		writeError(w, http.StatusBadRequest, "direction must be credit or debit", nil)
		return
	}
	if err != nil {
		writeDomainError(w, "Adjustment failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// ResumeWorkflow returns the admin's dialog position, starting a fresh
// draft when none exists.
func (h *Handler) ResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	adminID := chi.URLParam(r, "adminID")

	res, err := h.Workflow.Resume(r.Context(), adminID)
	if err != nil {
		writeDomainError(w, "Failed to resume workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkflowDTO(res))
}

// StepWorkflow feeds one admin input into the dialog.
func (h *Handler) StepWorkflow(w http.ResponseWriter, r *http.Request) {
	adminID := chi.URLParam(r, "adminID")

	var req WorkflowInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Workflow.Step(r.Context(), adminID, req.Input)
	if err != nil {
		writeDomainError(w, "Failed to process input", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkflowDTO(res))
}

// CancelWorkflow discards the admin's draft.
func (h *Handler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	adminID := chi.URLParam(r, "adminID")

	if err := h.Workflow.Cancel(r.Context(), adminID); err != nil {
		writeDomainError(w, "Failed to cancel workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ListSweepRuns returns recent streak-expiry sweep runs.
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListSweepRuns(r.Context(), 50)
	if err != nil {
		writeDomainError(w, "Failed to list sweep runs", err)
		return
	}

	dtos := make([]SweepRunDTO, 0, len(runs))
	for _, run := range runs {
		dto := SweepRunDTO{
			ID:           run.ID,
			Day:          run.Day.String(),
			Status:       run.Status,
			StreaksReset: run.StreaksReset,
			Error:        run.Error,
		}
		if run.CompletedAt != nil {
			dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// TriggerSweep runs the streak-expiry check immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "Sweep scheduler not running", nil)
		return
	}
	h.Sweeper.RunNow()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toTransactionDTO(tx economy.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:               string(tx.ID),
		AccountID:        string(tx.AccountID),
		Amount:           tx.Amount.String(),
		ResultingBalance: tx.ResultingBalance.String(),
		Source:           string(tx.Source),
		Reference:        tx.Reference,
		CreatedAt:        tx.CreatedAt.Format(time.RFC3339),
	}
}

func toGrantDTO(g rewards.Grant) GrantDTO {
	return GrantDTO{
		ID:        g.ID,
		AccountID: string(g.AccountID),
		RewardID:  string(g.RewardID),
		GrantedAt: g.GrantedAt.Format(time.RFC3339),
	}
}

func toGrantDTOs(grants []rewards.Grant) []GrantDTO {
	dtos := make([]GrantDTO, len(grants))
	for i, g := range grants {
		dtos[i] = toGrantDTO(g)
	}
	return dtos
}

func toRewardDTO(def rewards.Definition) RewardDTO {
	dto := RewardDTO{DefinitionJSON: factory.ToJSON(def)}
	if !def.CreatedAt.IsZero() {
		dto.CreatedAt = def.CreatedAt.Format(time.RFC3339)
	}
	if !def.UpdatedAt.IsZero() {
		dto.UpdatedAt = def.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toWorkflowDTO(res *workflow.StepResult) WorkflowStepDTO {
	return WorkflowStepDTO{
		State:     string(res.State),
		Prompt:    res.Prompt,
		Done:      res.Done,
		Committed: res.Committed != nil,
	}
}

func parseAmount(s string) (economy.Amount, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return economy.Amount{}, err
	}
	return economy.Amount{Value: v}, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, economy.ErrAccountNotFound),
		errors.Is(err, rewards.ErrRewardNotFound),
		errors.Is(err, workflow.ErrDraftNotFound):
		writeError(w, http.StatusNotFound, message, err)

	case errors.Is(err, economy.ErrInsufficientFunds),
		errors.Is(err, economy.ErrDuplicateReference),
		errors.Is(err, rewards.ErrDuplicateGrant),
		errors.Is(err, economy.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)

	case economy.IsClientError(err),
		errors.Is(err, rules.ErrInvalidConditionConfig):
		writeError(w, http.StatusBadRequest, message, err)

	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
