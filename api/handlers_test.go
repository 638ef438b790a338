package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coinage/api"
	"github.com/warp/coinage/store/sqlite"
	"github.com/warp/coinage/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) http.Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := api.NewHandler(store, time.UTC, 0, 0)
	return api.NewRouter(h)
}

// do runs one request against the router and decodes the JSON response
// into out (when out is non-nil).
func do(t *testing.T, srv http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out), "body: %s", rec.Body.String())
	}
	return rec
}

func credit(t *testing.T, srv http.Handler, accountID, amount string) {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/admin/adjustments", map[string]string{
		"account_id": accountID,
		"direction":  "credit",
		"amount":     amount,
		"reference":  "seed-" + accountID + "-" + amount,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAPI_AdjustmentThenBalance(t *testing.T) {
	// GIVEN: An admin credit of 100 coins
	// WHEN: Reading the balance
	// THEN: It reflects the credit

	srv := newTestServer(t)
	credit(t, srv, "user-1", "100")

	var balance struct {
		AccountID string `json:"account_id"`
		Balance   string `json:"balance"`
	}
	rec := do(t, srv, http.MethodGet, "/api/accounts/user-1/balance", nil, &balance)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", balance.Balance)
}

func TestAPI_Balance_UnknownAccount_Zero(t *testing.T) {
	srv := newTestServer(t)

	var balance struct {
		Balance string `json:"balance"`
	}
	rec := do(t, srv, http.MethodGet, "/api/accounts/ghost/balance", nil, &balance)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", balance.Balance)
}

func TestAPI_Account_Unknown_404(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/accounts/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Transactions_BadLimit_400(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/accounts/user-1/transactions?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/accounts/user-1/transactions?limit=501", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Verify_Consistent(t *testing.T) {
	srv := newTestServer(t)
	credit(t, srv, "user-1", "10")

	var verify struct {
		Consistent bool `json:"consistent"`
	}
	rec := do(t, srv, http.MethodGet, "/api/accounts/user-1/verify", nil, &verify)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, verify.Consistent)
}

// =============================================================================
// PURCHASES
// =============================================================================

func TestAPI_Purchase_InsufficientFunds_409(t *testing.T) {
	srv := newTestServer(t)
	credit(t, srv, "user-1", "5")

	rec := do(t, srv, http.MethodPost, "/api/accounts/user-1/purchases", map[string]string{
		"amount":    "20",
		"reference": "order-1",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_Purchase_DebitsAndEvaluatesRewards(t *testing.T) {
	// GIVEN: 50 coins and an active first-purchase reward paying 5
	// WHEN: Purchasing for 20
	// THEN: Balance is 50 - 20 + 5 and the response carries the grant

	srv := newTestServer(t)
	credit(t, srv, "user-1", "50")

	rec := do(t, srv, http.MethodPost, "/api/rewards", map[string]any{
		"id":           "first-purchase",
		"name":         "First Purchase",
		"payout_kind":  "currency",
		"payout_value": "5",
		"active":       true,
		"conditions": []map[string]any{
			{"type": "purchase-count", "operator": ">=", "target_value": 1},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Grants []struct {
			RewardID string `json:"reward_id"`
		} `json:"grants"`
	}
	rec = do(t, srv, http.MethodPost, "/api/accounts/user-1/purchases", map[string]string{
		"amount":    "20",
		"reference": "order-1",
	}, &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, resp.Grants, 1)
	assert.Equal(t, "first-purchase", resp.Grants[0].RewardID)

	var balance struct {
		Balance string `json:"balance"`
	}
	do(t, srv, http.MethodGet, "/api/accounts/user-1/balance", nil, &balance)
	assert.Equal(t, "35", balance.Balance)
}

func TestAPI_Purchase_DuplicateReference_409(t *testing.T) {
	srv := newTestServer(t)
	credit(t, srv, "user-1", "50")

	body := map[string]string{"amount": "10", "reference": "order-1"}
	rec := do(t, srv, http.MethodPost, "/api/accounts/user-1/purchases", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/accounts/user-1/purchases", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestAPI_Event_UnknownTrigger_400(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/events", map[string]string{
		"trigger":    "sneeze",
		"account_id": "user-1",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Event_ReactionGrantsBadge(t *testing.T) {
	// GIVEN: An active badge for the first reaction
	// WHEN: A reaction event arrives
	// THEN: The grant appears in the response and under the account

	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/rewards", map[string]any{
		"id":          "first-reaction",
		"name":        "First Reaction",
		"payout_kind": "badge",
		"active":      true,
		"conditions": []map[string]any{
			{"type": "reaction-count", "operator": ">=", "target_value": 1},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Grants []struct {
			RewardID string `json:"reward_id"`
		} `json:"grants"`
	}
	rec = do(t, srv, http.MethodPost, "/api/events", map[string]string{
		"trigger":    "reaction",
		"account_id": "user-1",
	}, &resp)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, resp.Grants, 1)

	var listed struct {
		Grants []struct {
			RewardID string `json:"reward_id"`
		} `json:"grants"`
	}
	do(t, srv, http.MethodGet, "/api/accounts/user-1/grants", nil, &listed)
	require.Len(t, listed.Grants, 1)
	assert.Equal(t, "first-reaction", listed.Grants[0].RewardID)
}

func TestAPI_Event_LoginAdvancesStreak(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/events", map[string]string{
		"trigger":    "login",
		"account_id": "user-1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var streakDTO struct {
		Current int `json:"current"`
	}
	do(t, srv, http.MethodGet, "/api/accounts/user-1/streak", nil, &streakDTO)
	assert.Equal(t, 1, streakDTO.Current)
}

// =============================================================================
// REWARDS
// =============================================================================

func TestAPI_CreateReward_Invalid_400(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/rewards", map[string]any{
		"id":          "broken",
		"name":        "Broken",
		"payout_kind": "gold-bars",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Reward_Unknown_404(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/rewards/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Reward_DeactivateStopsEvaluation(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/rewards", map[string]any{
		"id":          "first-reaction",
		"name":        "First Reaction",
		"payout_kind": "badge",
		"active":      true,
		"conditions": []map[string]any{
			{"type": "reaction-count", "operator": ">=", "target_value": 1},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/rewards/first-reaction/deactivate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Grants []json.RawMessage `json:"grants"`
	}
	rec = do(t, srv, http.MethodPost, "/api/events", map[string]string{
		"trigger":    "reaction",
		"account_id": "user-1",
	}, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Grants)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_Adjustment_BadDirection_400(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/admin/adjustments", map[string]string{
		"account_id": "user-1",
		"direction":  "sideways",
		"amount":     "10",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Workflow_StepAndCancel(t *testing.T) {
	// GIVEN: A fresh admin dialog
	// WHEN: Resuming, feeding a name, then cancelling
	// THEN: States advance and the cancel reports done

	srv := newTestServer(t)

	var step struct {
		State string `json:"state"`
		Done  bool   `json:"done"`
	}
	rec := do(t, srv, http.MethodGet, "/api/admin/workflow/admin-1", nil, &step)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(workflow.StateName), step.State)

	rec = do(t, srv, http.MethodPost, "/api/admin/workflow/admin-1", map[string]string{
		"input": "Early Bird",
	}, &step)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(workflow.StateDescription), step.State)

	rec = do(t, srv, http.MethodDelete, "/api/admin/workflow/admin-1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The next resume starts over.
	rec = do(t, srv, http.MethodGet, "/api/admin/workflow/admin-1", nil, &step)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(workflow.StateName), step.State)
}

func TestAPI_Sweeps_NoScheduler_503(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/admin/sweeps/run", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var runs struct {
		Runs []json.RawMessage `json:"runs"`
	}
	rec = do(t, srv, http.MethodGet, "/api/admin/sweeps", nil, &runs)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, runs.Runs)
}
