/*
engine.go - Reward evaluation and payout orchestration

PURPOSE:
  OnEvent is the single entry point external triggers call. For each
  trigger the engine records the activity event, advances the account's
  streak, then re-checks every active reward definition:

    1. Skip definitions already granted (non-repeatable) or still inside
       their cooldown (repeatable)
    2. Assemble the evaluation context from current metrics (ledger,
       streak, windowed activity counters)
    3. rules.EvaluateAll over the definition's conditions
    4. On full match, apply the payout and record the grant as ONE
       storage transaction - a crash can never leave a credited but
       unrecorded, double-payable state

FAILURE ISOLATION:
  One definition failing to evaluate (bad role source, storage hiccup)
  is logged and must not stop evaluation of the remaining definitions
  for the same event, and never rolls back payouts already completed in
  the batch.

IDEMPOTENCY:
  Replaying an event cannot double-pay a non-repeatable reward: the
  grant store's uniqueness guard turns the second attempt into a no-op.

SEE ALSO:
  - types.go: Store and collaborator interfaces
  - rules/condition.go: Evaluation semantics
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/warp/coinage/economy"
	"github.com/warp/coinage/rules"
	"github.com/warp/coinage/streak"
)

const (
	maxPayoutAttempts = 5

	// DefaultCooldown applies to repeatable rewards that do not set one.
	DefaultCooldown = 24 * time.Hour
)

// Engine orchestrates reward evaluation. It depends on the other
// components through narrow interfaces; none of them depend back on it.
type Engine struct {
	Catalog  *Catalog
	Accounts economy.Store
	Grants   GrantStore
	Activity ActivityStore
	Streaks  *streak.Tracker
	Roles    RoleChecker
	Notifier Notifier

	// Location is the reference timezone for calendar-day streaks.
	Location *time.Location
	// Cooldown is the default re-eligibility window for repeatable
	// rewards without an explicit one.
	Cooldown time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// NewEngine wires an engine with defaults: UTC days, 24h cooldown,
// allow-all roles, no-op notifier.
func NewEngine(catalog *Catalog, accounts economy.Store, grants GrantStore, activity ActivityStore, streaks *streak.Tracker) *Engine {
	return &Engine{
		Catalog:  catalog,
		Accounts: accounts,
		Grants:   grants,
		Activity: activity,
		Streaks:  streaks,
		Roles:    AllowAll{},
		Notifier: NopNotifier{},
		Location: time.UTC,
		Cooldown: DefaultCooldown,
		Clock:    time.Now,
		Logger:   slog.Default(),
	}
}

// OnEvent processes one trigger event and returns the grants it caused.
// The returned error covers only the pre-evaluation steps (recording the
// event, streak update); per-reward failures are logged and isolated.
func (e *Engine) OnEvent(ctx context.Context, trigger TriggerKind, id economy.AccountID, reference string) ([]Grant, error) {
	now := e.Clock()

	ev := ActivityEvent{
		ID:        uuid.NewString(),
		AccountID: id,
		Kind:      string(trigger),
		At:        now,
		Reference: reference,
	}
	if err := e.Activity.RecordEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("record activity event: %w", err)
	}

	if _, err := e.Streaks.RecordActivity(ctx, id, streak.DayOf(now, e.Location)); err != nil {
		return nil, fmt.Errorf("update streak: %w", err)
	}

	defs, err := e.Catalog.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rewards: %w", err)
	}

	var grants []Grant
	for _, def := range defs {
		grant, err := e.evaluateOne(ctx, def, id, now)
		if err != nil {
			// Isolate per-reward failures; the remaining definitions
			// still get their chance and completed payouts stand.
			e.Logger.Error("reward evaluation failed",
				"reward", def.ID, "account", id, "error", err)
			continue
		}
		if grant != nil {
			grants = append(grants, *grant)
			e.Notifier.GrantIssued(ctx, *grant, def)
		}
	}
	return grants, nil
}

// evaluateOne checks and, if satisfied, pays out a single definition.
// Returns (nil, nil) when the reward simply does not apply.
func (e *Engine) evaluateOne(ctx context.Context, def Definition, id economy.AccountID, now time.Time) (*Grant, error) {
	if def.RequiredRole != "" {
		ok, err := e.Roles.HasRole(ctx, id, def.RequiredRole)
		if err != nil {
			return nil, fmt.Errorf("role check: %w", err)
		}
		if !ok {
			return nil, nil
		}
	}

	// Cheap skip before building any context. The authoritative check
	// happens inside RecordGrant's storage transaction; this read alone
	// cannot be trusted under concurrent events.
	last, err := e.Grants.LastGrant(ctx, id, def.ID)
	if err != nil {
		return nil, fmt.Errorf("load last grant: %w", err)
	}
	if last != nil {
		if !def.Repeatable {
			return nil, nil
		}
		if now.Sub(last.GrantedAt) < e.effectiveCooldown(def) {
			return nil, nil
		}
	}

	evalCtx, err := e.buildContext(ctx, def.Conditions, id, now)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	ok, err := rules.EvaluateAll(def.Conditions, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("evaluate conditions: %w", err)
	}
	if !ok {
		return nil, nil
	}

	return e.payout(ctx, def, id, now)
}

// buildContext assembles current metric values for the conditions.
// The evaluator itself is time-unaware: windows are applied here, when
// counting events.
func (e *Engine) buildContext(ctx context.Context, conds []rules.Condition, id economy.AccountID, now time.Time) (rules.Context, error) {
	evalCtx := make(rules.Context, len(conds))

	var acct *economy.Account
	var acctLoaded bool
	loadAccount := func() (*economy.Account, error) {
		if !acctLoaded {
			var err error
			acct, err = e.Accounts.GetAccount(ctx, id)
			if err != nil {
				return nil, err
			}
			acctLoaded = true
		}
		return acct, nil
	}

	for _, c := range conds {
		key := c.ContextKey()
		if _, done := evalCtx[key]; done {
			continue
		}

		switch {
		case c.Type == rules.CondStreakLength:
			rec, err := e.Streaks.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			evalCtx[key] = decimal.NewFromInt(int64(rec.Current))

		case c.Type == rules.CondLifetimeEarned:
			a, err := loadAccount()
			if err != nil {
				return nil, err
			}
			if a == nil {
				evalCtx[key] = decimal.Zero
			} else {
				evalCtx[key] = a.LifetimeEarned.Value
			}

		case c.Type == rules.CondDaysSinceJoin:
			a, err := loadAccount()
			if err != nil {
				return nil, err
			}
			if a == nil {
				evalCtx[key] = decimal.Zero
			} else {
				days := int64(now.Sub(a.CreatedAt).Hours() / 24)
				evalCtx[key] = decimal.NewFromInt(days)
			}

		case c.IsEventCounter():
			kind := counterKind(c)
			var since time.Time
			if c.Window > 0 {
				since = now.Add(-c.Window)
			}
			n, err := e.Activity.CountEvents(ctx, id, kind, since)
			if err != nil {
				return nil, err
			}
			evalCtx[key] = decimal.NewFromInt(n)

		default:
			return nil, fmt.Errorf("%w: %s", rules.ErrInvalidConditionConfig, c.Type)
		}
	}
	return evalCtx, nil
}

// counterKind maps a counter condition to its activity-event kind.
func counterKind(c rules.Condition) string {
	switch c.Type {
	case rules.CondReactionCount:
		return string(TriggerReaction)
	case rules.CondPurchaseCount:
		return string(TriggerPurchase)
	default:
		return "counter:" + c.Counter
	}
}

// effectiveCooldown resolves a definition's re-eligibility window,
// falling back to the engine default.
func (e *Engine) effectiveCooldown(def Definition) time.Duration {
	if def.Cooldown > 0 {
		return def.Cooldown
	}
	return e.Cooldown
}

// payout issues the reward. Currency payouts compute the ledger effect
// with economy.BuildCredit and hand it to the grant store so the credit
// and the grant land in one storage transaction; version conflicts are
// retried with a fresh account read. ErrDuplicateGrant is swallowed:
// someone else already paid this reward out, which is exactly the
// idempotent outcome we want.
func (e *Engine) payout(ctx context.Context, def Definition, id economy.AccountID, now time.Time) (*Grant, error) {
	grant := Grant{
		ID:        uuid.NewString(),
		AccountID: id,
		RewardID:  def.ID,
		GrantedAt: now,
	}
	policy := GrantPolicy{Repeatable: def.Repeatable}
	if def.Repeatable {
		policy.Cooldown = e.effectiveCooldown(def)
	}

	if def.Payout.Kind != PayoutCurrency {
		err := e.Grants.RecordGrant(ctx, grant, policy, nil)
		if errors.Is(err, ErrDuplicateGrant) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &grant, nil
	}

	var issued *Grant
	backoff := retry.WithMaxRetries(maxPayoutAttempts, retry.NewConstant(2*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		acct, err := e.Accounts.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		var current economy.Account
		if acct == nil {
			current = economy.NewAccount(id, now)
		} else {
			current = *acct
		}

		// The grant ID is the transaction reference: unique per payout
		// (repeatable rewards credit more than once per definition) and
		// traceable back to the grant row.
		updated, tx, err := economy.BuildCredit(current, def.Payout.Coins, economy.SourceRewardGrant, grant.ID, now)
		if err != nil {
			return err
		}

		err = e.Grants.RecordGrant(ctx, grant, policy, &PayoutApplication{
			Account:         updated,
			ExpectedVersion: current.Version,
			Tx:              tx,
		})
		if errors.Is(err, economy.ErrConcurrentModification) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		issued = &grant
		return nil
	})
	if errors.Is(err, ErrDuplicateGrant) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return issued, nil
}
