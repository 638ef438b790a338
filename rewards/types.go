/*
Package rewards provides the reward catalog and the rule-based reward
engine that pays out virtual currency, badges and benefit tokens.

PURPOSE:
  A RewardDefinition couples a payout with an ordered list of unlock
  conditions (logical AND, see rules package). The engine re-checks all
  active definitions whenever a trigger event arrives and issues each
  non-repeatable reward at most once per account.

KEY CONCEPTS IN THIS FILE (types.go):
  - Definition: A configured reward with payout + conditions
  - Payout: What gets issued (coins, a badge, or an external token)
  - Grant: The recorded fact that a payout was issued
  - TriggerKind: The external occurrences that start evaluation

SEE ALSO:
  - engine.go: Evaluation and payout orchestration
  - catalog.go: Definition storage and lifecycle
  - factory/definition.go: JSON form used by the admin API
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/coinage/economy"
	"github.com/warp/coinage/rules"
)

// =============================================================================
// IDENTIFIERS AND ENUMS
// =============================================================================

type RewardID string

// TriggerKind classifies the external events that drive evaluation.
type TriggerKind string

const (
	TriggerReaction TriggerKind = "reaction"
	TriggerPurchase TriggerKind = "purchase"
	TriggerLogin    TriggerKind = "login"
)

// PayoutKind is what a reward issues on unlock.
type PayoutKind string

const (
	PayoutCurrency PayoutKind = "currency"      // credits coins via the ledger
	PayoutBadge    PayoutKind = "badge"         // the grant record itself is the badge
	PayoutBenefit  PayoutKind = "benefit-token" // opaque token handed to an external system
)

// KnownPayoutKinds lists every valid payout kind, in menu order.
var KnownPayoutKinds = []PayoutKind{PayoutCurrency, PayoutBadge, PayoutBenefit}

// =============================================================================
// DEFINITION
// =============================================================================

// Payout describes what is issued when a reward unlocks.
type Payout struct {
	Kind  PayoutKind
	Coins economy.Amount // currency payouts only
	Token string         // benefit-token payouts only
}

// Definition is a configured reward. Conditions combine with logical AND;
// an empty list makes the reward unconditional.
type Definition struct {
	ID          RewardID
	Name        string
	Description string
	Payout      Payout
	Repeatable  bool

	// Cooldown governs re-eligibility of repeatable rewards. Zero means
	// the system default applies.
	Cooldown time.Duration

	// RequiredRole gates the reward to accounts holding the role
	// ("member" etc.); empty means open to everyone.
	RequiredRole string

	Active     bool
	Conditions []rules.Condition
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the definition and every condition. Used at commit
// time by the configuration workflow and the admin API.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", rules.ErrInvalidConditionConfig)
	}
	switch d.Payout.Kind {
	case PayoutCurrency:
		if !d.Payout.Coins.IsPositive() || !d.Payout.Coins.Value.IsInteger() {
			return fmt.Errorf("%w: currency payout requires a positive whole coin amount", rules.ErrInvalidConditionConfig)
		}
	case PayoutBadge:
		// No value needed.
	case PayoutBenefit:
		if d.Payout.Token == "" {
			return fmt.Errorf("%w: benefit-token payout requires a token", rules.ErrInvalidConditionConfig)
		}
	default:
		return fmt.Errorf("%w: unknown payout kind %q", rules.ErrInvalidConditionConfig, d.Payout.Kind)
	}
	if d.Cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown", rules.ErrInvalidConditionConfig)
	}
	for i, c := range d.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}
	return nil
}

// =============================================================================
// GRANT
// =============================================================================

// Grant records that (account, reward) was satisfied and paid out. For
// non-repeatable rewards it doubles as the uniqueness guard against
// double payout; for repeatable rewards it is history and the cooldown
// anchor.
type Grant struct {
	ID        string
	AccountID economy.AccountID
	RewardID  RewardID
	GrantedAt time.Time
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDuplicateGrant is returned by stores when a grant already exists
	// for a non-repeatable reward. The engine treats it as a no-op so
	// OnEvent stays idempotent.
	ErrDuplicateGrant = errors.New("reward already granted")

	// ErrRewardNotFound is returned for lookups of unknown definitions.
	ErrRewardNotFound = errors.New("reward definition not found")
)

// =============================================================================
// STORES
// =============================================================================

// CatalogStore persists reward definitions.
type CatalogStore interface {
	SaveDefinition(ctx context.Context, def Definition) error
	GetDefinition(ctx context.Context, id RewardID) (*Definition, error)
	ListDefinitions(ctx context.Context) ([]Definition, error)
	ListActiveDefinitions(ctx context.Context) ([]Definition, error)
}

// PayoutApplication carries the pre-computed ledger effect of a currency
// payout so the store can apply it atomically with the grant record.
type PayoutApplication struct {
	Account         economy.Account
	ExpectedVersion int64
	Tx              economy.Transaction
}

// GrantPolicy tells the store which re-issue rules to enforce inside
// the grant's storage transaction. Checking them outside (read grants,
// then write) would let two concurrent events for the same account both
// pass the check and double-pay.
type GrantPolicy struct {
	Repeatable bool

	// Cooldown is the minimum gap between grants of a repeatable
	// reward. Zero means no gap is enforced.
	Cooldown time.Duration
}

// GrantStore persists grants. RecordGrant is the engine's atomic
// payout-plus-grant step: either the grant row and the ledger effect are
// both durable, or neither is.
type GrantStore interface {
	// RecordGrant appends the grant and, when payout is non-nil, applies
	// the account update and transaction in the same storage transaction.
	// The policy is enforced in that same transaction: ErrDuplicateGrant
	// when a grant already exists and the reward is non-repeatable, or
	// when the newest grant is still inside the cooldown.
	// economy.ErrConcurrentModification when the payout's version guard
	// fails.
	RecordGrant(ctx context.Context, g Grant, policy GrantPolicy, payout *PayoutApplication) error

	// LastGrant returns the most recent grant for (account, reward), or
	// (nil, nil) if none exists.
	LastGrant(ctx context.Context, id economy.AccountID, reward RewardID) (*Grant, error)

	// ListGrants returns the account's grants, newest first.
	ListGrants(ctx context.Context, id economy.AccountID) ([]Grant, error)
}

// ActivityStore records trigger events as an append-only stream and
// answers windowed counter queries for condition evaluation.
type ActivityStore interface {
	RecordEvent(ctx context.Context, ev ActivityEvent) error

	// CountEvents counts events of the kind for the account at or after
	// since. A zero since counts all time.
	CountEvents(ctx context.Context, id economy.AccountID, kind string, since time.Time) (int64, error)
}

// ActivityEvent is one occurrence in the trigger feed.
type ActivityEvent struct {
	ID        string
	AccountID economy.AccountID
	Kind      string
	At        time.Time
	Reference string
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// RoleChecker is the narrow account-role lookup used for role-gated
// rewards. The real implementation lives with the platform's access
// control; AllowAll is the default.
type RoleChecker interface {
	HasRole(ctx context.Context, id economy.AccountID, role string) (bool, error)
}

// AllowAll grants every role check. Used when no role source is wired.
type AllowAll struct{}

func (AllowAll) HasRole(context.Context, economy.AccountID, string) (bool, error) { return true, nil }

// Notifier is the side-effect callback through which the presentation
// layer learns about issued grants. Implementations must be fast; the
// engine calls them synchronously after the grant is durable.
type Notifier interface {
	GrantIssued(ctx context.Context, g Grant, def Definition)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) GrantIssued(context.Context, Grant, Definition) {}
