/*
Package rules is a small, stateless rule-evaluation library.

PURPOSE:
  A Condition is (metric type, operator, target value, optional time
  window). Evaluate compares the caller-supplied current value against
  the target; EvaluateAll combines a reward's conditions with logical
  AND, short-circuiting on the first failure.

STATELESSNESS:
  The evaluator knows nothing about time or storage. A time window only
  changes WHICH events the caller counts when assembling the Context;
  the evaluator trusts the value it is given. The reward engine builds
  the Context from ledger, streak and activity-counter state.

SEE ALSO:
  - rewards/engine.go: Context assembly
  - factory/definition.go: Condition validation at configuration time
*/
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONDITION MODEL
// =============================================================================

type ConditionType string

const (
	CondStreakLength   ConditionType = "streak-length"
	CondLifetimeEarned ConditionType = "lifetime-earned"
	CondReactionCount  ConditionType = "reaction-count"
	CondPurchaseCount  ConditionType = "purchase-count"
	CondDaysSinceJoin  ConditionType = "days-since-join"
	CondCustomCounter  ConditionType = "custom-counter"
)

// KnownConditionTypes lists every valid condition type, in menu order.
var KnownConditionTypes = []ConditionType{
	CondStreakLength,
	CondLifetimeEarned,
	CondReactionCount,
	CondPurchaseCount,
	CondDaysSinceJoin,
	CondCustomCounter,
}

type Operator string

const (
	OpEqual          Operator = "="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
)

// KnownOperators lists every valid operator, in menu order.
var KnownOperators = []Operator{OpEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual}

// Condition is one unlock requirement on a reward definition.
type Condition struct {
	Type     ConditionType
	Operator Operator
	Target   decimal.Decimal

	// Window, when non-zero, restricts which events contribute to the
	// metric (e.g. reactions within the last 24h). Only meaningful for
	// event-counter condition types.
	Window time.Duration

	// Counter names the metric for custom-counter conditions.
	Counter string
}

// ContextKey is the key under which the engine supplies this condition's
// current value. Windowed counters get distinct keys so the same metric
// can appear with different windows on one reward.
func (c Condition) ContextKey() string {
	key := string(c.Type)
	if c.Type == CondCustomCounter {
		key = key + ":" + c.Counter
	}
	if c.Window > 0 {
		key = fmt.Sprintf("%s@%s", key, c.Window)
	}
	return key
}

// IsEventCounter reports whether the condition counts discrete events
// (and therefore supports a time window).
func (c Condition) IsEventCounter() bool {
	switch c.Type {
	case CondReactionCount, CondPurchaseCount, CondCustomCounter:
		return true
	}
	return false
}

// =============================================================================
// VALIDATION
// =============================================================================

var (
	// ErrInvalidConditionConfig is returned for malformed conditions:
	// unknown type or operator, missing counter name, negative target,
	// or a window on a non-counter metric.
	ErrInvalidConditionConfig = errors.New("invalid condition configuration")

	// ErrMissingMetric is returned by Evaluate when the context lacks the
	// condition's metric. The engine treats this as an evaluation error
	// for that one reward, never as "condition met".
	ErrMissingMetric = errors.New("metric missing from evaluation context")
)

// Validate checks the condition's shape. Called at configuration time
// (workflow commit, API create) so bad rules never reach the engine.
func (c Condition) Validate() error {
	if !knownType(c.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidConditionConfig, c.Type)
	}
	if !knownOperator(c.Operator) {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidConditionConfig, c.Operator)
	}
	if c.Target.IsNegative() {
		return fmt.Errorf("%w: negative target %s", ErrInvalidConditionConfig, c.Target)
	}
	if c.Type == CondCustomCounter && c.Counter == "" {
		return fmt.Errorf("%w: custom-counter requires a counter name", ErrInvalidConditionConfig)
	}
	if c.Type != CondCustomCounter && c.Counter != "" {
		return fmt.Errorf("%w: counter name only valid for custom-counter", ErrInvalidConditionConfig)
	}
	if c.Window < 0 {
		return fmt.Errorf("%w: negative window", ErrInvalidConditionConfig)
	}
	if c.Window > 0 && !c.IsEventCounter() {
		return fmt.Errorf("%w: time window not supported for %s", ErrInvalidConditionConfig, c.Type)
	}
	return nil
}

func knownType(t ConditionType) bool {
	for _, k := range KnownConditionTypes {
		if k == t {
			return true
		}
	}
	return false
}

func knownOperator(op Operator) bool {
	for _, k := range KnownOperators {
		if k == op {
			return true
		}
	}
	return false
}

// =============================================================================
// EVALUATION
// =============================================================================

// Context maps metric keys (Condition.ContextKey) to current values.
type Context map[string]decimal.Decimal

// Evaluate returns whether the condition holds for the supplied context.
func Evaluate(c Condition, ctx Context) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}

	value, ok := ctx[c.ContextKey()]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingMetric, c.ContextKey())
	}

	switch c.Operator {
	case OpEqual:
		return value.Equal(c.Target), nil
	case OpGreater:
		return value.GreaterThan(c.Target), nil
	case OpGreaterOrEqual:
		return value.GreaterThanOrEqual(c.Target), nil
	case OpLess:
		return value.LessThan(c.Target), nil
	case OpLessOrEqual:
		return value.LessThanOrEqual(c.Target), nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidConditionConfig, c.Operator)
}

// EvaluateAll is logical AND over the conditions, short-circuiting on the
// first failure. An empty list evaluates to true: the reward is
// unconditional (e.g. a manual admin grant).
func EvaluateAll(conds []Condition, ctx Context) (bool, error) {
	for _, c := range conds {
		ok, err := Evaluate(c, ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
