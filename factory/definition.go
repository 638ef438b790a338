/*
Package factory provides JSON to Go reward-definition conversion.

PURPOSE:
  Converts JSON reward definitions into rewards.Definition values and
  back. This enables reward configuration without code changes - an
  admin UI posts JSON, and the factory builds validated Go structs.

JSON SCHEMA:
  {
    "id": "early-bird",
    "name": "Early Bird",
    "description": "Seven days in a row",
    "payout_kind": "currency",
    "payout_value": "20",
    "repeatable": false,
    "cooldown": "24h",
    "required_role": "",
    "active": true,
    "conditions": [
      {"type": "streak-length", "operator": ">=", "target_value": 7}
    ]
  }

  payout_value is the coin amount for currency payouts, the opaque token
  for benefit-token payouts, and ignored for badges. cooldown and
  time_window use Go duration syntax ("24h", "30m").

VALIDATION:
  ParseDefinition rejects malformed input with
  rules.ErrInvalidConditionConfig before anything is persisted.

SEE ALSO:
  - rewards/types.go: Definition and Validate
  - api/handlers.go: Uses this for the admin reward endpoints
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/coinage/economy"
	"github.com/warp/coinage/rewards"
	"github.com/warp/coinage/rules"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DefinitionJSON is the wire representation of a reward definition.
type DefinitionJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	PayoutKind   string          `json:"payout_kind"`
	PayoutValue  string          `json:"payout_value,omitempty"`
	Repeatable   bool            `json:"repeatable,omitempty"`
	Cooldown     string          `json:"cooldown,omitempty"`
	RequiredRole string          `json:"required_role,omitempty"`
	Active       bool            `json:"active"`
	Conditions   []ConditionJSON `json:"conditions,omitempty"`
}

// ConditionJSON is the wire representation of one unlock condition.
type ConditionJSON struct {
	Type        string          `json:"type"`
	Operator    string          `json:"operator"`
	TargetValue decimal.Decimal `json:"target_value"`
	TimeWindow  string          `json:"time_window,omitempty"`
	Counter     string          `json:"counter,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseDefinition converts JSON into a validated rewards.Definition.
func ParseDefinition(data []byte) (rewards.Definition, error) {
	var dj DefinitionJSON
	if err := json.Unmarshal(data, &dj); err != nil {
		return rewards.Definition{}, fmt.Errorf("%w: %v", rules.ErrInvalidConditionConfig, err)
	}
	return FromJSON(dj)
}

// FromJSON converts the decoded wire form into a validated Definition.
func FromJSON(dj DefinitionJSON) (rewards.Definition, error) {
	def := rewards.Definition{
		ID:           rewards.RewardID(dj.ID),
		Name:         dj.Name,
		Description:  dj.Description,
		Repeatable:   dj.Repeatable,
		RequiredRole: dj.RequiredRole,
		Active:       dj.Active,
	}

	def.Payout.Kind = rewards.PayoutKind(dj.PayoutKind)
	switch def.Payout.Kind {
	case rewards.PayoutCurrency:
		coins, err := parseCoins(dj.PayoutValue)
		if err != nil {
			return rewards.Definition{}, err
		}
		def.Payout.Coins = coins
	case rewards.PayoutBenefit:
		def.Payout.Token = dj.PayoutValue
	}

	if dj.Cooldown != "" {
		d, err := time.ParseDuration(dj.Cooldown)
		if err != nil {
			return rewards.Definition{}, fmt.Errorf("%w: bad cooldown %q", rules.ErrInvalidConditionConfig, dj.Cooldown)
		}
		def.Cooldown = d
	}

	for _, cj := range dj.Conditions {
		cond, err := conditionFromJSON(cj)
		if err != nil {
			return rewards.Definition{}, err
		}
		def.Conditions = append(def.Conditions, cond)
	}

	if err := def.Validate(); err != nil {
		return rewards.Definition{}, err
	}
	return def, nil
}

func conditionFromJSON(cj ConditionJSON) (rules.Condition, error) {
	cond := rules.Condition{
		Type:     rules.ConditionType(cj.Type),
		Operator: rules.Operator(cj.Operator),
		Target:   cj.TargetValue,
		Counter:  cj.Counter,
	}
	if cj.TimeWindow != "" {
		w, err := time.ParseDuration(cj.TimeWindow)
		if err != nil {
			return rules.Condition{}, fmt.Errorf("%w: bad time_window %q", rules.ErrInvalidConditionConfig, cj.TimeWindow)
		}
		cond.Window = w
	}
	return cond, cond.Validate()
}

// ParseCoins converts a decimal string into a whole-coin Amount.
func parseCoins(s string) (economy.Amount, error) {
	if s == "" {
		return economy.Amount{}, fmt.Errorf("%w: currency payout requires payout_value", rules.ErrInvalidConditionConfig)
	}
	v, err := decimal.NewFromString(s)
	if err != nil || !v.IsInteger() || !v.IsPositive() {
		return economy.Amount{}, fmt.Errorf("%w: bad coin amount %q", rules.ErrInvalidConditionConfig, s)
	}
	return economy.Amount{Value: v}, nil
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// ToJSON converts a Definition into its wire form.
func ToJSON(def rewards.Definition) DefinitionJSON {
	dj := DefinitionJSON{
		ID:           string(def.ID),
		Name:         def.Name,
		Description:  def.Description,
		PayoutKind:   string(def.Payout.Kind),
		Repeatable:   def.Repeatable,
		RequiredRole: def.RequiredRole,
		Active:       def.Active,
	}
	switch def.Payout.Kind {
	case rewards.PayoutCurrency:
		dj.PayoutValue = def.Payout.Coins.String()
	case rewards.PayoutBenefit:
		dj.PayoutValue = def.Payout.Token
	}
	if def.Cooldown != 0 {
		dj.Cooldown = def.Cooldown.String()
	}
	for _, c := range def.Conditions {
		cj := ConditionJSON{
			Type:        string(c.Type),
			Operator:    string(c.Operator),
			TargetValue: c.Target,
			Counter:     c.Counter,
		}
		if c.Window != 0 {
			cj.TimeWindow = c.Window.String()
		}
		dj.Conditions = append(dj.Conditions, cj)
	}
	return dj
}

// MarshalDefinition renders a Definition as JSON bytes.
func MarshalDefinition(def rewards.Definition) ([]byte, error) {
	return json.Marshal(ToJSON(def))
}
