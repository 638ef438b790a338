package factory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coinage/factory"
	"github.com/warp/coinage/rewards"
	"github.com/warp/coinage/rules"
)

// =============================================================================
// PARSING
// =============================================================================

func TestParseDefinition_FullSchema(t *testing.T) {
	// GIVEN: A complete JSON definition with a windowed condition
	// WHEN: Parsing
	// THEN: Every field lands on the Definition

	data := []byte(`{
		"id": "hot-streak",
		"name": "Hot Streak",
		"description": "Five reactions in a day",
		"payout_kind": "currency",
		"payout_value": "15",
		"repeatable": true,
		"cooldown": "24h",
		"required_role": "member",
		"active": true,
		"conditions": [
			{"type": "reaction-count", "operator": ">=", "target_value": 5, "time_window": "24h"}
		]
	}`)

	def, err := factory.ParseDefinition(data)
	require.NoError(t, err)

	assert.Equal(t, rewards.RewardID("hot-streak"), def.ID)
	assert.Equal(t, "Hot Streak", def.Name)
	assert.Equal(t, rewards.PayoutCurrency, def.Payout.Kind)
	assert.Equal(t, "15", def.Payout.Coins.String())
	assert.True(t, def.Repeatable)
	assert.Equal(t, 24*time.Hour, def.Cooldown)
	assert.Equal(t, "member", def.RequiredRole)
	require.Len(t, def.Conditions, 1)
	assert.Equal(t, rules.CondReactionCount, def.Conditions[0].Type)
	assert.Equal(t, 24*time.Hour, def.Conditions[0].Window)
}

func TestParseDefinition_BenefitToken(t *testing.T) {
	data := []byte(`{
		"id": "free-month",
		"name": "Free Month",
		"payout_kind": "benefit-token",
		"payout_value": "promo-free-month",
		"active": true
	}`)

	def, err := factory.ParseDefinition(data)
	require.NoError(t, err)
	assert.Equal(t, rewards.PayoutBenefit, def.Payout.Kind)
	assert.Equal(t, "promo-free-month", def.Payout.Token)
	assert.Empty(t, def.Conditions)
}

func TestParseDefinition_RejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"unknown payout":    `{"id": "x", "name": "X", "payout_kind": "gold-bars", "active": true}`,
		"currency no value": `{"id": "x", "name": "X", "payout_kind": "currency", "active": true}`,
		"fractional coins":  `{"id": "x", "name": "X", "payout_kind": "currency", "payout_value": "2.5", "active": true}`,
		"negative coins":    `{"id": "x", "name": "X", "payout_kind": "currency", "payout_value": "-3", "active": true}`,
		"bad cooldown":      `{"id": "x", "name": "X", "payout_kind": "badge", "cooldown": "soon", "active": true}`,
		"bad time window":   `{"id": "x", "name": "X", "payout_kind": "badge", "active": true, "conditions": [{"type": "reaction-count", "operator": ">=", "target_value": 5, "time_window": "daily"}]}`,
		"unknown condition": `{"id": "x", "name": "X", "payout_kind": "badge", "active": true, "conditions": [{"type": "coolness", "operator": ">=", "target_value": 5}]}`,
		"unknown operator":  `{"id": "x", "name": "X", "payout_kind": "badge", "active": true, "conditions": [{"type": "streak-length", "operator": "!=", "target_value": 5}]}`,
		"missing name":      `{"id": "x", "payout_kind": "badge", "active": true}`,
	}

	for name, data := range cases {
		_, err := factory.ParseDefinition([]byte(data))
		assert.ErrorIs(t, err, rules.ErrInvalidConditionConfig, name)
	}
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestToJSON_RoundTrip(t *testing.T) {
	// A parsed definition serialized and re-parsed is the same definition.
	data := []byte(`{
		"id": "devoted",
		"name": "Devoted",
		"payout_kind": "currency",
		"payout_value": "50",
		"active": true,
		"conditions": [
			{"type": "custom-counter", "operator": "=", "target_value": 3, "counter": "boosts"}
		]
	}`)

	def, err := factory.ParseDefinition(data)
	require.NoError(t, err)

	out, err := factory.MarshalDefinition(def)
	require.NoError(t, err)

	again, err := factory.ParseDefinition(out)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}
