/*
seed.go - Example reward definitions

PURPOSE:
  Optional starter catalog for fresh deployments, so the economy does
  something out of the box: a repeatable daily bonus and a pair of
  streak milestones. Existing definitions are never overwritten, so
  admins can edit or deactivate the examples freely.
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/coinage/economy"
	"github.com/warp/coinage/rules"
)

// ExampleDefinitions returns the starter catalog. The daily bonus has no
// conditions: any activity pays it out, at most once per cooldown.
func ExampleDefinitions() []Definition {
	return []Definition{
		{
			ID:          "daily-bonus",
			Name:        "Daily Bonus",
			Description: "A little something for showing up today",
			Payout:      Payout{Kind: PayoutCurrency, Coins: economy.Coins(2)},
			Repeatable:  true,
			Cooldown:    24 * time.Hour,
			Active:      true,
		},
		{
			ID:          "week-streak",
			Name:        "One Week Streak",
			Description: "Active seven days in a row",
			Payout:      Payout{Kind: PayoutCurrency, Coins: economy.Coins(50)},
			Active:      true,
			Conditions: []rules.Condition{
				{Type: rules.CondStreakLength, Operator: rules.OpGreaterOrEqual, Target: decimal.NewFromInt(7)},
			},
		},
		{
			ID:          "month-streak",
			Name:        "One Month Streak",
			Description: "Active thirty days in a row",
			Payout:      Payout{Kind: PayoutBadge},
			Active:      true,
			Conditions: []rules.Condition{
				{Type: rules.CondStreakLength, Operator: rules.OpGreaterOrEqual, Target: decimal.NewFromInt(30)},
			},
		},
	}
}

// SeedExamples creates any example definition that does not exist yet.
func SeedExamples(ctx context.Context, catalog *Catalog) error {
	for _, def := range ExampleDefinitions() {
		_, err := catalog.Get(ctx, def.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRewardNotFound) {
			return fmt.Errorf("seed %s: %w", def.ID, err)
		}
		if _, err := catalog.Create(ctx, def); err != nil {
			return fmt.Errorf("seed %s: %w", def.ID, err)
		}
	}
	return nil
}
