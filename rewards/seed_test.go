package rewards_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coinage/rewards"
)

func TestSeedExamples_CreatesOnceAndPreservesEdits(t *testing.T) {
	// GIVEN: An empty catalog
	// WHEN: Seeding, editing one definition, then seeding again
	// THEN: The examples exist and the edit survives the re-seed

	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, rewards.SeedExamples(ctx, f.catalog))

	defs, err := f.catalog.List(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(rewards.ExampleDefinitions()))

	_, err = f.catalog.SetActive(ctx, "daily-bonus", false)
	require.NoError(t, err)

	require.NoError(t, rewards.SeedExamples(ctx, f.catalog))

	def, err := f.catalog.Get(ctx, "daily-bonus")
	require.NoError(t, err)
	assert.False(t, def.Active, "re-seeding must not overwrite existing definitions")
}
