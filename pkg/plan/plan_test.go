package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/plan"
)

func TestTier_Meets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tier     plan.Tier
		required plan.Tier
		want     bool
	}{
		{"premium meets premium", plan.TierPremium, plan.TierPremium, true},
		{"premium meets basic", plan.TierPremium, plan.TierBasic, true},
		{"premium meets free", plan.TierPremium, plan.TierFree, true},
		{"basic meets basic", plan.TierBasic, plan.TierBasic, true},
		{"basic does not meet premium", plan.TierBasic, plan.TierPremium, false},
		{"free does not meet basic", plan.TierFree, plan.TierBasic, false},
		{"unknown tier meets nothing", plan.Tier("enterprise"), plan.TierFree, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tier.Meets(tt.required))
		})
	}
}

func TestParseTier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, plan.TierPremium, plan.ParseTier("premium"))
	assert.Equal(t, plan.TierBasic, plan.ParseTier("basic"))
	assert.Equal(t, plan.TierFree, plan.ParseTier("free"))
	assert.Equal(t, plan.TierFree, plan.ParseTier(""))
	assert.Equal(t, plan.TierFree, plan.ParseTier("garbage"))
}

func TestTier_Paid(t *testing.T) {
	t.Parallel()

	assert.False(t, plan.TierFree.Paid())
	assert.True(t, plan.TierBasic.Paid())
	assert.True(t, plan.TierPremium.Paid())
}

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	t.Run("valid config", func(t *testing.T) {
		c, err := plan.NewCatalog(plan.Config{
			BasicPriceID:   "price_basic_123",
			PremiumPriceID: "price_premium_456",
		})
		require.NoError(t, err)

		tier, ok := c.TierForPrice("price_basic_123")
		assert.True(t, ok)
		assert.Equal(t, plan.TierBasic, tier)

		tier, ok = c.TierForPrice("price_premium_456")
		assert.True(t, ok)
		assert.Equal(t, plan.TierPremium, tier)
	})

	t.Run("missing price ID", func(t *testing.T) {
		_, err := plan.NewCatalog(plan.Config{BasicPriceID: "price_basic_123"})
		require.ErrorIs(t, err, plan.ErrIncompleteCatalog)
	})

	t.Run("duplicate price ID", func(t *testing.T) {
		_, err := plan.NewCatalog(plan.Config{
			BasicPriceID:   "price_same",
			PremiumPriceID: "price_same",
		})
		require.ErrorIs(t, err, plan.ErrDuplicatePriceID)
	})
}

func TestCatalog_TierForPrice_Unknown(t *testing.T) {
	t.Parallel()

	c, err := plan.NewCatalog(plan.Config{
		BasicPriceID:   "price_basic",
		PremiumPriceID: "price_premium",
	})
	require.NoError(t, err)

	// Unknown prices degrade to free, never to unintended access.
	tier, ok := c.TierForPrice("price_retired_plan")
	assert.False(t, ok)
	assert.Equal(t, plan.TierFree, tier)

	assert.False(t, c.KnownPrice("price_retired_plan"))
	assert.True(t, c.KnownPrice("price_basic"))
}

func TestCatalog_PriceForTier(t *testing.T) {
	t.Parallel()

	c, err := plan.NewCatalog(plan.Config{
		BasicPriceID:   "price_basic",
		PremiumPriceID: "price_premium",
	})
	require.NoError(t, err)

	priceID, ok := c.PriceForTier(plan.TierPremium)
	assert.True(t, ok)
	assert.Equal(t, "price_premium", priceID)

	_, ok = c.PriceForTier(plan.TierFree)
	assert.False(t, ok)
}
