package plan

// Config maps billing-provider price identifiers to plan tiers.
// Price IDs are provider-assigned and environment-specific.
type Config struct {
	BasicPriceID   string `env:"STRIPE_PRICE_BASIC,required"`
	PremiumPriceID string `env:"STRIPE_PRICE_PREMIUM,required"`
}

// Catalog is the static mapping between provider price IDs and plan tiers.
// Plan tiers are never set directly by user action; they are always derived
// from the price ID on the provider's subscription.
type Catalog struct {
	byPrice map[string]Tier
	byTier  map[Tier]string
}

// NewCatalog builds a catalog from the configured price IDs.
func NewCatalog(cfg Config) (*Catalog, error) {
	if cfg.BasicPriceID == "" || cfg.PremiumPriceID == "" {
		return nil, ErrIncompleteCatalog
	}
	if cfg.BasicPriceID == cfg.PremiumPriceID {
		return nil, ErrDuplicatePriceID
	}
	return &Catalog{
		byPrice: map[string]Tier{
			cfg.BasicPriceID:   TierBasic,
			cfg.PremiumPriceID: TierPremium,
		},
		byTier: map[Tier]string{
			TierBasic:   cfg.BasicPriceID,
			TierPremium: cfg.PremiumPriceID,
		},
	}, nil
}

// TierForPrice resolves a provider price ID to a plan tier.
// Unknown price IDs map to free with ok=false so reconciliation
// degrades toward reduced access instead of failing.
func (c *Catalog) TierForPrice(priceID string) (Tier, bool) {
	tier, ok := c.byPrice[priceID]
	if !ok {
		return TierFree, false
	}
	return tier, true
}

// PriceForTier returns the provider price ID selling the given tier.
// Free has no price.
func (c *Catalog) PriceForTier(tier Tier) (string, bool) {
	priceID, ok := c.byTier[tier]
	return priceID, ok
}

// KnownPrice reports whether the price ID sells one of the catalog tiers.
func (c *Catalog) KnownPrice(priceID string) bool {
	_, ok := c.byPrice[priceID]
	return ok
}
