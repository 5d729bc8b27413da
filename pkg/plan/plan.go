package plan

// Tier represents an ordered subscription plan tier.
// Higher tiers include everything the lower tiers grant.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// tierRanks orders tiers by entitlement level. Unknown tiers rank below free
// so a corrupted value can never satisfy an "at least" check.
var tierRanks = map[Tier]int{
	TierFree:    0,
	TierBasic:   1,
	TierPremium: 2,
}

// Rank returns the tier's position in the entitlement order.
// Unknown tiers return -1.
func (t Tier) Rank() int {
	rank, ok := tierRanks[t]
	if !ok {
		return -1
	}
	return rank
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// Paid reports whether the tier requires a billing subscription.
func (t Tier) Paid() bool {
	return t == TierBasic || t == TierPremium
}

// Meets reports whether t grants at least the required tier.
func (t Tier) Meets(required Tier) bool {
	return t.Rank() >= required.Rank() && t.Rank() >= 0
}

// ParseTier normalizes a stored tier value, defaulting anything
// unrecognized to free so access decisions fail toward reduced access.
func ParseTier(s string) Tier {
	t := Tier(s)
	if !t.Valid() {
		return TierFree
	}
	return t
}
