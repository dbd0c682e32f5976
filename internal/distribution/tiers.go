package distribution

import "strings"

// Tier is a ranked creator subscription level.
type Tier string

const (
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
	TierElite    Tier = "elite"
	TierRoyalty  Tier = "royalty"
)

// tierRanks is a total order: a higher rank always reaches every platform a
// lower rank can.
var tierRanks = map[Tier]int{
	TierSilver:   0,
	TierGold:     1,
	TierPlatinum: 2,
	TierDiamond:  3,
	TierElite:    4,
	TierRoyalty:  5,
}

// tierMaxPlatforms caps how many destinations one distribution may fan out
// to. Zero means unlimited.
var tierMaxPlatforms = map[Tier]int{
	TierSilver:   1,
	TierGold:     3,
	TierPlatinum: 5,
	TierDiamond:  8,
	TierElite:    12,
	TierRoyalty:  0,
}

// ParseTier resolves a tier by name.
func ParseTier(value string) (Tier, bool) {
	tier := Tier(strings.ToLower(strings.TrimSpace(value)))
	_, ok := tierRanks[tier]
	return tier, ok
}

// Rank returns the tier's position in the total order.
func (t Tier) Rank() int {
	return tierRanks[t]
}

// MaxPlatforms returns the fan-out cap for the tier; zero means unlimited.
func (t Tier) MaxPlatforms() int {
	return tierMaxPlatforms[t]
}

// AtLeast reports whether the tier ranks at or above another tier.
func (t Tier) AtLeast(other Tier) bool {
	return tierRanks[t] >= tierRanks[other]
}

// AllTiers returns the tiers in ascending rank order.
func AllTiers() []Tier {
	return []Tier{TierSilver, TierGold, TierPlatinum, TierDiamond, TierElite, TierRoyalty}
}
