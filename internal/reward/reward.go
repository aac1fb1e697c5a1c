// Package reward converts decided contribution quality into token amounts.
// Every function here is pure: identical inputs always produce identical
// outputs, so reward decisions can be audited and replayed.
package reward

import (
	"math"

	"meritflow/internal/domain"
)

const (
	defaultBase = 10.0

	maxReputationBonus = 1.0
	countBonusCap      = 0.3
	reputationCap      = 0.3
	qualityBonusWeight = 0.4
)

var defaultComplexityWeights = map[string]float64{
	domain.TypeCode:     1.5,
	domain.TypeDataset:  1.3,
	domain.TypeDocument: 1.0,
	domain.TypeOther:    1.0,
}

// Calculator computes rewards with a configurable base and per-type weights.
// The zero value uses the default tariff.
type Calculator struct {
	Base              float64
	ComplexityWeights map[string]float64
}

func (c Calculator) base() float64 {
	if c.Base > 0 {
		return c.Base
	}
	return defaultBase
}

func (c Calculator) weight(contributionType string) float64 {
	weights := c.ComplexityWeights
	if len(weights) == 0 {
		weights = defaultComplexityWeights
	}
	if w, ok := weights[contributionType]; ok {
		return w
	}
	return 1.0
}

// Amount computes the token reward for a decided contribution.
//
// An out-of-range quality score yields 0.0 rather than an error: this path
// is billing-adjacent and must never throw. The caller validates quality on
// write; here the safe default wins.
func (c Calculator) Amount(qualityScore float64, contributionType string, reputationBonus float64) float64 {
	if qualityScore < 0 || qualityScore > 100 {
		return 0.0
	}

	// 0-100 quality maps onto a 0.5-2.0 multiplier.
	qualityMultiplier := 0.5 + (qualityScore/100)*1.5

	amount := c.base() * qualityMultiplier * c.weight(contributionType)

	if reputationBonus > 0 {
		amount *= 1 + math.Min(reputationBonus, maxReputationBonus)
	}

	return round2(amount)
}

// ReputationBonus derives the bonus multiplier in [0,1] from a contributor's
// history: contribution volume caps at 0.3, average quality contributes up
// to 0.4, and the raw reputation score caps at 0.3.
func ReputationBonus(totalContributions int, averageQuality, reputationScore float64) float64 {
	countBonus := math.Min(float64(totalContributions)/100, countBonusCap)
	qualityBonus := (averageQuality / 100) * qualityBonusWeight
	repBonus := math.Min(reputationScore/10, reputationCap)

	return math.Min(countBonus+qualityBonus+repBonus, maxReputationBonus)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
