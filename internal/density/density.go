// Package density holds the pure fuel-density math: weighted averages
// over a tank's active lots and the variation analysis applied when an
// operational density measured at dispense time disagrees with the lot
// ledger.
package density

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fueldock/fuelcore/pkg/quantity"
)

// Fallback is the density assumed when a tank has no active lots. It is
// exercised only on that empty path; every real conversion uses the
// per-lot intake density.
var Fallback = decimal.RequireFromString("0.8")

// Info describes a tank's lot-derived density state.
type Info struct {
	Density     decimal.Decimal `json:"density"`
	TotalKg     decimal.Decimal `json:"total_kg"`
	TotalLiters decimal.Decimal `json:"total_liters"`
	LotCount    int             `json:"lot_count"`
}

// InfoFromTotals computes the quantity-weighted average density over a
// tank's active lots, Σkg / Σliters.
func InfoFromTotals(totalKg, totalLiters decimal.Decimal, lotCount int) Info {
	return Info{
		Density:     quantity.WeightedDensity(totalKg, totalLiters, Fallback),
		TotalKg:     totalKg,
		TotalLiters: totalLiters,
		LotCount:    lotCount,
	}
}

// Action is the tier a density discrepancy falls into.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionWarn   Action = "WARN"
	ActionAdjust Action = "ADJUST"
)

// Tier thresholds in percent of the weighted density.
var (
	AcceptThreshold = decimal.RequireFromString("1.0")
	WarnThreshold   = decimal.RequireFromString("3.0")
)

// Variation is the result of comparing an operational density against the
// lot-weighted one for a given mass.
type Variation struct {
	WeightedDensity    decimal.Decimal `json:"weighted_density"`
	OperationalDensity decimal.Decimal `json:"operational_density"`
	Variation          decimal.Decimal `json:"variation"`
	VariationPercent   decimal.Decimal `json:"variation_percent"`
	VolumeImpactLiters decimal.Decimal `json:"volume_impact_liters"`
	Action             Action          `json:"action"`
}

// Analyze classifies the discrepancy between the weighted and operational
// densities. ACCEPT proceeds silently, WARN proceeds but surfaces the
// expected liter error, ADJUST requires an explicit quantity correction
// before the operation may continue. Pure; never touches the lot store.
func Analyze(weighted, operational, quantityKg decimal.Decimal) (Variation, error) {
	if !weighted.IsPositive() {
		return Variation{}, fmt.Errorf("weighted density must be positive, got %s", weighted)
	}
	if !operational.IsPositive() {
		return Variation{}, fmt.Errorf("operational density must be positive, got %s", operational)
	}
	if quantityKg.IsNegative() {
		return Variation{}, fmt.Errorf("quantity must not be negative, got %s", quantityKg)
	}

	variation := operational.Sub(weighted).Abs()
	percent := variation.Div(weighted).Mul(decimal.NewFromInt(100)).Round(4)

	// Expected liter delta this density change produces for the mass.
	volumeImpact := quantityKg.Div(operational).Sub(quantityKg.Div(weighted)).Abs().Round(quantity.Places)

	action := ActionAdjust
	switch {
	case percent.LessThan(AcceptThreshold):
		action = ActionAccept
	case percent.LessThanOrEqual(WarnThreshold):
		action = ActionWarn
	}

	return Variation{
		WeightedDensity:    weighted,
		OperationalDensity: operational,
		Variation:          variation,
		VariationPercent:   percent,
		VolumeImpactLiters: volumeImpact,
		Action:             action,
	}, nil
}
