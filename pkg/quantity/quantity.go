// Package quantity holds the shared fuel arithmetic: unit parsing,
// mass/volume conversion at a lot's intake density, weighted density, and
// the conservation epsilon. Everything is fixed-precision decimal; floats
// never touch ledger quantities.
package quantity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Unit is the dimension a caller states an amount in.
type Unit string

const (
	UnitLiters    Unit = "liters"
	UnitKilograms Unit = "kg"
)

// ParseUnit resolves a request's unit field. Empty defaults to liters,
// the dimension fuel is metered in.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case "":
		return UnitLiters, nil
	case UnitLiters, UnitKilograms:
		return Unit(s), nil
	default:
		return "", fmt.Errorf("unknown unit %q", s)
	}
}

// Places is the ledger precision in decimal places. Matches the
// NUMERIC(20,3) quantity columns.
const Places int32 = 3

// Epsilon bounds the rounding residue tolerated when a lot is drained:
// anything at or below it is folded into the closing movement rather than
// left stranded on the row.
var Epsilon = decimal.New(1, -6)

// ParseAmount parses a strictly positive decimal quantity.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("amount must be positive, got %s", d)
	}
	return d, nil
}

// ParseDensity parses a density in kg/L. Anything outside (0, 2) is a
// data-entry error, not a fuel.
func ParseDensity(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid density %q: %w", s, err)
	}
	if !d.IsPositive() || d.GreaterThanOrEqual(decimal.NewFromInt(2)) {
		return decimal.Decimal{}, fmt.Errorf("density must be in (0, 2) kg/L, got %s", d)
	}
	return d, nil
}

// MassOf converts a volume to mass at the given density, rounded to ledger
// precision.
func MassOf(liters, density decimal.Decimal) decimal.Decimal {
	return liters.Mul(density).Round(Places)
}

// VolumeOf converts a mass to volume at the given density, rounded to
// ledger precision.
func VolumeOf(kg, density decimal.Decimal) (decimal.Decimal, error) {
	if density.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("cannot convert %s kg with zero density", kg)
	}
	return kg.Div(density).Round(Places), nil
}

// WeightedDensity is Σkg / Σliters over a set of lots. A tank with no
// volume reports the fallback so downstream conversion never divides by
// zero.
func WeightedDensity(totalKg, totalLiters, fallback decimal.Decimal) decimal.Decimal {
	if totalLiters.IsZero() {
		return fallback
	}
	return totalKg.Div(totalLiters).Round(6)
}

// IsNegligible reports whether d is within the conservation epsilon of
// zero.
func IsNegligible(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
