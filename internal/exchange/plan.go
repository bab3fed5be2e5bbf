package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fueldock/fuelcore/internal/lot"
	"github.com/fueldock/fuelcore/internal/tank"
	"github.com/fueldock/fuelcore/pkg/quantity"
)

// Movement is the computed outcome of an exchange before any row is
// written: how much volume leaves the source, what density prices it, and
// the mass the donor absorbs.
type Movement struct {
	Density         decimal.Decimal
	KgAbsorbed      decimal.Decimal
	SourceNewLiters decimal.Decimal
	DonorNewLiters  decimal.Decimal
	DonorNewKg      decimal.Decimal
	SourceDrained   bool
}

// Plan validates an exchange and computes its quantity movements. donor is
// nil when no active fixed-tank lot exists anywhere; source checks run
// first so a bad request never reports a donor problem. Pure and
// deterministic; no lot state is mutated here.
func Plan(src *lot.Lot, source tank.Ref, sourceMRN string, donor *lot.Lot, excessLiters decimal.Decimal, densityOverride *decimal.Decimal) (Movement, error) {
	if !excessLiters.IsPositive() {
		return Movement{}, fmt.Errorf("excess liters must be positive, got %s", excessLiters)
	}
	if src.TankKind != source.Kind || src.TankID != source.ID ||
		(sourceMRN != "" && src.MRN != sourceMRN) {
		return Movement{}, fmt.Errorf("%w: lot %d", ErrLotMismatch, src.ID)
	}
	if src.Active() {
		return Movement{}, fmt.Errorf("%w: lot %d has %s kg", ErrSourceNotExcess, src.ID, src.RemainingKg)
	}
	if src.RemainingLiters.LessThan(excessLiters) {
		return Movement{}, fmt.Errorf("%w: have %s L, need %s L",
			ErrInsufficientExcess, src.RemainingLiters, excessLiters)
	}
	if donor == nil {
		return Movement{}, ErrNoEligibleDonor
	}

	density := donor.Density
	if densityOverride != nil {
		density = *densityOverride
	}
	kgAbsorbed := quantity.MassOf(excessLiters, density)

	return Movement{
		Density:         density,
		KgAbsorbed:      kgAbsorbed,
		SourceNewLiters: src.RemainingLiters.Sub(excessLiters),
		DonorNewLiters:  donor.RemainingLiters.Add(excessLiters),
		DonorNewKg:      donor.RemainingKg.Add(kgAbsorbed),
		SourceDrained:   src.RemainingLiters.Equal(excessLiters),
	}, nil
}
