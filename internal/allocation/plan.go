package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fueldock/fuelcore/internal/lot"
	"github.com/fueldock/fuelcore/pkg/quantity"
)

// Draw is one planned consumption against a single lot.
type Draw struct {
	Lot           lot.Lot
	Liters        decimal.Decimal // taken, positive
	Kg            decimal.Decimal // taken, positive
	NewLiters     decimal.Decimal // lot remaining after the draw
	NewKg         decimal.Decimal
	FullyConsumed bool
}

// InsufficientFuelError reports that the lot ledger cannot cover the
// requested amount. It carries both sides because the gap is a signal: the
// tank's authoritative quantity has likely drifted ahead of its lots and a
// reconciliation is overdue.
type InsufficientFuelError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
	Unit      quantity.Unit
}

func (e *InsufficientFuelError) Error() string {
	return fmt.Sprintf("insufficient fuel in lot ledger: requested %s %s, available %s %s",
		e.Requested, e.Unit, e.Available, e.Unit)
}

// Plan walks the given lots in order and decides how much to take from
// each. Pure and deterministic: callers pass lots already FIFO-ordered
// (intake timestamp, then id) and the same input always yields the same
// draws. No lot state is mutated here.
func Plan(lots []lot.Lot, requested decimal.Decimal, unit quantity.Unit) ([]Draw, error) {
	if !requested.IsPositive() {
		return nil, fmt.Errorf("requested amount must be positive, got %s", requested)
	}

	remaining := requested
	available := decimal.Zero
	var draws []Draw

	for i := range lots {
		l := lots[i]

		lotAvail := l.RemainingKg
		if unit == quantity.UnitLiters {
			lotAvail = l.RemainingLiters
		}
		available = available.Add(lotAvail)

		if !remaining.IsPositive() || !lotAvail.IsPositive() {
			continue
		}

		take := quantity.Min(remaining, lotAvail)
		draw := Draw{Lot: l}

		if take.Equal(lotAvail) {
			// Full consumption: both dimensions go to zero. Folding the
			// whole remaining pair into the draw also absorbs any rounding
			// residue the other dimension still carried.
			draw.Liters = l.RemainingLiters
			draw.Kg = l.RemainingKg
			draw.NewLiters = decimal.Zero
			draw.NewKg = decimal.Zero
			draw.FullyConsumed = true
		} else {
			// Partial consumption: same row, smaller balance. The
			// non-requested dimension is derived at the lot's intake
			// density and clamped so rounding can never overdraw.
			if unit == quantity.UnitLiters {
				draw.Liters = take
				draw.Kg = quantity.Min(quantity.MassOf(take, l.Density), l.RemainingKg)
			} else {
				draw.Kg = take
				liters, err := quantity.VolumeOf(take, l.Density)
				if err != nil {
					return nil, fmt.Errorf("lot %d has zero density: %w", l.ID, err)
				}
				draw.Liters = quantity.Min(liters, l.RemainingLiters)
			}
			draw.NewLiters = l.RemainingLiters.Sub(draw.Liters)
			draw.NewKg = l.RemainingKg.Sub(draw.Kg)

			// A partial draw that empties the liters side zeroes negligible
			// kg residue too, so rounding never strands mass in a lot with
			// no volume.
			if draw.NewLiters.IsZero() && quantity.IsNegligible(draw.NewKg) {
				draw.Kg = l.RemainingKg
				draw.NewKg = decimal.Zero
				draw.FullyConsumed = true
			}
		}

		draws = append(draws, draw)
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return nil, &InsufficientFuelError{
			Requested: requested,
			Available: available,
			Unit:      unit,
		}
	}

	return draws, nil
}

// Totals sums the liters and kg across draws.
func Totals(draws []Draw) (liters, kg decimal.Decimal) {
	for i := range draws {
		liters = liters.Add(draws[i].Liters)
		kg = kg.Add(draws[i].Kg)
	}
	return liters, kg
}
