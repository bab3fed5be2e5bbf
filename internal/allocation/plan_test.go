package allocation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fueldock/fuelcore/internal/lot"
	"github.com/fueldock/fuelcore/internal/tank"
	"github.com/fueldock/fuelcore/pkg/quantity"
)

func testLot(id int64, receivedAt time.Time, liters, kg, density string) lot.Lot {
	return lot.Lot{
		ID:              id,
		TankKind:        tank.KindFixed,
		TankID:          1,
		MRN:             "24DE520000123456",
		RemainingLiters: decimal.RequireFromString(liters),
		RemainingKg:     decimal.RequireFromString(kg),
		Density:         decimal.RequireFromString(density),
		ReceivedAt:      receivedAt,
	}
}

func TestPlanFIFOOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	lots := []lot.Lot{
		testLot(1, base, "125", "100", "0.8"),                     // oldest, 100 kg
		testLot(2, base.Add(24*time.Hour), "62.5", "50", "0.8"),   // 50 kg
		testLot(3, base.Add(48*time.Hour), "250", "200", "0.8"),   // newest, 200 kg
	}

	t.Run("should consume oldest lots first", func(t *testing.T) {
		draws, err := Plan(lots, decimal.NewFromInt(120), quantity.UnitKilograms)
		require.NoError(t, err)
		require.Len(t, draws, 2)

		assert.Equal(t, int64(1), draws[0].Lot.ID)
		assert.True(t, draws[0].FullyConsumed)
		assert.True(t, draws[0].Kg.Equal(decimal.NewFromInt(100)))

		assert.Equal(t, int64(2), draws[1].Lot.ID)
		assert.False(t, draws[1].FullyConsumed)
		assert.True(t, draws[1].Kg.Equal(decimal.NewFromInt(20)), "got %s", draws[1].Kg)
		assert.True(t, draws[1].NewKg.Equal(decimal.NewFromInt(30)), "L2 should keep 30 kg, got %s", draws[1].NewKg)
	})

	t.Run("newest lot stays untouched", func(t *testing.T) {
		draws, err := Plan(lots, decimal.NewFromInt(120), quantity.UnitKilograms)
		require.NoError(t, err)
		for _, d := range draws {
			assert.NotEqual(t, int64(3), d.Lot.ID)
		}
	})
}

func TestPlanConservation(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	lots := []lot.Lot{
		testLot(1, base, "100.123", "80.099", "0.8"),
		testLot(2, base.Add(time.Hour), "200.456", "160.365", "0.8"),
		testLot(3, base.Add(2*time.Hour), "50.789", "40.631", "0.8"),
	}

	requested := decimal.RequireFromString("250.5")
	draws, err := Plan(lots, requested, quantity.UnitLiters)
	require.NoError(t, err)

	total := decimal.Zero
	for _, d := range draws {
		total = total.Add(d.Liters)
	}
	assert.True(t, total.Equal(requested),
		"allocated %s, requested %s: legs must sum exactly", total, requested)
}

func TestPlanInsufficientFuel(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	lots := []lot.Lot{
		testLot(1, base, "100", "80", "0.8"),
		testLot(2, base.Add(time.Hour), "50", "40", "0.8"),
	}

	t.Run("should fail with both sides of the gap", func(t *testing.T) {
		_, err := Plan(lots, decimal.NewFromInt(200), quantity.UnitLiters)
		var insufficient *InsufficientFuelError
		require.True(t, errors.As(err, &insufficient))
		assert.True(t, insufficient.Requested.Equal(decimal.NewFromInt(200)))
		assert.True(t, insufficient.Available.Equal(decimal.NewFromInt(150)), "got %s", insufficient.Available)
	})

	t.Run("should fail on an empty ledger", func(t *testing.T) {
		_, err := Plan(nil, decimal.NewFromInt(1), quantity.UnitLiters)
		var insufficient *InsufficientFuelError
		require.True(t, errors.As(err, &insufficient))
		assert.True(t, insufficient.Available.IsZero())
	})
}

func TestPlanTieBreak(t *testing.T) {
	// Same intake timestamp: the id decides, so replays are deterministic.
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	lots := []lot.Lot{
		testLot(7, at, "100", "80", "0.8"),
		testLot(9, at, "100", "80", "0.8"),
	}

	draws, err := Plan(lots, decimal.NewFromInt(100), quantity.UnitLiters)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, int64(7), draws[0].Lot.ID)
}

func TestPlanPartialDerivesOtherDimension(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	lots := []lot.Lot{testLot(1, base, "1000", "803", "0.803")}

	t.Run("liters basis derives kg at intake density", func(t *testing.T) {
		draws, err := Plan(lots, decimal.NewFromInt(500), quantity.UnitLiters)
		require.NoError(t, err)
		require.Len(t, draws, 1)
		assert.True(t, draws[0].Kg.Equal(decimal.RequireFromString("401.5")), "got %s", draws[0].Kg)
	})

	t.Run("kg basis derives liters at intake density", func(t *testing.T) {
		draws, err := Plan(lots, decimal.RequireFromString("401.5"), quantity.UnitKilograms)
		require.NoError(t, err)
		require.Len(t, draws, 1)
		assert.True(t, draws[0].Liters.Equal(decimal.NewFromInt(500)), "got %s", draws[0].Liters)
	})
}

func TestPlanFullConsumptionAbsorbsResidue(t *testing.T) {
	// A lot whose dimensions drifted slightly apart through earlier
	// rounding: taking all of it zeroes both sides.
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	l := testLot(1, base, "100.001", "80", "0.8")

	draws, err := Plan([]lot.Lot{l}, decimal.NewFromInt(80), quantity.UnitKilograms)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.True(t, draws[0].FullyConsumed)
	assert.True(t, draws[0].NewLiters.IsZero())
	assert.True(t, draws[0].NewKg.IsZero())
	assert.True(t, draws[0].Liters.Equal(decimal.RequireFromString("100.001")))
}

func TestPlanEmptiedLitersZeroesNegligibleKg(t *testing.T) {
	// A kg-basis partial draw whose derived liters drain the volume side
	// exactly: the sub-epsilon kg residue must not survive as a
	// stranded-mass row with no volume.
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	l := lot.Lot{
		ID:              1,
		TankKind:        tank.KindMobile,
		TankID:          4,
		MRN:             "24DE520000654321",
		RemainingLiters: decimal.NewFromInt(100),
		RemainingKg:     decimal.RequireFromString("80.0000005"),
		Density:         decimal.RequireFromString("0.8"),
		ReceivedAt:      base,
	}

	draws, err := Plan([]lot.Lot{l}, decimal.NewFromInt(80), quantity.UnitKilograms)
	require.NoError(t, err)
	require.Len(t, draws, 1)

	assert.True(t, draws[0].FullyConsumed)
	assert.True(t, draws[0].NewLiters.IsZero())
	assert.True(t, draws[0].NewKg.IsZero(), "epsilon kg residue should be folded, got %s", draws[0].NewKg)
	assert.True(t, draws[0].Kg.Equal(decimal.RequireFromString("80.0000005")),
		"the fold charges the full residue to the draw, got %s", draws[0].Kg)
}

func TestPlanRejectsNonPositiveRequests(t *testing.T) {
	_, err := Plan(nil, decimal.Zero, quantity.UnitLiters)
	assert.Error(t, err)
	_, err = Plan(nil, decimal.NewFromInt(-5), quantity.UnitLiters)
	assert.Error(t, err)
}

func TestPlanSkipsLotsEmptyInRequestedUnit(t *testing.T) {
	// A zero-liter lot cannot serve a liters request even if it still
	// carries mass; the next lot covers it.
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	empty := testLot(1, base, "0", "5", "0.8")
	full := testLot(2, base.Add(time.Hour), "100", "80", "0.8")

	draws, err := Plan([]lot.Lot{empty, full}, decimal.NewFromInt(50), quantity.UnitLiters)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, int64(2), draws[0].Lot.ID)
}
