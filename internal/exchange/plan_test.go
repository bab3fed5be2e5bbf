package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fueldock/fuelcore/internal/lot"
	"github.com/fueldock/fuelcore/internal/tank"
)

func excessLot() *lot.Lot {
	return &lot.Lot{
		ID:              11,
		TankKind:        tank.KindMobile,
		TankID:          4,
		MRN:             "24DE520000123456",
		RemainingLiters: decimal.NewFromInt(500),
		RemainingKg:     decimal.Zero,
		Density:         decimal.RequireFromString("0.8"),
		ReceivedAt:      time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC),
	}
}

func donorLot() *lot.Lot {
	return &lot.Lot{
		ID:              3,
		TankKind:        tank.KindFixed,
		TankID:          1,
		MRN:             "24DE520000000042",
		RemainingLiters: decimal.NewFromInt(1000),
		RemainingKg:     decimal.NewFromInt(803),
		Density:         decimal.RequireFromString("0.803"),
		ReceivedAt:      time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC),
	}
}

func sourceRef() tank.Ref {
	return tank.Ref{Kind: tank.KindMobile, ID: 4}
}

func TestPlanConservesMass(t *testing.T) {
	src := excessLot()
	donor := donorLot()

	mv, err := Plan(src, sourceRef(), src.MRN, donor, decimal.NewFromInt(500), nil)
	require.NoError(t, err)

	t.Run("donor density prices the moved volume", func(t *testing.T) {
		assert.True(t, mv.Density.Equal(decimal.RequireFromString("0.803")))
		assert.True(t, mv.KgAbsorbed.Equal(decimal.RequireFromString("401.5")), "got %s", mv.KgAbsorbed)
	})

	t.Run("source is drained to zero liters", func(t *testing.T) {
		assert.True(t, mv.SourceNewLiters.IsZero(), "got %s", mv.SourceNewLiters)
		assert.True(t, mv.SourceDrained)
	})

	t.Run("donor gains exactly what the source lost", func(t *testing.T) {
		assert.True(t, mv.DonorNewLiters.Equal(decimal.NewFromInt(1500)), "got %s", mv.DonorNewLiters)
		assert.True(t, mv.DonorNewKg.Sub(donor.RemainingKg).Equal(mv.KgAbsorbed),
			"donor kg delta %s must equal kg absorbed %s", mv.DonorNewKg.Sub(donor.RemainingKg), mv.KgAbsorbed)
	})
}

func TestPlanPartialExcess(t *testing.T) {
	mv, err := Plan(excessLot(), sourceRef(), "", donorLot(), decimal.NewFromInt(200), nil)
	require.NoError(t, err)

	assert.True(t, mv.SourceNewLiters.Equal(decimal.NewFromInt(300)), "got %s", mv.SourceNewLiters)
	assert.False(t, mv.SourceDrained)
	assert.True(t, mv.KgAbsorbed.Equal(decimal.RequireFromString("160.6")), "got %s", mv.KgAbsorbed)
}

func TestPlanDensityOverride(t *testing.T) {
	override := decimal.RequireFromString("0.810")
	donor := donorLot()

	mv, err := Plan(excessLot(), sourceRef(), "", donor, decimal.NewFromInt(500), &override)
	require.NoError(t, err)

	assert.True(t, mv.Density.Equal(override))
	assert.True(t, mv.KgAbsorbed.Equal(decimal.NewFromInt(405)), "got %s", mv.KgAbsorbed)
	// The override prices this movement only; the donor keeps its intake
	// density.
	assert.True(t, donor.Density.Equal(decimal.RequireFromString("0.803")))
}

func TestPlanErrors(t *testing.T) {
	t.Run("lot in a different tank", func(t *testing.T) {
		_, err := Plan(excessLot(), tank.Ref{Kind: tank.KindMobile, ID: 9}, "", donorLot(),
			decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrLotMismatch)
	})

	t.Run("wrong MRN", func(t *testing.T) {
		_, err := Plan(excessLot(), sourceRef(), "24DE520000999999", donorLot(),
			decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrLotMismatch)
	})

	t.Run("source still carries mass", func(t *testing.T) {
		src := excessLot()
		src.RemainingKg = decimal.NewFromInt(10)
		_, err := Plan(src, sourceRef(), src.MRN, donorLot(), decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrSourceNotExcess)
	})

	t.Run("more liters than the lot holds", func(t *testing.T) {
		_, err := Plan(excessLot(), sourceRef(), "", donorLot(), decimal.NewFromInt(501), nil)
		assert.ErrorIs(t, err, ErrInsufficientExcess)
	})

	t.Run("no donor anywhere", func(t *testing.T) {
		_, err := Plan(excessLot(), sourceRef(), "", nil, decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrNoEligibleDonor)
	})

	t.Run("source checks win over a missing donor", func(t *testing.T) {
		src := excessLot()
		src.RemainingKg = decimal.NewFromInt(10)
		_, err := Plan(src, sourceRef(), "", nil, decimal.NewFromInt(100), nil)
		assert.ErrorIs(t, err, ErrSourceNotExcess)
		assert.False(t, errors.Is(err, ErrNoEligibleDonor))
	})

	t.Run("non-positive excess", func(t *testing.T) {
		_, err := Plan(excessLot(), sourceRef(), "", donorLot(), decimal.Zero, nil)
		assert.Error(t, err)
	})
}
