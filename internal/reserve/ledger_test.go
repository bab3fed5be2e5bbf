package reserve

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fueldock/fuelcore/internal/tank"
)

func entry(id int64, createdAt time.Time, liters string) Entry {
	return Entry{
		ID:        id,
		TankKind:  tank.KindFixed,
		TankID:    1,
		LotID:     10,
		MRN:       "24DE520000123456",
		Liters:    decimal.RequireFromString(liters),
		CreatedAt: createdAt,
	}
}

func TestPlanDispenseSplitsBoundaryEntry(t *testing.T) {
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	entries := []Entry{
		entry(1, base, "200"),
		entry(2, base.Add(time.Hour), "300"),
	}

	draws, err := PlanDispense(entries, decimal.NewFromInt(250))
	require.NoError(t, err)
	require.Len(t, draws, 2)

	t.Run("oldest entry fully consumed", func(t *testing.T) {
		assert.Equal(t, int64(1), draws[0].Entry.ID)
		assert.True(t, draws[0].Liters.Equal(decimal.NewFromInt(200)))
		assert.False(t, draws[0].Split)
		assert.True(t, draws[0].RemainderLiters.IsZero())
	})

	t.Run("boundary entry split at the requested amount", func(t *testing.T) {
		assert.Equal(t, int64(2), draws[1].Entry.ID)
		assert.True(t, draws[1].Liters.Equal(decimal.NewFromInt(50)), "got %s", draws[1].Liters)
		assert.True(t, draws[1].Split)
		assert.True(t, draws[1].RemainderLiters.Equal(decimal.NewFromInt(250)),
			"remainder should survive as a new entry, got %s", draws[1].RemainderLiters)
	})
}

func TestPlanDispenseExactCoverage(t *testing.T) {
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	entries := []Entry{
		entry(1, base, "120.5"),
		entry(2, base.Add(time.Minute), "79.5"),
	}

	draws, err := PlanDispense(entries, decimal.NewFromInt(200))
	require.NoError(t, err)
	require.Len(t, draws, 2)
	for _, d := range draws {
		assert.False(t, d.Split)
	}
}

func TestPlanDispenseInsufficientReserve(t *testing.T) {
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	entries := []Entry{entry(1, base, "100")}

	_, err := PlanDispense(entries, decimal.NewFromInt(150))
	var insufficient *InsufficientReserveError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, insufficient.Requested.Equal(decimal.NewFromInt(150)))
	assert.True(t, insufficient.Available.Equal(decimal.NewFromInt(100)))
}

func TestPlanDispenseRejectsNonPositive(t *testing.T) {
	_, err := PlanDispense(nil, decimal.Zero)
	assert.Error(t, err)
	_, err = PlanDispense(nil, decimal.NewFromInt(-1))
	assert.Error(t, err)
}

func TestPlanDispenseConservation(t *testing.T) {
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	entries := []Entry{
		entry(1, base, "33.333"),
		entry(2, base.Add(time.Minute), "66.667"),
		entry(3, base.Add(2*time.Minute), "150"),
	}

	requested := decimal.RequireFromString("175.25")
	draws, err := PlanDispense(entries, requested)
	require.NoError(t, err)

	total := decimal.Zero
	for _, d := range draws {
		total = total.Add(d.Liters)
	}
	assert.True(t, total.Equal(requested), "dispensed %s, requested %s", total, requested)
}
