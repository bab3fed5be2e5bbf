package quantity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	t.Run("should parse a positive decimal", func(t *testing.T) {
		d, err := ParseAmount("1250.375")
		require.NoError(t, err)
		assert.Equal(t, "1250.375", d.String())
	})

	t.Run("should reject zero", func(t *testing.T) {
		_, err := ParseAmount("0")
		assert.Error(t, err)
	})

	t.Run("should reject negatives", func(t *testing.T) {
		_, err := ParseAmount("-10")
		assert.Error(t, err)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := ParseAmount("ten liters")
		assert.Error(t, err)
	})
}

func TestParseDensity(t *testing.T) {
	t.Run("should accept jet fuel range", func(t *testing.T) {
		d, err := ParseDensity("0.803")
		require.NoError(t, err)
		assert.Equal(t, "0.803", d.String())
	})

	t.Run("should reject zero and out-of-range values", func(t *testing.T) {
		for _, s := range []string{"0", "-0.8", "2", "5.0"} {
			_, err := ParseDensity(s)
			assert.Error(t, err, "density %s should be rejected", s)
		}
	})
}

func TestConversions(t *testing.T) {
	t.Run("volume times density is mass", func(t *testing.T) {
		// The excess-exchange conservation figure: 500 L at 0.803 kg/L.
		kg := MassOf(decimal.NewFromInt(500), decimal.RequireFromString("0.803"))
		assert.True(t, kg.Equal(decimal.RequireFromString("401.5")), "got %s", kg)
	})

	t.Run("mass over density is volume", func(t *testing.T) {
		liters, err := VolumeOf(decimal.RequireFromString("401.5"), decimal.RequireFromString("0.803"))
		require.NoError(t, err)
		assert.True(t, liters.Equal(decimal.NewFromInt(500)), "got %s", liters)
	})

	t.Run("conversions round to ledger precision", func(t *testing.T) {
		kg := MassOf(decimal.RequireFromString("333.333"), decimal.RequireFromString("0.799999"))
		assert.True(t, kg.Exponent() >= -Places, "mass %s carries more than %d decimals", kg, Places)
	})

	t.Run("zero density cannot convert mass", func(t *testing.T) {
		_, err := VolumeOf(decimal.NewFromInt(100), decimal.Zero)
		assert.Error(t, err)
	})
}

func TestWeightedDensity(t *testing.T) {
	t.Run("should divide mass by volume", func(t *testing.T) {
		d := WeightedDensity(decimal.NewFromInt(803), decimal.NewFromInt(1000), decimal.RequireFromString("0.8"))
		assert.True(t, d.Equal(decimal.RequireFromString("0.803")), "got %s", d)
	})

	t.Run("should return fallback when no volume", func(t *testing.T) {
		fallback := decimal.RequireFromString("0.8")
		d := WeightedDensity(decimal.Zero, decimal.Zero, fallback)
		assert.True(t, d.Equal(fallback))
	})
}

func TestIsNegligible(t *testing.T) {
	assert.True(t, IsNegligible(decimal.Zero))
	assert.True(t, IsNegligible(decimal.New(1, -6)))
	assert.True(t, IsNegligible(decimal.New(-1, -6)))
	assert.False(t, IsNegligible(decimal.New(2, -6)))
}

func TestParseUnit(t *testing.T) {
	t.Run("defaults to liters", func(t *testing.T) {
		u, err := ParseUnit("")
		require.NoError(t, err)
		assert.Equal(t, UnitLiters, u)
	})

	t.Run("rejects unknown units", func(t *testing.T) {
		_, err := ParseUnit("gallons")
		assert.Error(t, err)
	})
}
