package density

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoFromTotals(t *testing.T) {
	t.Run("should weight by quantity", func(t *testing.T) {
		info := InfoFromTotals(decimal.NewFromInt(803), decimal.NewFromInt(1000), 3)
		assert.True(t, info.Density.Equal(decimal.RequireFromString("0.803")), "got %s", info.Density)
		assert.Equal(t, 3, info.LotCount)
	})

	t.Run("empty tank reports the fallback", func(t *testing.T) {
		info := InfoFromTotals(decimal.Zero, decimal.Zero, 0)
		assert.True(t, info.Density.Equal(Fallback))
	})
}

func TestAnalyzeTiers(t *testing.T) {
	weighted := decimal.RequireFromString("0.800")
	oneTonne := decimal.NewFromInt(1000)

	cases := []struct {
		name        string
		operational string
		action      Action
	}{
		{"small drift is accepted", "0.806", ActionAccept},
		{"one percent exactly warns", "0.792", ActionWarn},
		{"three percent exactly warns", "0.776", ActionWarn},
		{"large drift requires adjustment", "0.750", ActionAdjust},
		{"identical densities are accepted", "0.800", ActionAccept},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Analyze(weighted, decimal.RequireFromString(tc.operational), oneTonne)
			require.NoError(t, err)
			assert.Equal(t, tc.action, v.Action,
				"operational %s vs weighted %s: variation %s%%", tc.operational, weighted, v.VariationPercent)
		})
	}
}

func TestAnalyzeVolumeImpact(t *testing.T) {
	// 1000 kg read at 0.792 instead of 0.800 is 12.626 extra liters.
	v, err := Analyze(
		decimal.RequireFromString("0.800"),
		decimal.RequireFromString("0.792"),
		decimal.NewFromInt(1000),
	)
	require.NoError(t, err)
	assert.True(t, v.VolumeImpactLiters.Equal(decimal.RequireFromString("12.626")),
		"got %s", v.VolumeImpactLiters)
	assert.True(t, v.Variation.Equal(decimal.RequireFromString("0.008")))
	assert.True(t, v.VariationPercent.Equal(decimal.RequireFromString("1.0")), "got %s", v.VariationPercent)
}

func TestAnalyzeDirectionDoesNotMatter(t *testing.T) {
	weighted := decimal.RequireFromString("0.800")
	heavier, err := Analyze(weighted, decimal.RequireFromString("0.824"), decimal.NewFromInt(500))
	require.NoError(t, err)
	lighter, err := Analyze(weighted, decimal.RequireFromString("0.776"), decimal.NewFromInt(500))
	require.NoError(t, err)

	assert.Equal(t, heavier.Action, lighter.Action)
	assert.True(t, heavier.VariationPercent.Equal(lighter.VariationPercent))
}

func TestAnalyzeValidation(t *testing.T) {
	good := decimal.RequireFromString("0.8")

	_, err := Analyze(decimal.Zero, good, decimal.NewFromInt(100))
	assert.Error(t, err)

	_, err = Analyze(good, decimal.Zero, decimal.NewFromInt(100))
	assert.Error(t, err)

	_, err = Analyze(good, good, decimal.NewFromInt(-1))
	assert.Error(t, err)

	t.Run("zero quantity is fine for a pure density check", func(t *testing.T) {
		v, err := Analyze(good, good, decimal.Zero)
		require.NoError(t, err)
		assert.True(t, v.VolumeImpactLiters.IsZero())
	})
}
