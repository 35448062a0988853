package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealizedVolatilityConstantSeriesIsZero(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 250
	}

	got, err := RealizedVolatilityPct(closes, 20)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got, 1e-12)
}

func TestRealizedVolatilityAlternatingReturns(t *testing.T) {
	// 100 -> 110 -> 100 gives log returns +r and -r, whose sample standard
	// deviation is r * sqrt(2).
	closes := []float64{100, 110, 100}

	got, err := RealizedVolatilityPct(closes, 2)
	require.NoError(t, err)

	want := math.Log(1.1) * math.Sqrt2 * 100
	assert.InDelta(t, want, got, 1e-9)
}

func TestRealizedVolatilityUsesTrailingWindow(t *testing.T) {
	// A wild early history must not leak into the trailing window.
	closes := []float64{10, 500, 3, 900}
	closes = append(closes, 100, 110, 100)

	got, err := RealizedVolatilityPct(closes, 2)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(1.1)*math.Sqrt2*100, got, 1e-9)
}

func TestRealizedVolatilityErrors(t *testing.T) {
	_, err := RealizedVolatilityPct([]float64{100, 101}, 20)
	assert.Error(t, err)

	_, err = RealizedVolatilityPct([]float64{100, 101, 102}, 1)
	assert.Error(t, err)

	_, err = RealizedVolatilityPct([]float64{100, -5, 102}, 2)
	assert.Error(t, err)
}
