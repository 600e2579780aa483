package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMSEAndRMSE(t *testing.T) {
	actual := []float64{1, 2, 3}
	predicted := []float64{1, 2, 5}

	assert.InDelta(t, 4.0/3.0, MSE.Fn(actual, predicted), 1e-12)
	assert.InDelta(t, 2.0/3.0, MAE.Fn(actual, predicted), 1e-12)
	assert.InDelta(t, 1.1547005383792515, RMSE.Fn(actual, predicted), 1e-12)
}

func TestIC_PerfectMonotoneAgreement(t *testing.T) {
	actual := []float64{0.1, 0.4, 0.2, 0.9}
	predicted := []float64{1, 4, 2, 9}
	assert.InDelta(t, 1.0, IC.Fn(actual, predicted), 1e-12)

	inverted := []float64{9, 2, 4, 1}
	assert.InDelta(t, -1.0, IC.Fn(actual, inverted), 1e-12)
}

func TestIC_ConstantSeriesIsZero(t *testing.T) {
	assert.Equal(t, 0.0, IC.Fn([]float64{1, 1, 1}, []float64{1, 2, 3}))
	assert.Equal(t, 0.0, IC.Fn([]float64{5}, []float64{1}))
}

func TestIC_TiesGetAverageRank(t *testing.T) {
	// both series rank identically once ties are averaged
	actual := []float64{1, 2, 2, 3}
	predicted := []float64{10, 20, 20, 30}
	assert.InDelta(t, 1.0, IC.Fn(actual, predicted), 1e-12)
}

func TestHitRate(t *testing.T) {
	actual := []float64{0.5, -0.2, 0.1, 0.0}
	predicted := []float64{0.3, -0.1, -0.4, 0.2}
	// hits: index 0 and 1; index 2 wrong sign, index 3 zero target
	assert.InDelta(t, 0.5, HitRate.Fn(actual, predicted), 1e-12)
}

func TestByName(t *testing.T) {
	ms, err := ByName("mse", "ic")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "mse", ms[0].Name)
	assert.True(t, ms[1].HigherIsBetter)

	_, err = ByName("sharpe")
	assert.Error(t, err)
}

func TestWorse(t *testing.T) {
	assert.True(t, MSE.Worse(2.0, 1.0), "larger error is worse")
	assert.False(t, MSE.Worse(1.0, 2.0))
	assert.True(t, IC.Worse(0.1, 0.5), "smaller IC is worse")
}
