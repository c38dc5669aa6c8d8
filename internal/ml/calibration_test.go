package ml

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOptimalThreshold_TieBreakPicksSmallest(t *testing.T) {
	labels := []int{0, 0, 1, 1}
	probs := []float64{0.1, 0.2, 0.8, 0.9}

	threshold, score, err := FindOptimalThreshold(labels, probs, CostModel{FalseNegative: 1, FalsePositive: 1})
	require.NoError(t, err)

	// Every candidate in (0.20, 0.80] separates the classes; the scan keeps the first.
	assert.InDelta(t, 0.21, threshold, 1e-9)
	assert.Equal(t, 0.0, score)

	points, err := ScanThresholds(labels, probs, CostModel{FalseNegative: 1, FalsePositive: 1})
	require.NoError(t, err)
	for _, p := range points {
		if p.Threshold < threshold {
			assert.Greater(t, p.Cost, 0.0, "threshold %.2f", p.Threshold)
		}
	}
	assert.Equal(t, 0.0, points[30].Cost)
	assert.Equal(t, 0.0, points[80].Cost)
	assert.Greater(t, points[81].Cost, 0.0)
}

func TestFindOptimalThreshold_PerfectSeparationCostsNothing(t *testing.T) {
	labels := []int{0, 1, 0, 1, 0, 1}
	probs := []float64{0.05, 0.71, 0.33, 0.92, 0.40, 0.66}

	threshold, score, err := FindOptimalThreshold(labels, probs, DefaultCostModel)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	for i, p := range probs {
		assert.Equal(t, labels[i], Decide(p, threshold))
	}
}

func TestFindOptimalThreshold_AsymmetricCostFavoursRecall(t *testing.T) {
	// A positive at 0.35 sits just above negatives at 0.30 and 0.32.
	labels := []int{0, 0, 0, 1, 1}
	probs := []float64{0.30, 0.32, 0.10, 0.35, 0.90}

	threshold, score, err := FindOptimalThreshold(labels, probs, CostModel{FalseNegative: 10, FalsePositive: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.33, threshold, 1e-9)
	assert.Equal(t, 0.0, score)

	threshold, score, err = FindOptimalThreshold([]int{0, 0, 1}, []float64{0.5, 0.6, 0.55}, CostModel{FalseNegative: 10, FalsePositive: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.51, threshold, 1e-9)
	assert.Equal(t, 1.0, score)
}

func TestFindOptimalThreshold_AllNegativesPicksThresholdAboveScores(t *testing.T) {
	threshold, score, err := FindOptimalThreshold([]int{0, 0, 0}, []float64{0.2, 0.4, 0.6}, DefaultCostModel)
	require.NoError(t, err)
	assert.InDelta(t, 0.61, threshold, 1e-9)
	assert.Equal(t, 0.0, score)
}

func TestFindOptimalThreshold_BoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(40)
		labels := make([]int, n)
		probs := make([]float64, n)
		for i := range labels {
			labels[i] = rng.Intn(2)
			probs[i] = rng.Float64()
		}
		cost := CostModel{FalseNegative: 0.1 + rng.Float64()*20, FalsePositive: 0.1 + rng.Float64()*5}

		threshold, score, err := FindOptimalThreshold(labels, probs, cost)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, threshold, 0.0)
		assert.LessOrEqual(t, threshold, 0.99)
		assert.GreaterOrEqual(t, score, 0.0)
	}
}

func TestFindOptimalThreshold_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		labels []int
		probs  []float64
		cost   CostModel
	}{
		{"empty", nil, nil, DefaultCostModel},
		{"length mismatch", []int{0, 1}, []float64{0.1}, DefaultCostModel},
		{"non binary label", []int{0, 2}, []float64{0.1, 0.2}, DefaultCostModel},
		{"probability above one", []int{0, 1}, []float64{0.1, 1.2}, DefaultCostModel},
		{"negative probability", []int{0, 1}, []float64{-0.1, 0.5}, DefaultCostModel},
		{"zero fn cost", []int{0, 1}, []float64{0.1, 0.9}, CostModel{FalseNegative: 0, FalsePositive: 1}},
		{"negative fp cost", []int{0, 1}, []float64{0.1, 0.9}, CostModel{FalseNegative: 10, FalsePositive: -1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := FindOptimalThreshold(tc.labels, tc.probs, tc.cost)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
			assert.Equal(t, KindInvalidInput, KindOf(err))
		})
	}
}

func TestScanThresholds_Grid(t *testing.T) {
	points, err := ScanThresholds([]int{1}, []float64{0.5}, DefaultCostModel)
	require.NoError(t, err)
	require.Len(t, points, 100)
	assert.Equal(t, 0.0, points[0].Threshold)
	assert.InDelta(t, 0.99, points[99].Threshold, 1e-12)

	// 0.5 >= 0.50 is a positive decision, 0.5 >= 0.51 is not.
	assert.Equal(t, 0, points[50].FalseNegatives)
	assert.Equal(t, 1, points[51].FalseNegatives)
}

func TestDecide_NonStrictBoundary(t *testing.T) {
	assert.Equal(t, 1, Decide(0.30, 0.30))
	assert.Equal(t, 0, Decide(0.49, 0.5))
	assert.Equal(t, 1, Decide(0.50, 0.5))
	assert.Equal(t, 1, Decide(0.999999, 0.5))
}
