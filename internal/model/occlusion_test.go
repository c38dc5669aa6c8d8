package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClassifier struct {
	*LogisticModel
	calls int
}

func (c *countingClassifier) PredictProba(rows [][]float64) ([][]float64, error) {
	c.calls++
	return c.LogisticModel.PredictProba(rows)
}

type brokenClassifier struct{ features []string }

func (b brokenClassifier) Features() []string { return b.features }
func (b brokenClassifier) Predict([][]float64) ([]int, error) { return nil, errors.New("boom") }
func (b brokenClassifier) PredictProba([][]float64) ([][]float64, error) { return nil, errors.New("boom") }

func TestOcclusion_MatchesLinearAttributionAtMeanBaseline(t *testing.T) {
	features, X, y := syntheticData(300, 3)
	m, err := FitLogistic(features, X, y, DefaultTrainOptions())
	require.NoError(t, err)

	clf := &countingClassifier{LogisticModel: m}
	exp, err := NewOcclusionExplainer(clf, Baseline(m.Stats))
	require.NoError(t, err)

	rows := X[:10]
	got, err := exp.Explain(rows)
	require.NoError(t, err)
	want, err := m.Explain(rows)
	require.NoError(t, err)

	assert.Equal(t, 1, clf.calls, "perturbations are scored in one batch")
	for i := range rows {
		for j := range features {
			assert.InDelta(t, want[i][j], got[i][j], 1e-5, "row %d feature %s", i, features[j])
		}
	}
}

func TestOcclusion_Errors(t *testing.T) {
	_, err := NewOcclusionExplainer(nil, nil)
	assert.Error(t, err)

	_, err = NewOcclusionExplainer(brokenClassifier{features: []string{"a", "b"}}, []float64{0})
	assert.Error(t, err)

	exp, err := NewOcclusionExplainer(brokenClassifier{features: []string{"a"}}, []float64{0})
	require.NoError(t, err)
	_, err = exp.Explain([][]float64{{1}})
	assert.EqualError(t, err, "boom")

	_, err = exp.Explain([][]float64{{1, 2}})
	assert.Error(t, err)

	out, err := exp.Explain(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
