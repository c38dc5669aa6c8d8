package model

import (
	"fmt"

	"credit-risk-api/internal/ml"
)

// OcclusionExplainer attributes a prediction to each feature by replacing the
// feature with its baseline value and measuring the change in log-odds:
//
//	contribution_j = logit(p(x)) - logit(p(x with x_j = baseline_j))
//
// It works for any classifier. All perturbed rows of a batch are scored in a
// single PredictProba call.
type OcclusionExplainer struct {
	clf      ml.Classifier
	baseline []float64
}

// NewOcclusionExplainer pairs clf with per-feature baseline values.
func NewOcclusionExplainer(clf ml.Classifier, baseline []float64) (*OcclusionExplainer, error) {
	if clf == nil {
		return nil, fmt.Errorf("classifier is nil")
	}
	if len(baseline) != len(clf.Features()) {
		return nil, fmt.Errorf("baseline has %d values, classifier has %d features", len(baseline), len(clf.Features()))
	}
	return &OcclusionExplainer{clf: clf, baseline: append([]float64(nil), baseline...)}, nil
}

func (e *OcclusionExplainer) Explain(rows [][]float64) ([][]float64, error) {
	if len(rows) == 0 {
		return [][]float64{}, nil
	}
	k := len(e.baseline)

	// Each row contributes itself followed by k occluded copies.
	batch := make([][]float64, 0, len(rows)*(k+1))
	for i, row := range rows {
		if len(row) != k {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), k)
		}
		batch = append(batch, row)
		for j := 0; j < k; j++ {
			occluded := append([]float64(nil), row...)
			occluded[j] = e.baseline[j]
			batch = append(batch, occluded)
		}
	}

	probas, err := e.clf.PredictProba(batch)
	if err != nil {
		return nil, err
	}
	if len(probas) != len(batch) {
		return nil, fmt.Errorf("classifier returned %d predictions for %d rows", len(probas), len(batch))
	}

	out := make([][]float64, len(rows))
	for i := range rows {
		base := i * (k + 1)
		full, err := positive(probas[base])
		if err != nil {
			return nil, err
		}
		c := make([]float64, k)
		for j := 0; j < k; j++ {
			p, err := positive(probas[base+1+j])
			if err != nil {
				return nil, err
			}
			c[j] = logit(full) - logit(p)
		}
		out[i] = c
	}
	return out, nil
}

func positive(p []float64) (float64, error) {
	if len(p) < 2 {
		return 0, fmt.Errorf("expected 2 class probabilities, got %d", len(p))
	}
	return p[1], nil
}
