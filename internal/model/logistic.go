package model

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// KindLogistic identifies native logistic artifacts.
const KindLogistic = "logistic"

// TrainOptions are the gradient-descent hyper-parameters.
type TrainOptions struct {
	LearningRate float64 `json:"learning_rate" yaml:"learningRate"`
	Iterations   int     `json:"iterations" yaml:"iterations"`
	L2           float64 `json:"l2" yaml:"l2"`
	Tolerance    float64 `json:"tolerance" yaml:"tolerance"`
}

// DefaultTrainOptions returns the settings used by the training pipeline.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		LearningRate: 0.1,
		Iterations:   500,
		L2:           0.001,
		Tolerance:    1e-7,
	}
}

// LogisticModel is an L2-regularised logistic regression over standardised
// inputs. It is immutable after fitting and safe for concurrent use.
type LogisticModel struct {
	FeatureNames []string       `json:"features"`
	Weights      []float64      `json:"weights"`
	Intercept    float64        `json:"intercept"`
	Stats        []FeatureStats `json:"stats"`
}

// FitLogistic trains a model with batch gradient descent. Labels must be 0/1
// and X must be rectangular with len(features) columns.
func FitLogistic(features []string, X [][]float64, y []int, opts TrainOptions) (*LogisticModel, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("no training rows")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("rows and labels differ in length: %d vs %d", len(X), len(y))
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("no features")
	}
	if opts.LearningRate <= 0 || opts.Iterations <= 0 || opts.L2 < 0 {
		return nil, fmt.Errorf("invalid training options %+v", opts)
	}

	positives := 0
	for i, row := range X {
		if len(row) != len(features) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(features))
		}
		switch y[i] {
		case 0:
		case 1:
			positives++
		default:
			return nil, fmt.Errorf("row %d: label %d is not binary", i, y[i])
		}
	}

	stats := ComputeStats(features, X)
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = standardize(stats, row)
	}

	m := &LogisticModel{
		FeatureNames: append([]string(nil), features...),
		Weights:      make([]float64, len(features)),
		Stats:        stats,
	}
	// Start from the prior log-odds so early iterations fit the features.
	prior := (float64(positives) + 0.5) / (float64(len(y)) + 1)
	m.Intercept = math.Log(prior / (1 - prior))

	n := float64(len(X))
	grad := make([]float64, len(features))
	iter := 0
	for ; iter < opts.Iterations; iter++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradB float64
		for i, z := range Z {
			diff := sigmoid(m.linear(z)) - float64(y[i])
			for j, v := range z {
				grad[j] += diff * v
			}
			gradB += diff
		}

		maxStep := math.Abs(opts.LearningRate * gradB / n)
		m.Intercept -= opts.LearningRate * gradB / n
		for j := range m.Weights {
			step := opts.LearningRate * (grad[j]/n + opts.L2*m.Weights[j])
			m.Weights[j] -= step
			maxStep = math.Max(maxStep, math.Abs(step))
		}
		if opts.Tolerance > 0 && maxStep < opts.Tolerance {
			iter++
			break
		}
	}

	log.Debug().
		Int("rows", len(X)).
		Int("features", len(features)).
		Int("iterations", iter).
		Float64("intercept", m.Intercept).
		Msg("logistic model fitted")

	return m, nil
}

// Validate checks the internal consistency of a decoded model.
func (m *LogisticModel) Validate() error {
	if len(m.FeatureNames) == 0 {
		return fmt.Errorf("model has no features")
	}
	if len(m.Weights) != len(m.FeatureNames) || len(m.Stats) != len(m.FeatureNames) {
		return fmt.Errorf("model has %d features, %d weights and %d stats", len(m.FeatureNames), len(m.Weights), len(m.Stats))
	}
	for j, s := range m.Stats {
		if s.Std <= 0 || math.IsNaN(s.Std) {
			return fmt.Errorf("feature %q has invalid std %v", m.FeatureNames[j], s.Std)
		}
	}
	return nil
}

func (m *LogisticModel) Features() []string { return m.FeatureNames }

func (m *LogisticModel) ConcurrentSafe() bool { return true }

// PredictProba returns [P(class 0), P(class 1)] per row.
func (m *LogisticModel) PredictProba(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.FeatureNames) {
			return nil, fmt.Errorf("row %d has %d values, model expects %d", i, len(row), len(m.FeatureNames))
		}
		p := sigmoid(m.linear(standardize(m.Stats, row)))
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

// Predict applies the conventional 0.5 cut. Serving decisions use the
// calibrated threshold instead; this is for evaluation metrics only.
func (m *LogisticModel) Predict(rows [][]float64) ([]int, error) {
	probas, err := m.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probas))
	for i, p := range probas {
		if p[1] >= 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

// Explain returns the exact log-odds decomposition w_j*z_j. The contributions
// plus the intercept sum to the logit of the predicted probability; a feature
// at its training mean (or missing) contributes 0.
func (m *LogisticModel) Explain(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.FeatureNames) {
			return nil, fmt.Errorf("row %d has %d values, model expects %d", i, len(row), len(m.FeatureNames))
		}
		z := standardize(m.Stats, row)
		c := make([]float64, len(z))
		for j, v := range z {
			c[j] = m.Weights[j] * v
		}
		out[i] = c
	}
	return out, nil
}

func (m *LogisticModel) linear(z []float64) float64 {
	s := m.Intercept
	for j, v := range z {
		s += m.Weights[j] * v
	}
	return s
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func logit(p float64) float64 {
	const eps = 1e-12
	p = math.Min(math.Max(p, eps), 1-eps)
	return math.Log(p / (1 - p))
}
