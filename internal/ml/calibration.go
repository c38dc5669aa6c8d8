package ml

import "math"

// thresholdSteps is the number of candidates in the grid 0.00..0.99.
const thresholdSteps = 100

// CostModel prices the two kinds of misclassification. Missing a defaulting
// client (false negative) is expected to cost more than flagging a safe one.
type CostModel struct {
	FalseNegative float64 `json:"cost_fn" yaml:"costFN"`
	FalsePositive float64 `json:"cost_fp" yaml:"costFP"`
}

// DefaultCostModel is the 10:1 business cost used by the retraining job.
var DefaultCostModel = CostModel{FalseNegative: 10, FalsePositive: 1}

// Validate checks both costs are strictly positive and finite.
func (c CostModel) Validate() error {
	if !(c.FalseNegative > 0) || math.IsInf(c.FalseNegative, 0) {
		return invalidInput("false negative cost must be a positive number, got %v", c.FalseNegative)
	}
	if !(c.FalsePositive > 0) || math.IsInf(c.FalsePositive, 0) {
		return invalidInput("false positive cost must be a positive number, got %v", c.FalsePositive)
	}
	return nil
}

// ThresholdPoint is the confusion summary of one candidate threshold.
type ThresholdPoint struct {
	Threshold      float64 `json:"threshold"`
	Cost           float64 `json:"cost"`
	FalseNegatives int     `json:"false_negatives"`
	FalsePositives int     `json:"false_positives"`
}

// Decide applies the serving comparison. Calibration and scoring must share it.
func Decide(probability, threshold float64) int {
	if probability >= threshold {
		return 1
	}
	return 0
}

// ScanThresholds evaluates every candidate of the 0.00..0.99 grid in
// ascending order.
func ScanThresholds(labels []int, probs []float64, cost CostModel) ([]ThresholdPoint, error) {
	if err := validateCalibrationInput(labels, probs, cost); err != nil {
		return nil, err
	}

	points := make([]ThresholdPoint, thresholdSteps)
	for step := 0; step < thresholdSteps; step++ {
		t := float64(step) / thresholdSteps
		var fn, fp int
		for i, p := range probs {
			pred := Decide(p, t)
			switch {
			case labels[i] == 1 && pred == 0:
				fn++
			case labels[i] == 0 && pred == 1:
				fp++
			}
		}
		points[step] = ThresholdPoint{
			Threshold:      t,
			Cost:           float64(fn)*cost.FalseNegative + float64(fp)*cost.FalsePositive,
			FalseNegatives: fn,
			FalsePositives: fp,
		}
	}
	return points, nil
}

// FindOptimalThreshold returns the grid threshold with the lowest business
// cost and that cost. Ties resolve to the smallest threshold.
func FindOptimalThreshold(labels []int, probs []float64, cost CostModel) (float64, float64, error) {
	points, err := ScanThresholds(labels, probs, cost)
	if err != nil {
		return 0, 0, err
	}

	best := points[0]
	for _, p := range points[1:] {
		if p.Cost < best.Cost {
			best = p
		}
	}
	return best.Threshold, best.Cost, nil
}

func validateCalibrationInput(labels []int, probs []float64, cost CostModel) error {
	if len(labels) == 0 {
		return invalidInput("labels must not be empty")
	}
	if len(labels) != len(probs) {
		return invalidInput("labels and probabilities differ in length: %d vs %d", len(labels), len(probs))
	}
	for i, y := range labels {
		if y != 0 && y != 1 {
			return invalidInput("label %d is %d, expected 0 or 1", i, y)
		}
	}
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return invalidInput("probability %d is %v, expected a value in [0,1]", i, p)
		}
	}
	return cost.Validate()
}
