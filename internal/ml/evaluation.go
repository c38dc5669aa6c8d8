package ml

import "sort"

// Metric names logged for every training run.
const (
	MetricAUC           = "auc"
	MetricAccuracy      = "accuracy"
	MetricRecall        = "recall"
	MetricF1            = "f1"
	MetricBusinessScore = "business_score"
	ParamThreshold      = "optimal_threshold"
)

// Evaluation is the held-out summary of a trained model.
type Evaluation struct {
	AUC           float64 `json:"auc"`
	Accuracy      float64 `json:"accuracy"`
	Recall        float64 `json:"recall"`
	F1            float64 `json:"f1"`
	BusinessScore float64 `json:"business_score"`
	Threshold     float64 `json:"optimal_threshold"`
	Samples       int     `json:"samples"`
}

// Metrics flattens the scalar metrics (the threshold is a parameter, not a metric).
func (e Evaluation) Metrics() map[string]float64 {
	return map[string]float64{
		MetricAUC:           e.AUC,
		MetricAccuracy:      e.Accuracy,
		MetricRecall:        e.Recall,
		MetricF1:            e.F1,
		MetricBusinessScore: e.BusinessScore,
	}
}

// Evaluate computes AUC from probabilities, accuracy/recall/F1 from hard
// predictions, and calibrates the threshold on the same held-out set.
func Evaluate(labels, preds []int, probs []float64, cost CostModel) (Evaluation, error) {
	if len(preds) != len(labels) {
		return Evaluation{}, invalidInput("labels and predictions differ in length: %d vs %d", len(labels), len(preds))
	}
	threshold, score, err := FindOptimalThreshold(labels, probs, cost)
	if err != nil {
		return Evaluation{}, err
	}

	var tp, tn, fp, fn int
	for i, y := range labels {
		switch {
		case y == 1 && preds[i] == 1:
			tp++
		case y == 0 && preds[i] == 0:
			tn++
		case y == 0 && preds[i] == 1:
			fp++
		default:
			fn++
		}
	}

	return Evaluation{
		AUC:           ROCAUC(labels, probs),
		Accuracy:      ratio(tp+tn, len(labels)),
		Recall:        ratio(tp, tp+fn),
		F1:            ratio(2*tp, 2*tp+fp+fn),
		BusinessScore: score,
		Threshold:     threshold,
		Samples:       len(labels),
	}, nil
}

// ROCAUC is the Mann-Whitney estimate of the area under the ROC curve, with
// tied scores sharing their average rank. Returns 0.5 when only one class is
// present.
func ROCAUC(labels []int, probs []float64) float64 {
	n := len(labels)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] < probs[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && probs[idx[j+1]] == probs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var pos, neg int
	var rankSum float64
	for i, y := range labels {
		if y == 1 {
			pos++
			rankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - float64(pos*(pos+1))/2) / float64(pos*neg)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
