// Package ml provides the credit-risk decision core: cost-driven threshold
// calibration, batch scoring against a calibrated threshold and per-row
// feature attribution.
//
// The classifier itself is consumed through the narrow Classifier interface;
// concrete models live in internal/model. A ModelContext, built once at
// process start, carries the classifier, its explainer and the threshold into
// every request.
package ml

// Classifier defines the binary classifier capability consumed by scoring.
// Rows are ordered by Features().
type Classifier interface {
	// Features returns the ordered input feature names the model expects.
	Features() []string

	// Predict returns hard 0/1 labels using the model's own default cutoff.
	Predict(rows [][]float64) ([]int, error)

	// PredictProba returns per-class probabilities for every row; index 1 is
	// the positive (default risk) class.
	PredictProba(rows [][]float64) ([][]float64, error)
}

// Explainer computes per-feature contributions for each row, aligned with the
// classifier's Features().
type Explainer interface {
	Explain(rows [][]float64) ([][]float64, error)
}

// ConcurrentSafe is implemented by classifiers that tolerate concurrent
// read-only inference. Classifiers that do not implement it, or return false,
// get their inference calls serialised by the ModelContext.
type ConcurrentSafe interface {
	ConcurrentSafe() bool
}

// MetricsInterface defines metrics methods needed by the scoring core.
type MetricsInterface interface {
	ScoredRowsAdd(n int)
	PositiveDecisionsAdd(n int)
	ScoringLatencyObserve(seconds float64)
	PredictionScoreObserve(p float64)
	AttributionRowsAdd(n int)
	ErrorInc(kind string)
}
