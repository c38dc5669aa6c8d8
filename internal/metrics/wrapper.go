package metrics

import "credit-risk-api/internal/ml"

// MetricsWrapper adapts Metrics to ml.MetricsInterface so the ml package does
// not depend on Prometheus.
type MetricsWrapper struct {
	m *Metrics
}

var _ ml.MetricsInterface = (*MetricsWrapper)(nil)

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) ScoredRowsAdd(n int) {
	w.m.ScoredRows.Add(float64(n))
}

func (w *MetricsWrapper) PositiveDecisionsAdd(n int) {
	w.m.PositiveDecisions.Add(float64(n))
}

func (w *MetricsWrapper) ScoringLatencyObserve(seconds float64) {
	w.m.ScoringLatency.Observe(seconds)
}

func (w *MetricsWrapper) PredictionScoreObserve(p float64) {
	w.m.PredictionScores.Observe(p)
}

func (w *MetricsWrapper) AttributionRowsAdd(n int) {
	w.m.AttributionRows.Add(float64(n))
}

func (w *MetricsWrapper) ErrorInc(kind string) {
	if kind == "" {
		kind = "internal"
	}
	w.m.ErrorsTotal.WithLabelValues(kind).Inc()
}
