package ml

import (
	"errors"
	"sync"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	scored      int
	positives   int
	latencies   int
	scores      []float64
	attribution int
	errors      map[string]int
}

func (m *MockMetrics) ScoredRowsAdd(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scored += n
}

func (m *MockMetrics) PositiveDecisionsAdd(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positives += n
}

func (m *MockMetrics) ScoringLatencyObserve(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *MockMetrics) PredictionScoreObserve(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, p)
}

func (m *MockMetrics) AttributionRowsAdd(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attribution += n
}

func (m *MockMetrics) ErrorInc(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int)
	}
	m.errors[kind]++
}

// stubClassifier returns the value of its first feature as the positive-class
// probability and counts batch calls.
type stubClassifier struct {
	features []string
	calls    int
	batches  []int
	failWith error
	safe     bool
}

func newStub(features ...string) *stubClassifier {
	return &stubClassifier{features: features, safe: true}
}

func (s *stubClassifier) Features() []string { return s.features }

func (s *stubClassifier) ConcurrentSafe() bool { return s.safe }

func (s *stubClassifier) Predict(rows [][]float64) ([]int, error) {
	probas, err := s.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probas))
	for i, p := range probas {
		out[i] = Decide(p[1], 0.5)
	}
	return out, nil
}

func (s *stubClassifier) PredictProba(rows [][]float64) ([][]float64, error) {
	s.calls++
	s.batches = append(s.batches, len(rows))
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = []float64{1 - r[0], r[0]}
	}
	return out, nil
}

// weightExplainer returns value*weight per feature.
type weightExplainer struct {
	weights []float64
	err     error
}

func (w weightExplainer) Explain(rows [][]float64) ([][]float64, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		c := make([]float64, len(r))
		for j, v := range r {
			c[j] = v * w.weights[j]
		}
		out[i] = c
	}
	return out, nil
}

// memoryProvider is an in-memory ReferenceCohortProvider.
type memoryProvider struct {
	rows   []FeatureRow
	labels []int
}

func (p memoryProvider) Lookup(clientID string) (FeatureRow, error) {
	for _, r := range p.rows {
		if r.ClientID == clientID {
			return r, nil
		}
	}
	return FeatureRow{}, NotFoundError(clientID)
}

func (p memoryProvider) Cohort(name string, limit int) ([]FeatureRow, error) {
	var out []FeatureRow
	for i, r := range p.rows {
		if name == CohortPositive && p.labels[i] != 1 {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, r)
	}
	if name != CohortPositive && name != CohortAll {
		return nil, errors.New("unknown cohort")
	}
	return out, nil
}

func row(id string, values map[string]float64) FeatureRow {
	return FeatureRow{ClientID: id, Values: values}
}

func mustContext(t interface{ Fatalf(string, ...any) }, clf Classifier, exp Explainer, threshold float64, m MetricsInterface) *ModelContext {
	mc, err := NewModelContext(clf, exp, threshold, ModelInfo{Version: "test"}, ContextOptions{Metrics: m})
	if err != nil {
		t.Fatalf("NewModelContext: %v", err)
	}
	return mc
}
