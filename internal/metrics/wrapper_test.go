package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWrapper(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestMetricsWrapper_ScoringCounters(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	if v := testutil.ToFloat64(metrics.ScoredRows); v != 0 {
		t.Errorf("Expected initial counter value 0, got %f", v)
	}

	wrapper.ScoredRowsAdd(3)
	wrapper.ScoredRowsAdd(2)
	wrapper.PositiveDecisionsAdd(1)
	wrapper.AttributionRowsAdd(4)

	if v := testutil.ToFloat64(metrics.ScoredRows); v != 5 {
		t.Errorf("Expected scored rows 5, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.PositiveDecisions); v != 1 {
		t.Errorf("Expected positive decisions 1, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.AttributionRows); v != 4 {
		t.Errorf("Expected attribution rows 4, got %f", v)
	}
}

func TestMetricsWrapper_ErrorsByKind(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.ErrorInc("schema")
	wrapper.ErrorInc("schema")
	wrapper.ErrorInc("model_unavailable")
	wrapper.ErrorInc("")

	if v := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("schema")); v != 2 {
		t.Errorf("Expected 2 schema errors, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("model_unavailable")); v != 1 {
		t.Errorf("Expected 1 model_unavailable error, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("internal")); v != 1 {
		t.Errorf("Expected unlabelled errors counted as internal, got %f", v)
	}
}

func TestMetricsWrapper_Histograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	wrapper.ScoringLatencyObserve(0.004)
	wrapper.PredictionScoreObserve(0.12)
	wrapper.PredictionScoreObserve(0.87)

	if n := testutil.CollectAndCount(metrics.PredictionScores); n != 1 {
		t.Errorf("Expected one prediction score series, got %d", n)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "prediction_scores" {
			if c := mf.GetMetric()[0].GetHistogram().GetSampleCount(); c != 2 {
				t.Errorf("Expected 2 observations, got %d", c)
			}
		}
	}
}

func TestMetrics_ModelAndTraining(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())

	metrics.SetModel(true, 0.09, time.Now().Add(-time.Hour))
	if v := testutil.ToFloat64(metrics.ModelLoaded); v != 1 {
		t.Errorf("Expected model_loaded 1, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.ModelThreshold); v != 0.09 {
		t.Errorf("Expected threshold 0.09, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.ModelAge); v < 3599 {
		t.Errorf("Expected model age of about an hour, got %f", v)
	}

	metrics.SetModel(false, 0, time.Time{})
	if v := testutil.ToFloat64(metrics.ModelLoaded); v != 0 {
		t.Errorf("Expected model_loaded 0, got %f", v)
	}

	metrics.ObserveTraining("FINISHED", 0.76, 2890)
	metrics.ObserveTraining("FAILED", 0, 0)
	if v := testutil.ToFloat64(metrics.TrainingRuns.WithLabelValues("FINISHED")); v != 1 {
		t.Errorf("Expected one finished run, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.LastBusinessScore); v != 2890 {
		t.Errorf("Expected last business score 2890, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.LastAUC); v != 0.76 {
		t.Errorf("Expected last AUC 0.76, got %f", v)
	}

	metrics.ObserveRequest("/predict", "200", 20*time.Millisecond)
	if v := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("/predict", "200")); v != 1 {
		t.Errorf("Expected one /predict request, got %f", v)
	}
}

func TestNew_DefaultRegistry(t *testing.T) {
	metrics := New()
	if metrics.ScoredRows == nil {
		t.Fatal("New returned metrics without counters")
	}
}
