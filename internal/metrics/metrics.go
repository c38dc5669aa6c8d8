// Package metrics provides Prometheus metrics collection for the credit-risk
// service. It defines the serving, attribution, model and training metrics
// exposed via the /metrics endpoint for monitoring and alerting.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec   // Requests by route and status code
	RequestDuration *prometheus.HistogramVec // Request latency by route

	// Scoring metrics
	ScoredRows        prometheus.Counter   // Total number of rows scored
	PositiveDecisions prometheus.Counter   // Rows whose probability reached the threshold
	ScoringLatency    prometheus.Histogram // Batch scoring latency in seconds
	PredictionScores  prometheus.Histogram // Distribution of default probabilities
	AttributionRows   prometheus.Counter   // Total number of attribution rows produced
	ErrorsTotal       *prometheus.CounterVec

	// Model metrics
	ModelLoaded    prometheus.Gauge // 1 when a model is serving
	ModelThreshold prometheus.Gauge // Calibrated decision threshold in use
	ModelAge       prometheus.Gauge // Age of the serving model in seconds

	// Training metrics
	TrainingRuns      *prometheus.CounterVec // Training runs by status
	LastBusinessScore prometheus.Gauge       // Business cost of the last run at its threshold
	LastAUC           prometheus.Gauge       // Held-out AUC of the last run

	// Streaming metrics
	StreamConnections prometheus.Gauge // Open /predict/stream connections
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ScoredRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "scored_rows_total",
			Help: "Total number of client rows scored",
		}),
		PositiveDecisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "positive_decisions_total",
			Help: "Total number of rows predicted as default",
		}),
		ScoringLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scoring_latency_seconds",
			Help:    "Batch scoring latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_scores",
			Help:    "Distribution of predicted default probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		AttributionRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "attribution_rows_total",
			Help: "Total number of attribution rows computed",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors by kind",
		}, []string{"kind"}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_loaded",
			Help: "1 when a model is loaded and serving",
		}),
		ModelThreshold: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_threshold",
			Help: "Calibrated decision threshold of the serving model",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the serving model in seconds",
		}),
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "training_runs_total",
			Help: "Total number of training runs by status",
		}, []string{"status"}),
		LastBusinessScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "training_business_score",
			Help: "Business cost of the last training run at its optimal threshold",
		}),
		LastAUC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "training_auc",
			Help: "Held-out AUC of the last training run",
		}),
		StreamConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stream_connections",
			Help: "Number of open scoring stream connections",
		}),
	}
}

// SetModel records the serving model state.
func (m *Metrics) SetModel(loaded bool, threshold float64, createdAt time.Time) {
	if !loaded {
		m.ModelLoaded.Set(0)
		return
	}
	m.ModelLoaded.Set(1)
	m.ModelThreshold.Set(threshold)
	if !createdAt.IsZero() {
		m.ModelAge.Set(time.Since(createdAt).Seconds())
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, code string, took time.Duration) {
	m.RequestsTotal.WithLabelValues(route, code).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(took.Seconds())
}

// ObserveTraining records the outcome of a training run.
func (m *Metrics) ObserveTraining(status string, auc, businessScore float64) {
	m.TrainingRuns.WithLabelValues(status).Inc()
	if status == "FINISHED" {
		m.LastAUC.Set(auc)
		m.LastBusinessScore.Set(businessScore)
	}
}
