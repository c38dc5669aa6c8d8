package ml

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelInfo describes the loaded artifact.
type ModelInfo struct {
	Version      string             `json:"version"`
	Path         string             `json:"path"`
	Kind         string             `json:"kind"`
	CreatedAt    time.Time          `json:"created_at"`
	Features     []string           `json:"features"`
	CostModel    CostModel          `json:"cost_model"`
	TrainMetrics map[string]float64 `json:"train_metrics,omitempty"`
}

// ContextOptions tune a ModelContext.
type ContextOptions struct {
	IDColumn    string
	LabelColumn string
	// SerializeInference forces one in-flight inference call at a time even
	// for classifiers that declare themselves concurrency-safe.
	SerializeInference bool
	Metrics            MetricsInterface
}

// ModelContext is the process-wide, read-only serving state: the classifier,
// its explainer and the calibrated threshold. It is built once at startup and
// shared by pointer with every request handler.
type ModelContext struct {
	available   bool
	loadErr     string
	classifier  Classifier
	explainer   Explainer
	threshold   float64
	info        ModelInfo
	idColumn    string
	labelColumn string
	loadedAt    time.Time
	serialize   bool
	inferMu     sync.Mutex
	metrics     MetricsInterface
}

// NewModelContext wires a loaded classifier to its threshold. explainer may be
// nil, in which case attribution requests fail with a ComputationError.
func NewModelContext(clf Classifier, explainer Explainer, threshold float64, info ModelInfo, opts ContextOptions) (*ModelContext, error) {
	if clf == nil {
		return nil, fmt.Errorf("classifier is nil")
	}
	if threshold < 0 || threshold > 1 || threshold != threshold {
		return nil, fmt.Errorf("threshold %v outside [0,1]", threshold)
	}
	if len(clf.Features()) == 0 {
		return nil, fmt.Errorf("classifier declares no features")
	}

	serialize := opts.SerializeInference
	if cs, ok := clf.(ConcurrentSafe); !ok || !cs.ConcurrentSafe() {
		serialize = true
	}

	if len(info.Features) == 0 {
		info.Features = clf.Features()
	}

	mc := &ModelContext{
		available:   true,
		classifier:  clf,
		explainer:   explainer,
		threshold:   threshold,
		info:        info,
		idColumn:    orDefault(opts.IDColumn, DefaultIDColumn),
		labelColumn: orDefault(opts.LabelColumn, DefaultLabelColumn),
		loadedAt:    time.Now(),
		serialize:   serialize,
		metrics:     opts.Metrics,
	}

	log.Info().
		Str("version", info.Version).
		Str("kind", info.Kind).
		Float64("threshold", threshold).
		Int("features", len(clf.Features())).
		Bool("serialized_inference", serialize).
		Msg("model context ready")

	return mc, nil
}

// UnavailableModelContext records a failed load. Every scoring call on it
// fails fast with ModelUnavailableError.
func UnavailableModelContext(reason string, opts ContextOptions) *ModelContext {
	log.Warn().Str("reason", reason).Msg("model unavailable, scoring endpoints will return errors")
	return &ModelContext{
		available:   false,
		loadErr:     reason,
		idColumn:    orDefault(opts.IDColumn, DefaultIDColumn),
		labelColumn: orDefault(opts.LabelColumn, DefaultLabelColumn),
		loadedAt:    time.Now(),
		metrics:     opts.Metrics,
	}
}

// Available reports whether a model is loaded.
func (mc *ModelContext) Available() bool {
	return mc != nil && mc.available
}

// Threshold returns the calibrated decision threshold.
func (mc *ModelContext) Threshold() float64 {
	return mc.threshold
}

// Info returns a copy of the artifact description.
func (mc *ModelContext) Info() ModelInfo {
	info := mc.info
	info.Features = append([]string(nil), mc.info.Features...)
	return info
}

// IDColumn is the identifier column name expected in requests.
func (mc *ModelContext) IDColumn() string {
	return mc.idColumn
}

// LabelColumn is the target column stripped before attribution.
func (mc *ModelContext) LabelColumn() string {
	return mc.labelColumn
}

// HealthStatus is the serving health snapshot.
type HealthStatus struct {
	Healthy       bool      `json:"healthy"`
	ModelLoaded   bool      `json:"model_loaded"`
	ModelVersion  string    `json:"model_version,omitempty"`
	Threshold     float64   `json:"threshold"`
	LastError     string    `json:"last_error,omitempty"`
	LoadedAt      time.Time `json:"loaded_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// Health reports the load status of the context.
func (mc *ModelContext) Health() HealthStatus {
	if mc == nil {
		return HealthStatus{LastError: "no model context"}
	}
	return HealthStatus{
		Healthy:       mc.available,
		ModelLoaded:   mc.available,
		ModelVersion:  mc.info.Version,
		Threshold:     mc.threshold,
		LastError:     mc.loadErr,
		LoadedAt:      mc.loadedAt,
		UptimeSeconds: time.Since(mc.loadedAt).Seconds(),
	}
}

func (mc *ModelContext) checkAvailable() error {
	if !mc.Available() {
		reason := "no model loaded"
		if mc != nil && mc.loadErr != "" {
			reason = mc.loadErr
		}
		return ModelUnavailableError(reason)
	}
	return nil
}

// predictProba runs one batched inference call, serialised when required.
func (mc *ModelContext) predictProba(matrix [][]float64) ([][]float64, error) {
	if mc.serialize {
		mc.inferMu.Lock()
		defer mc.inferMu.Unlock()
	}
	return mc.classifier.PredictProba(matrix)
}

func (mc *ModelContext) explain(matrix [][]float64) ([][]float64, error) {
	if mc.serialize {
		mc.inferMu.Lock()
		defer mc.inferMu.Unlock()
	}
	return mc.explainer.Explain(matrix)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
