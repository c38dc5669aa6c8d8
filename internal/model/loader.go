package model

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"credit-risk-api/internal/ml"
)

// LoadOptions control how an artifact becomes a serving model.
type LoadOptions struct {
	// FallbackThreshold is used only for artifacts that carry no calibrated
	// threshold. Negative disables it, making such artifacts unloadable.
	FallbackThreshold float64
	ONNXLibraryPath   string
	// Occlusion forces model-agnostic attribution even for models that can
	// explain themselves.
	Occlusion bool
}

// Loaded is a model ready to be wrapped in an ml.ModelContext.
type Loaded struct {
	Classifier ml.Classifier
	Explainer  ml.Explainer
	Threshold  float64
	Info       ml.ModelInfo
	close      func() error
}

// Close releases native resources, if any.
func (l *Loaded) Close() error {
	if l == nil || l.close == nil {
		return nil
	}
	return l.close()
}

// Resolve picks the artifact to serve: the registry's active version when
// there is one, else the newest artifact in dir.
func Resolve(dir string, reg *Registry) (string, error) {
	if reg != nil {
		if v, ok := reg.Current(); ok {
			path := v.Path
			if !filepath.IsAbs(path) && !fileExists(path) {
				path = filepath.Join(dir, filepath.Base(path))
			}
			if fileExists(path) {
				return path, nil
			}
			log.Warn().Str("version", v.Version).Str("path", v.Path).Msg("active version missing on disk, discovering newest artifact")
		}
	}
	return Discover(dir)
}

// Load reads the artifact at path, dispatching on its extension.
func Load(path string, opts LoadOptions) (*Loaded, error) {
	if strings.EqualFold(filepath.Ext(path), ".onnx") {
		return loadONNX(path, opts)
	}
	return loadNative(path, opts)
}

func loadNative(path string, opts LoadOptions) (*Loaded, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	threshold, err := resolveThreshold(a.Threshold, opts, path)
	if err != nil {
		return nil, err
	}

	var explainer ml.Explainer = a.Model
	if opts.Occlusion {
		if explainer, err = NewOcclusionExplainer(a.Model, Baseline(a.Model.Stats)); err != nil {
			return nil, err
		}
	}

	return &Loaded{
		Classifier: a.Model,
		Explainer:  explainer,
		Threshold:  threshold,
		Info: ml.ModelInfo{
			Version:      a.Version,
			Path:         path,
			Kind:         KindLogistic,
			CreatedAt:    a.CreatedAt,
			Features:     a.Model.Features(),
			CostModel:    a.CostModel,
			TrainMetrics: a.Metrics,
		},
	}, nil
}

func loadONNX(path string, opts LoadOptions) (*Loaded, error) {
	clf, err := LoadONNX(path, opts.ONNXLibraryPath)
	if err != nil {
		return nil, err
	}
	meta := clf.Metadata()
	threshold, err := resolveThreshold(meta.Threshold, opts, path)
	if err != nil {
		clf.Close()
		return nil, err
	}

	baseline := meta.Baseline
	if len(baseline) != len(meta.Features) {
		// Occlude to "missing", which tree exports handle natively.
		baseline = make([]float64, len(meta.Features))
		for i := range baseline {
			baseline[i] = math.NaN()
		}
	}
	explainer, err := NewOcclusionExplainer(clf, baseline)
	if err != nil {
		clf.Close()
		return nil, err
	}

	return &Loaded{
		Classifier: clf,
		Explainer:  explainer,
		Threshold:  threshold,
		Info: ml.ModelInfo{
			Version:      meta.Version,
			Path:         path,
			Kind:         KindONNX,
			CreatedAt:    meta.CreatedAt,
			Features:     meta.Features,
			CostModel:    meta.CostModel,
			TrainMetrics: meta.Metrics,
		},
		close: clf.Close,
	}, nil
}

func resolveThreshold(stored *float64, opts LoadOptions, path string) (float64, error) {
	if stored != nil {
		return *stored, nil
	}
	if opts.FallbackThreshold < 0 || opts.FallbackThreshold > 1 {
		return 0, fmt.Errorf("artifact %s carries no calibrated threshold and no fallback is configured", path)
	}
	log.Warn().Str("path", path).Float64("threshold", opts.FallbackThreshold).Msg("artifact has no calibrated threshold, using configured fallback")
	return opts.FallbackThreshold, nil
}

// NewContext resolves, loads and wraps the serving model. Any failure yields
// an unavailable context so the service can still start and report health.
func NewContext(dir string, reg *Registry, opts LoadOptions, ctxOpts ml.ContextOptions) (*ml.ModelContext, *Loaded) {
	start := time.Now()
	path, err := Resolve(dir, reg)
	if err != nil {
		return ml.UnavailableModelContext(err.Error(), ctxOpts), nil
	}
	loaded, err := Load(path, opts)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to load model")
		return ml.UnavailableModelContext(err.Error(), ctxOpts), nil
	}
	mc, err := ml.NewModelContext(loaded.Classifier, loaded.Explainer, loaded.Threshold, loaded.Info, ctxOpts)
	if err != nil {
		loaded.Close()
		return ml.UnavailableModelContext(err.Error(), ctxOpts), nil
	}
	log.Info().Str("path", path).Dur("took", time.Since(start)).Msg("model loaded")
	return mc, loaded
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
