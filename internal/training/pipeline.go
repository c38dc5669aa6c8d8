// Package training retrains the credit-risk model: it fetches the cleaned
// dataset, fits and evaluates a model on a held-out split, calibrates the
// business threshold, and publishes the artifact, the tracked run and the
// reference cohort used for attribution.
package training

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"credit-risk-api/internal/common"
	"credit-risk-api/internal/dataset"
	"credit-risk-api/internal/metrics"
	"credit-risk-api/internal/ml"
	"credit-risk-api/internal/model"
	"credit-risk-api/internal/storage"
)

// Hyper-parameter names logged with every run.
const (
	ParamLearningRate = "learning_rate"
	ParamIterations   = "iterations"
	ParamL2           = "l2"
	ParamTestFraction = "test_fraction"
	ParamSeed         = "seed"
)

// Config describes one retraining job.
type Config struct {
	DatasetURL   string
	ModelDir     string
	ReportDir    string // empty skips the report
	IDColumn     string
	LabelColumn  string
	TestFraction float64
	Seed         int64
	Train        model.TrainOptions
	Cost         ml.CostModel
}

// Result summarises a finished run.
type Result struct {
	Version      string              `json:"version"`
	ArtifactPath string              `json:"artifact_path"`
	RunID        string              `json:"run_id,omitempty"`
	Features     []string            `json:"features"`
	TrainRows    int                 `json:"train_rows"`
	TestRows     int                 `json:"test_rows"`
	Evaluation   ml.Evaluation       `json:"evaluation"`
	Params       map[string]float64  `json:"params"`
	Scan         []ml.ThresholdPoint `json:"-"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Pipeline runs retraining jobs. store and m are optional.
type Pipeline struct {
	cfg      Config
	fetcher  *dataset.Fetcher
	registry *model.Registry
	store    *storage.Store
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewPipeline(cfg Config, fetcher *dataset.Fetcher, registry *model.Registry, store *storage.Store, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		fetcher:  fetcher,
		registry: registry,
		store:    store,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run fetches the configured dataset and trains on it. Any failing step
// aborts the run; failures are still tracked.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	started := p.now()

	log.Info().
		Str("dataset", p.cfg.DatasetURL).
		Str("model_dir", p.cfg.ModelDir).
		Msg("Starting model retraining")

	data, err := p.fetcher.Fetch(ctx, p.cfg.DatasetURL)
	if err != nil {
		return nil, p.fail(started, fmt.Errorf("fetch dataset: %w", err))
	}
	frame, err := dataset.ParseCSV(bytes.NewReader(data), p.cfg.IDColumn, p.cfg.LabelColumn)
	if err != nil {
		return nil, p.fail(started, fmt.Errorf("parse dataset: %w", err))
	}

	return p.run(ctx, frame, started)
}

// RunFrame trains on an already parsed frame.
func (p *Pipeline) RunFrame(ctx context.Context, frame *dataset.Frame) (*Result, error) {
	return p.run(ctx, frame, p.now())
}

func (p *Pipeline) run(ctx context.Context, frame *dataset.Frame, started time.Time) (*Result, error) {
	res, err := p.train(ctx, frame, started)
	if err != nil {
		return nil, p.fail(started, err)
	}
	return res, nil
}

func (p *Pipeline) train(ctx context.Context, frame *dataset.Frame, started time.Time) (*Result, error) {
	if !frame.HasLabels() {
		return nil, fmt.Errorf("dataset has no %q label column", p.cfg.LabelColumn)
	}

	train, test, err := dataset.Split(frame, p.cfg.TestFraction, p.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}
	log.Info().
		Int("rows", frame.Len()).
		Int("features", len(frame.Features)).
		Int("train", train.Len()).
		Int("test", test.Len()).
		Msg("Dataset split")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clf, err := model.FitLogistic(train.Features, train.X, train.Labels, p.cfg.Train)
	if err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proba, err := clf.PredictProba(test.X)
	if err != nil {
		return nil, fmt.Errorf("score held-out set: %w", err)
	}
	probs := make([]float64, len(proba))
	for i, pr := range proba {
		probs[i] = pr[1]
	}
	preds, err := clf.Predict(test.X)
	if err != nil {
		return nil, fmt.Errorf("predict held-out set: %w", err)
	}

	eval, err := ml.Evaluate(test.Labels, preds, probs, p.cfg.Cost)
	if err != nil {
		return nil, fmt.Errorf("evaluate model: %w", err)
	}
	scan, err := ml.ScanThresholds(test.Labels, probs, p.cfg.Cost)
	if err != nil {
		return nil, fmt.Errorf("scan thresholds: %w", err)
	}

	log.Info().
		Float64("auc", eval.AUC).
		Float64("accuracy", eval.Accuracy).
		Float64("recall", eval.Recall).
		Float64("f1", eval.F1).
		Float64("business_score", eval.BusinessScore).
		Float64("threshold", eval.Threshold).
		Msg("Model evaluated")

	version := model.NewVersion(started)
	threshold := eval.Threshold
	path, err := model.SaveArtifact(p.cfg.ModelDir, &model.Artifact{
		Version:   version,
		Kind:      model.KindLogistic,
		CreatedAt: started,
		Threshold: &threshold,
		CostModel: p.cfg.Cost,
		Metrics:   eval.Metrics(),
		Model:     clf,
	})
	if err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}

	params := p.params(eval.Threshold)
	if p.registry != nil {
		err := p.registry.AddVersion(model.Version{
			Version:   version,
			Path:      filepath.Base(path),
			Kind:      model.KindLogistic,
			CreatedAt: started,
			Metrics:   eval.Metrics(),
			Params:    params,
		})
		if err != nil {
			return nil, fmt.Errorf("register version: %w", err)
		}
		if err := p.registry.Activate(version); err != nil {
			return nil, fmt.Errorf("activate version: %w", err)
		}
	}

	res := &Result{
		Version:      version,
		ArtifactPath: path,
		Features:     clf.Features(),
		TrainRows:    train.Len(),
		TestRows:     test.Len(),
		Evaluation:   eval,
		Params:       params,
		Scan:         scan,
		StartedAt:    started,
		FinishedAt:   p.now(),
	}

	if p.store != nil {
		res.RunID, err = p.store.LogRun(storage.Run{
			Experiment:   common.ExperimentName,
			Name:         common.RunNamePrefix + version,
			Status:       storage.RunFinished,
			StartedAt:    started,
			FinishedAt:   res.FinishedAt,
			ModelVersion: version,
			Metrics:      eval.Metrics(),
			Params:       params,
		})
		if err != nil {
			return nil, fmt.Errorf("log run: %w", err)
		}
		if err := p.store.ReplaceReference(test.Rows(), test.Labels, version); err != nil {
			return nil, fmt.Errorf("store reference cohort: %w", err)
		}
	}

	if p.metrics != nil {
		p.metrics.ObserveTraining(storage.RunFinished, eval.AUC, eval.BusinessScore)
	}

	if p.cfg.ReportDir != "" {
		if err := NewReporter(res, p.cfg.ReportDir).GenerateReport(); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
	}

	log.Info().
		Str("version", version).
		Str("run_id", res.RunID).
		Dur("took", res.FinishedAt.Sub(started)).
		Msg("Model retraining finished")

	return res, nil
}

func (p *Pipeline) params(threshold float64) map[string]float64 {
	return map[string]float64{
		ml.ParamThreshold: threshold,
		ParamLearningRate: p.cfg.Train.LearningRate,
		ParamIterations:   float64(p.cfg.Train.Iterations),
		ParamL2:           p.cfg.Train.L2,
		ParamTestFraction: p.cfg.TestFraction,
		ParamSeed:         float64(p.cfg.Seed),
	}
}

// fail tracks a failed run and returns err unchanged.
func (p *Pipeline) fail(started time.Time, err error) error {
	log.Error().Err(err).Msg("Model retraining failed")

	if p.metrics != nil {
		p.metrics.ObserveTraining(storage.RunFailed, 0, 0)
	}
	if p.store != nil {
		_, logErr := p.store.LogRun(storage.Run{
			Experiment: common.ExperimentName,
			Name:       common.RunNamePrefix + model.NewVersion(started),
			Status:     storage.RunFailed,
			StartedAt:  started,
			FinishedAt: p.now(),
			Error:      err.Error(),
		})
		if logErr != nil {
			log.Warn().Err(logErr).Msg("failed to track failed run")
		}
	}
	return err
}
