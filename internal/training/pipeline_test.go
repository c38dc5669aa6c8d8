package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-risk-api/internal/common"
	"credit-risk-api/internal/dataset"
	"credit-risk-api/internal/metrics"
	"credit-risk-api/internal/ml"
	"credit-risk-api/internal/model"
	"credit-risk-api/internal/storage"
)

// syntheticFrame builds a labelled frame where ext_source_2 drives the default.
func syntheticFrame(n int, seed int64) *dataset.Frame {
	rng := rand.New(rand.NewSource(seed))
	f := &dataset.Frame{
		IDColumn:    ml.DefaultIDColumn,
		LabelColumn: ml.DefaultLabelColumn,
		Features:    []string{"ext_source_2", "amt_annuity", "days_birth"},
		IDs:         make([]string, n),
		Labels:      make([]int, n),
		X:           make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		signal := rng.NormFloat64()
		annuity := 24000 + 6000*rng.NormFloat64()
		if rng.Intn(12) == 0 {
			annuity = math.NaN()
		}
		f.IDs[i] = fmt.Sprintf("%d", 100002+i)
		f.X[i] = []float64{signal, annuity, -12000 - 3000*rng.NormFloat64()}
		if signal+0.4*rng.NormFloat64() > 0.4 {
			f.Labels[i] = 1
		}
	}
	return f
}

func frameCSV(f *dataset.Frame) string {
	var b strings.Builder
	b.WriteString(f.IDColumn + "," + strings.Join(f.Features, ",") + "," + f.LabelColumn + "\n")
	for i, id := range f.IDs {
		b.WriteString(id)
		for _, v := range f.X[i] {
			if math.IsNaN(v) {
				b.WriteString(",")
				continue
			}
			fmt.Fprintf(&b, ",%g", v)
		}
		fmt.Fprintf(&b, ",%d\n", f.Labels[i])
	}
	return b.String()
}

type fixture struct {
	cfg      Config
	registry *model.Registry
	store    *storage.Store
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "models")

	registry, err := model.OpenRegistry(filepath.Join(modelDir, model.RegistryFile))
	require.NoError(t, err)
	store, err := storage.New(filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := model.DefaultTrainOptions()
	opts.Iterations = 300

	return &fixture{
		cfg: Config{
			ModelDir:     modelDir,
			ReportDir:    filepath.Join(dir, "report"),
			IDColumn:     ml.DefaultIDColumn,
			LabelColumn:  ml.DefaultLabelColumn,
			TestFraction: dataset.DefaultTestFraction,
			Seed:         dataset.DefaultSeed,
			Train:        opts,
			Cost:         ml.DefaultCostModel,
		},
		registry: registry,
		store:    store,
		metrics:  metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
}

func (fx *fixture) pipeline(at time.Time) *Pipeline {
	p := NewPipeline(fx.cfg, dataset.NewFetcher(5*time.Second), fx.registry, fx.store, fx.metrics)
	p.now = func() time.Time { return at }
	return p
}

func TestPipeline_RunFrame(t *testing.T) {
	fx := newFixture(t)
	at := time.Date(2024, 9, 1, 8, 30, 0, 0, time.UTC)
	frame := syntheticFrame(300, 7)

	res, err := fx.pipeline(at).RunFrame(context.Background(), frame)
	require.NoError(t, err)

	assert.Equal(t, "20240901_083000", res.Version)
	assert.Equal(t, 60, res.TestRows)
	assert.Equal(t, 240, res.TrainRows)
	assert.Equal(t, frame.Features, res.Features)
	assert.Greater(t, res.Evaluation.AUC, 0.8)
	assert.GreaterOrEqual(t, res.Evaluation.Threshold, 0.0)
	assert.Less(t, res.Evaluation.Threshold, 1.0)
	assert.Len(t, res.Scan, 100)
	assert.Equal(t, res.Evaluation.Threshold, res.Params[ml.ParamThreshold])

	// The artifact carries the calibrated threshold and serves with it.
	loaded, err := model.Load(res.ArtifactPath, model.LoadOptions{FallbackThreshold: -1})
	require.NoError(t, err)
	assert.Equal(t, res.Evaluation.Threshold, loaded.Threshold)
	assert.Equal(t, res.Version, loaded.Info.Version)

	current, ok := fx.registry.Current()
	require.True(t, ok)
	assert.Equal(t, res.Version, current.Version)
	resolved, err := model.Resolve(fx.cfg.ModelDir, fx.registry)
	require.NoError(t, err)
	assert.Equal(t, res.ArtifactPath, resolved)

	runs, err := fx.store.ListRuns(common.ExperimentName)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, "Model_Retraining_20240901_083000", runs[0].Name)
	assert.Equal(t, storage.RunFinished, runs[0].Status)
	assert.Equal(t, res.Evaluation.BusinessScore, runs[0].Metrics[ml.MetricBusinessScore])
	assert.Equal(t, float64(fx.cfg.Train.Iterations), runs[0].Params[ParamIterations])

	info, err := fx.store.ReferenceInfo()
	require.NoError(t, err)
	assert.Equal(t, res.TestRows, info.Rows)
	assert.Equal(t, res.Version, info.ModelVersion)

	for _, name := range []string{SummaryFile, MetricsFile, ThresholdScanFile} {
		_, err := os.Stat(filepath.Join(fx.cfg.ReportDir, name))
		assert.NoError(t, err, name)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.TrainingRuns.WithLabelValues(storage.RunFinished)))
	assert.Equal(t, res.Evaluation.BusinessScore, testutil.ToFloat64(fx.metrics.LastBusinessScore))
}

func TestPipeline_RunFetchesDataset(t *testing.T) {
	body := frameCSV(syntheticFrame(200, 3))
	var gotDL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDL = r.URL.Query().Get("dl")
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(body))
	}))
	defer server.Close()

	fx := newFixture(t)
	fx.cfg.DatasetURL = server.URL + "/df_cleaned.csv?dl=0"
	fx.cfg.ReportDir = ""

	res, err := fx.pipeline(time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", gotDL, "share links are fetched as direct downloads")
	assert.Equal(t, 40, res.TestRows)

	_, err = os.Stat(filepath.Join(fx.cfg.ModelDir, model.ArtifactName(res.Version)))
	assert.NoError(t, err)
}

func TestPipeline_FailuresAreTracked(t *testing.T) {
	fx := newFixture(t)
	at := time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)

	unlabelled := syntheticFrame(50, 1)
	unlabelled.Labels = nil

	_, err := fx.pipeline(at).RunFrame(context.Background(), unlabelled)
	require.Error(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()
	fx.cfg.DatasetURL = server.URL
	_, err = fx.pipeline(at.Add(time.Minute)).Run(context.Background())
	require.Error(t, err)

	runs, err := fx.store.ListRuns(common.ExperimentName)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, storage.RunFailed, run.Status)
		assert.NotEmpty(t, run.Error)
	}

	_, ok := fx.registry.Current()
	assert.False(t, ok, "failed runs register nothing")
	assert.Equal(t, 2.0, testutil.ToFloat64(fx.metrics.TrainingRuns.WithLabelValues(storage.RunFailed)))
}

func TestPipeline_CancelledContext(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.pipeline(time.Now().UTC()).RunFrame(ctx, syntheticFrame(100, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_WithoutStore(t *testing.T) {
	fx := newFixture(t)
	p := NewPipeline(fx.cfg, nil, nil, nil, nil)
	p.now = func() time.Time { return time.Date(2024, 9, 4, 0, 0, 0, 0, time.UTC) }

	res, err := p.RunFrame(context.Background(), syntheticFrame(150, 5))
	require.NoError(t, err)
	assert.Empty(t, res.RunID)

	_, err = model.Discover(fx.cfg.ModelDir)
	assert.NoError(t, err)
}
