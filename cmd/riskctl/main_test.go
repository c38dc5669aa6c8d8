package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-risk-api/internal/common"
	"credit-risk-api/internal/model"
	"credit-risk-api/internal/training"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(common.EnvConfigFile, "")
	t.Setenv(common.EnvModelDir, filepath.Join(dir, "models"))
	t.Setenv(common.EnvDataPath, filepath.Join(dir, "data"))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCalibrateCommand(t *testing.T) {
	dir := setupEnv(t)
	scores := writeFile(t, filepath.Join(dir, "scores.csv"), "label,probability\n0,0.1\n0,0.2\n1,0.6\n1,0.9\n")

	out, err := execute(t, "calibrate", scores)
	require.NoError(t, err)

	var cal training.Calibration
	require.NoError(t, json.Unmarshal([]byte(out), &cal))
	assert.InDelta(t, 0.21, cal.Threshold, 1e-9)
	assert.Equal(t, 0.0, cal.Score)
	assert.Equal(t, 4, cal.Samples)
	assert.Empty(t, cal.Scan)

	out, err = execute(t, "calibrate", "--scan", scores)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &cal))
	assert.Len(t, cal.Scan, 100)
}

func TestCalibrateCommand_Errors(t *testing.T) {
	dir := setupEnv(t)

	_, err := execute(t, "calibrate")
	assert.Error(t, err)

	_, err = execute(t, "calibrate", filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	bad := writeFile(t, filepath.Join(dir, "bad.csv"), "label,probability\n0,0.1\n")
	_, err = execute(t, "calibrate", "--cost-fn", "0", bad)
	assert.Error(t, err)
}

func TestScoreCommand(t *testing.T) {
	dir := setupEnv(t)
	th := 0.3
	path, err := model.SaveArtifact(filepath.Join(dir, "models"), &model.Artifact{
		Version:   "20240901_080000",
		CreatedAt: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC),
		Threshold: &th,
		Model: &model.LogisticModel{
			FeatureNames: []string{"ext_source_2", "days_birth"},
			Weights:      []float64{-1.2, 0.4},
			Intercept:    -2,
			Stats: []model.FeatureStats{
				{Name: "ext_source_2", Mean: 0.5, Std: 0.2},
				{Name: "days_birth", Mean: -16000, Std: 4000},
			},
		},
	})
	require.NoError(t, err)

	clients := writeFile(t, filepath.Join(dir, "clients.csv"),
		"sk_id_curr,ext_source_2,days_birth\n100001,0.5,-16000\n100002,0.1,-12000\n")

	// Discovered from the model dir.
	out, err := execute(t, "score", clients)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "client_id,probability,decision", lines[0])
	assert.Equal(t, "100001,0.1192,0", lines[1])
	assert.Equal(t, "100002,0.6900,1", lines[2])

	out, err = execute(t, "score", "--model", path, clients)
	require.NoError(t, err)
	assert.Contains(t, out, "100002,0.6900,1")
}

func TestScoreCommand_NoModel(t *testing.T) {
	dir := setupEnv(t)
	clients := writeFile(t, filepath.Join(dir, "clients.csv"), "sk_id_curr,ext_source_2\n1,0.5\n")

	_, err := execute(t, "score", clients)
	assert.Error(t, err)
}

func TestRunsCommand_Empty(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
}

func TestRollbackCommand(t *testing.T) {
	dir := setupEnv(t)
	reg, err := model.OpenRegistry(filepath.Join(dir, "models", model.RegistryFile))
	require.NoError(t, err)
	for i, v := range []string{"20240801_080000", "20240901_080000"} {
		require.NoError(t, reg.AddVersion(model.Version{
			Version:   v,
			Path:      model.ArtifactName(v),
			CreatedAt: time.Date(2024, time.Month(8+i), 1, 8, 0, 0, 0, time.UTC),
		}))
	}
	require.NoError(t, reg.Activate("20240901_080000"))

	out, err := execute(t, "rollback")
	require.NoError(t, err)
	assert.Contains(t, out, "20240801_080000")

	out, err = execute(t, "versions")
	require.NoError(t, err)
	assert.Contains(t, out, "20240801_080000")
	assert.Contains(t, out, "*")
}
