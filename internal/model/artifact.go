package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"credit-risk-api/internal/ml"
)

// VersionLayout formats artifact versions; versions sort chronologically.
const VersionLayout = "20060102_150405"

// Artifact is the on-disk form of a trained native model, together with the
// threshold calibrated for it.
type Artifact struct {
	Version   string             `json:"version"`
	Kind      string             `json:"kind"`
	CreatedAt time.Time          `json:"created_at"`
	Threshold *float64           `json:"threshold,omitempty"`
	CostModel ml.CostModel       `json:"cost_model"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Model     *LogisticModel     `json:"model"`
}

// NewVersion derives a version string from t.
func NewVersion(t time.Time) string {
	return t.UTC().Format(VersionLayout)
}

// ArtifactName is the file name of a native artifact version.
func ArtifactName(version string) string {
	return "model_" + version + ".json"
}

// SaveArtifact writes a into dir and returns the file path. The write goes
// through a temp file so a crashed save never leaves a half artifact.
func SaveArtifact(dir string, a *Artifact) (string, error) {
	if a.Model == nil {
		return "", fmt.Errorf("artifact %s has no model", a.Version)
	}
	if err := a.Model.Validate(); err != nil {
		return "", fmt.Errorf("artifact %s: %w", a.Version, err)
	}
	if a.Kind == "" {
		a.Kind = KindLogistic
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}

	path := filepath.Join(dir, ArtifactName(a.Version))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename artifact: %w", err)
	}

	log.Info().Str("path", path).Str("version", a.Version).Msg("model artifact saved")
	return path, nil
}

// LoadArtifact reads and validates a native artifact.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if a.Kind != "" && a.Kind != KindLogistic {
		return nil, fmt.Errorf("artifact %s has unsupported kind %q", path, a.Kind)
	}
	if a.Model == nil {
		return nil, fmt.Errorf("artifact %s has no model", path)
	}
	if err := a.Model.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	if a.Threshold != nil && (*a.Threshold < 0 || *a.Threshold > 1) {
		return nil, fmt.Errorf("artifact %s: threshold %v outside [0,1]", path, *a.Threshold)
	}
	return &a, nil
}

// Discover returns the newest model in dir: native artifacts are ordered by
// their version timestamp, .onnx files by modification time.
func Discover(dir string) (string, error) {
	type candidate struct {
		path string
		at   time.Time
	}
	var candidates []candidate

	native, err := filepath.Glob(filepath.Join(dir, "model_*.json"))
	if err != nil {
		return "", err
	}
	for _, p := range native {
		if at, ok := versionTime(p); ok {
			candidates = append(candidates, candidate{p, at})
		}
	}

	onnx, err := filepath.Glob(filepath.Join(dir, "*.onnx"))
	if err != nil {
		return "", err
	}
	for _, p := range onnx {
		if fi, err := os.Stat(p); err == nil {
			candidates = append(candidates, candidate{p, fi.ModTime().UTC()})
		}
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("no model artifact found in %s", dir)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].at.Equal(candidates[j].at) {
			return candidates[i].path < candidates[j].path
		}
		return candidates[i].at.Before(candidates[j].at)
	})
	return candidates[len(candidates)-1].path, nil
}

// versionTime parses the timestamp out of model_<version>.json.
func versionTime(path string) (time.Time, bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "model_"), ".json")
	at, err := time.Parse(VersionLayout, name)
	return at, err == nil
}
