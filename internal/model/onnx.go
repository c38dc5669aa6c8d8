package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"credit-risk-api/internal/ml"
)

// KindONNX identifies ONNX artifacts.
const KindONNX = "onnx"

// ortEnv manages process-wide ONNX Runtime initialization.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXMetadata is the sidecar describing an exported classifier. It lives
// next to the model as <name>.meta.json.
type ONNXMetadata struct {
	Version    string             `json:"version"`
	CreatedAt  time.Time          `json:"created_at"`
	Features   []string           `json:"features"`
	Threshold  *float64           `json:"threshold,omitempty"`
	CostModel  ml.CostModel       `json:"cost_model"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Baseline   []float64          `json:"baseline,omitempty"`
	InputName  string             `json:"input_name,omitempty"`
	OutputName string             `json:"output_name,omitempty"`
}

// MetadataPath returns the sidecar path for an .onnx file.
func MetadataPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".meta.json"
}

// LoadONNXMetadata decodes and checks the sidecar of modelPath.
func LoadONNXMetadata(modelPath string) (*ONNXMetadata, error) {
	f, err := os.Open(MetadataPath(modelPath))
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()

	var md ONNXMetadata
	if err := json.NewDecoder(f).Decode(&md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(md.Features) == 0 {
		return nil, fmt.Errorf("metadata %s lists no features", MetadataPath(modelPath))
	}
	if md.Threshold != nil && (*md.Threshold < 0 || *md.Threshold > 1) {
		return nil, fmt.Errorf("metadata threshold %v outside [0,1]", *md.Threshold)
	}
	if md.Version == "" {
		md.Version = strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
	}
	return &md, nil
}

// ONNXClassifier runs a binary classifier exported to ONNX with a single
// float input [batch, features] and a probability output [batch, 2].
// Sessions are not shared across goroutines; the ModelContext serialises
// calls.
type ONNXClassifier struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	meta       ONNXMetadata
}

// LoadONNX opens modelPath. libPath is the onnxruntime shared library; when
// empty it is expected next to the model.
func LoadONNX(modelPath, libPath string) (*ONNXClassifier, error) {
	meta, err := LoadONNXMetadata(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	inputName, outputName, err := selectTensors(inputs, outputs, meta)
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(4)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &ONNXClassifier{
		session:    session,
		inputName:  inputName,
		outputName: outputName,
		meta:       *meta,
	}, nil
}

// selectTensors picks the model input and the [batch, 2] probability output,
// honouring names from the sidecar.
func selectTensors(inputs, outputs []ort.InputOutputInfo, meta *ONNXMetadata) (string, string, error) {
	if len(inputs) == 0 {
		return "", "", fmt.Errorf("onnx: model has no inputs")
	}
	inputName := inputs[0].Name
	if meta.InputName != "" {
		inputName = meta.InputName
	}

	for _, out := range outputs {
		if meta.OutputName != "" && out.Name != meta.OutputName {
			continue
		}
		dims := out.Dimensions
		if len(dims) == 2 && (dims[1] == 2 || dims[1] < 0) {
			return inputName, out.Name, nil
		}
		if meta.OutputName != "" {
			return "", "", fmt.Errorf("onnx: output %q has shape %v, expected [batch, 2]", out.Name, dims)
		}
	}
	return "", "", fmt.Errorf("onnx: no [batch, 2] probability output found")
}

func (c *ONNXClassifier) Features() []string { return c.meta.Features }

func (c *ONNXClassifier) ConcurrentSafe() bool { return false }

// Metadata returns the sidecar contents.
func (c *ONNXClassifier) Metadata() ONNXMetadata { return c.meta }

func (c *ONNXClassifier) PredictProba(rows [][]float64) ([][]float64, error) {
	if len(rows) == 0 {
		return [][]float64{}, nil
	}
	nFeatures := len(c.meta.Features)
	flat := make([]float32, 0, len(rows)*nFeatures)
	for i, row := range rows {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("row %d has %d values, model expects %d", i, len(row), nFeatures)
		}
		for _, v := range row {
			flat = append(flat, float32(v))
		}
	}

	batch := int64(len(rows))
	in, err := ort.NewTensor(ort.NewShape(batch, int64(nFeatures)), flat)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, 2))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := c.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	data := out.GetData()
	probas := make([][]float64, len(rows))
	for i := range probas {
		probas[i] = []float64{float64(data[2*i]), float64(data[2*i+1])}
	}
	return probas, nil
}

func (c *ONNXClassifier) Predict(rows [][]float64) ([]int, error) {
	probas, err := c.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probas))
	for i, p := range probas {
		out[i] = ml.Decide(p[1], 0.5)
	}
	return out, nil
}

// Close releases the session.
func (c *ONNXClassifier) Close() error {
	return c.session.Destroy()
}
