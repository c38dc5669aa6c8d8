package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"credit-risk-api/internal/ml"
)

// Calibration is the outcome of calibrating a threshold on scored labels.
type Calibration struct {
	Threshold float64             `json:"optimal_threshold"`
	Score     float64             `json:"business_score"`
	Samples   int                 `json:"samples"`
	Scan      []ml.ThresholdPoint `json:"scan,omitempty"`
}

// ReadScores parses a CSV with "label" and "probability" columns, in any
// order, other columns ignored.
func ReadScores(r io.Reader) (labels []int, probs []float64, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	labelIdx, probIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "label", "target", "y_true":
			labelIdx = i
		case "probability", "proba", "y_proba":
			probIdx = i
		}
	}
	if labelIdx < 0 || probIdx < 0 {
		return nil, nil, fmt.Errorf("header must name a label and a probability column, got %v", header)
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		if labelIdx >= len(record) || probIdx >= len(record) {
			return nil, nil, fmt.Errorf("line %d: expected at least %d fields", line, max(labelIdx, probIdx)+1)
		}
		label, err := strconv.Atoi(strings.TrimSpace(record[labelIdx]))
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: label: %w", line, err)
		}
		prob, err := strconv.ParseFloat(strings.TrimSpace(record[probIdx]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: probability: %w", line, err)
		}
		labels = append(labels, label)
		probs = append(probs, prob)
	}
	return labels, probs, nil
}

// Calibrate finds the cost-minimising threshold for scored labels.
func Calibrate(labels []int, probs []float64, cost ml.CostModel) (Calibration, error) {
	threshold, score, err := ml.FindOptimalThreshold(labels, probs, cost)
	if err != nil {
		return Calibration{}, err
	}
	scan, err := ml.ScanThresholds(labels, probs, cost)
	if err != nil {
		return Calibration{}, err
	}
	return Calibration{Threshold: threshold, Score: score, Samples: len(labels), Scan: scan}, nil
}
