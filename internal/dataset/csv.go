package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"credit-risk-api/internal/ml"
)

// Frame is a parsed numeric table: one identifier column, an optional binary
// label column and float feature columns.
type Frame struct {
	IDColumn    string
	LabelColumn string
	Features    []string
	IDs         []string
	Labels      []int // nil when the file has no label column
	X           [][]float64
}

// Len is the number of rows.
func (f *Frame) Len() int { return len(f.IDs) }

// HasLabels reports whether the label column was present.
func (f *Frame) HasLabels() bool { return f.Labels != nil }

// Rows converts the frame to scoring rows. The label is not included.
func (f *Frame) Rows() []ml.FeatureRow {
	rows := make([]ml.FeatureRow, f.Len())
	for i, id := range f.IDs {
		values := make(map[string]float64, len(f.Features))
		for j, name := range f.Features {
			values[name] = f.X[i][j]
		}
		rows[i] = ml.FeatureRow{ClientID: id, Values: values}
	}
	return rows
}

// Subset returns the rows at idx, in idx order. Row slices are shared.
func (f *Frame) Subset(idx []int) *Frame {
	out := &Frame{
		IDColumn:    f.IDColumn,
		LabelColumn: f.LabelColumn,
		Features:    f.Features,
		IDs:         make([]string, len(idx)),
		X:           make([][]float64, len(idx)),
	}
	if f.Labels != nil {
		out.Labels = make([]int, len(idx))
	}
	for k, i := range idx {
		out.IDs[k] = f.IDs[i]
		out.X[k] = f.X[i]
		if f.Labels != nil {
			out.Labels[k] = f.Labels[i]
		}
	}
	return out
}

// ParseCSV reads a header-first CSV. idColumn must be present; labelColumn is
// optional. Empty cells and NaN/NA markers become NaN; True/False become 1/0.
func ParseCSV(r io.Reader, idColumn, labelColumn string) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idIdx, labelIdx := -1, -1
	frame := &Frame{IDColumn: idColumn, LabelColumn: labelColumn}
	var featureIdx []int
	seen := make(map[string]bool, len(header))
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		if seen[col] {
			return nil, fmt.Errorf("duplicate column %q", col)
		}
		seen[col] = true

		switch {
		case col == idColumn:
			idIdx = i
		case labelColumn != "" && col == labelColumn:
			labelIdx = i
		case col == "":
			// pandas index column
		default:
			frame.Features = append(frame.Features, col)
			featureIdx = append(featureIdx, i)
		}
	}
	if idIdx == -1 {
		return nil, fmt.Errorf("identifier column %q not in header", idColumn)
	}
	if labelIdx != -1 {
		frame.Labels = []int{}
	}

	ids := make(map[string]int)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		id := strings.TrimSpace(record[idIdx])
		if id == "" {
			return nil, fmt.Errorf("line %d: empty identifier", line)
		}
		if f, err := strconv.ParseFloat(id, 64); err == nil && f == math.Trunc(f) {
			id = strconv.FormatInt(int64(f), 10)
		}
		if prev, dup := ids[id]; dup {
			return nil, fmt.Errorf("line %d: identifier %s duplicates line %d", line, id, prev)
		}
		ids[id] = line

		if labelIdx != -1 {
			v, err := parseCell(record[labelIdx])
			if err != nil || (v != 0 && v != 1) {
				return nil, fmt.Errorf("line %d: label %q is not 0 or 1", line, record[labelIdx])
			}
			frame.Labels = append(frame.Labels, int(v))
		}

		row := make([]float64, len(featureIdx))
		for j, idx := range featureIdx {
			v, err := parseCell(record[idx])
			if err != nil {
				return nil, fmt.Errorf("line %d: column %q: %w", line, frame.Features[j], err)
			}
			row[j] = v
		}
		frame.IDs = append(frame.IDs, id)
		frame.X = append(frame.X, row)
	}

	return frame, nil
}

func parseCell(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "nan", "na", "null", "none":
		return math.NaN(), nil
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", raw)
	}
	return v, nil
}
