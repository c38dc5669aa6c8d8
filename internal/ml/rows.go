package ml

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Default column names of the credit-risk dataset.
const (
	DefaultIDColumn    = "sk_id_curr"
	DefaultLabelColumn = "target"
)

// FeatureRow is one client's input: the identifier plus named numeric values.
// A NaN value means "present but missing"; an absent key means the column was
// not sent at all.
type FeatureRow struct {
	ClientID string
	Values   map[string]float64
}

// ScoredRow is the scoring result for one FeatureRow.
type ScoredRow struct {
	ClientID    string  `json:"client_id"`
	Probability float64 `json:"probability"`
	Decision    int     `json:"decision"`
}

// AttributionRow holds per-feature contributions for one row, aligned by
// position with Features.
type AttributionRow struct {
	ClientID      string    `json:"client_id"`
	Features      []string  `json:"features"`
	Contributions []float64 `json:"contributions"`
	Cohort        string    `json:"cohort,omitempty"`
}

// RowsFromRecords converts decoded JSON records into FeatureRows. Values must
// be numbers (json.Number or float64), booleans or null; null becomes NaN.
// The identifier may be a number or a string.
func RowsFromRecords(records []map[string]any, idColumn string) ([]FeatureRow, error) {
	rows := make([]FeatureRow, len(records))
	for i, rec := range records {
		raw, ok := rec[idColumn]
		if !ok || raw == nil {
			return nil, schemaError(i, "", idColumn, "row %d: missing identifier column %q", i, idColumn)
		}
		id, ok := identifierString(raw)
		if !ok || id == "" {
			return nil, schemaError(i, "", idColumn, "row %d: identifier column %q must be a number or a non-empty string", i, idColumn)
		}

		values := make(map[string]float64, len(rec))
		for col, v := range rec {
			if col == idColumn {
				continue
			}
			f, ok := numericValue(v)
			if !ok {
				return nil, schemaError(i, id, col, "row %d (client %s): column %q is not numeric", i, id, col)
			}
			values[col] = f
		}
		rows[i] = FeatureRow{ClientID: id, Values: values}
	}

	if err := validateRows(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// RecordsFromColumns turns a column-oriented table ({"col": [v0, v1, ...]})
// into records. All columns must have the same length.
func RecordsFromColumns(columns map[string][]any) ([]map[string]any, error) {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	n := -1
	for _, name := range names {
		if n == -1 {
			n = len(columns[name])
			continue
		}
		if len(columns[name]) != n {
			return nil, schemaError(-1, "", name, "column %q has %d values, expected %d", name, len(columns[name]), n)
		}
	}
	if n <= 0 {
		return []map[string]any{}, nil
	}

	records := make([]map[string]any, n)
	for i := range records {
		rec := make(map[string]any, len(names))
		for _, name := range names {
			rec[name] = columns[name][i]
		}
		records[i] = rec
	}
	return records, nil
}

// validateRows enforces the identifier invariants: present and unique.
func validateRows(rows []FeatureRow) error {
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		if row.ClientID == "" {
			return schemaError(i, "", "", "row %d: missing client identifier", i)
		}
		if prev, dup := seen[row.ClientID]; dup {
			return schemaError(i, row.ClientID, "", "row %d: client %s duplicates row %d", i, row.ClientID, prev)
		}
		seen[row.ClientID] = i
	}
	return nil
}

// buildMatrix lays rows out in feature order, failing on the first absent
// feature. Columns not in features (label, extras) are ignored.
func buildMatrix(rows []FeatureRow, features []string) ([][]float64, error) {
	matrix := make([][]float64, len(rows))
	for i, row := range rows {
		vec := make([]float64, len(features))
		for j, name := range features {
			v, ok := row.Values[name]
			if !ok {
				return nil, schemaError(i, row.ClientID, name, "client %s: missing feature %q", row.ClientID, name)
			}
			vec[j] = v
		}
		matrix[i] = vec
	}
	return matrix, nil
}

// withoutColumn returns names minus column, preserving order.
func withoutColumn(names []string, column string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != column {
			out = append(out, n)
		}
	}
	return out
}

func identifierString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return math.NaN(), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
