package model

import (
	"math"
)

// FeatureStats summarises one training column. Mean is the imputation value
// for missing inputs and the attribution baseline.
type FeatureStats struct {
	Name    string  `json:"name"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"`
	Missing int     `json:"missing"`
}

// ComputeStats computes per-column statistics over X, skipping NaN values.
// A constant or all-missing column gets Std 1 so standardisation is a no-op
// shift.
func ComputeStats(features []string, X [][]float64) []FeatureStats {
	stats := make([]FeatureStats, len(features))
	for j, name := range features {
		s := FeatureStats{Name: name, Min: math.Inf(1), Max: math.Inf(-1)}
		var sum float64
		for _, row := range X {
			v := row[j]
			if math.IsNaN(v) {
				s.Missing++
				continue
			}
			s.Count++
			sum += v
			s.Min = math.Min(s.Min, v)
			s.Max = math.Max(s.Max, v)
		}

		if s.Count == 0 {
			s.Min, s.Max = 0, 0
			s.Std = 1
			stats[j] = s
			continue
		}

		s.Mean = sum / float64(s.Count)
		var sq float64
		for _, row := range X {
			if v := row[j]; !math.IsNaN(v) {
				sq += (v - s.Mean) * (v - s.Mean)
			}
		}
		s.Std = math.Sqrt(sq / float64(s.Count))
		if s.Std == 0 || math.IsNaN(s.Std) {
			s.Std = 1
		}
		stats[j] = s
	}
	return stats
}

// standardize maps a raw row into z-space; NaN is imputed with the mean (z=0).
func standardize(stats []FeatureStats, row []float64) []float64 {
	z := make([]float64, len(stats))
	for j, s := range stats {
		v := row[j]
		if math.IsNaN(v) {
			continue
		}
		z[j] = (v - s.Mean) / s.Std
	}
	return z
}

// Baseline returns the per-feature means, in feature order.
func Baseline(stats []FeatureStats) []float64 {
	out := make([]float64, len(stats))
	for j, s := range stats {
		out[j] = s.Mean
	}
	return out
}
