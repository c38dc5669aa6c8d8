package ml

import (
	"fmt"
	"math"
)

// Cohort tags used in attribution responses.
const (
	CohortClient   = "client"
	CohortPositive = "positive"
	CohortNegative = "negative"
	CohortAll      = "all"
)

// ReferenceCohortProvider serves the reference population used to compare a
// client's attribution profile. Caching and refresh are the provider's
// concern.
type ReferenceCohortProvider interface {
	// Lookup returns the stored row of clientID or a NotFoundError.
	Lookup(clientID string) (FeatureRow, error)
	// Cohort returns up to limit rows of the named cohort.
	Cohort(name string, limit int) ([]FeatureRow, error)
}

// Explain computes attributions for rows and, when reference is non-empty,
// for the reference rows too. Client rows come first and are tagged
// CohortClient; reference rows follow, tagged with referenceName. Without a
// reference the cohort tag is left empty.
func (mc *ModelContext) Explain(rows []FeatureRow, reference []FeatureRow, referenceName string) ([]AttributionRow, error) {
	if err := mc.checkAvailable(); err != nil {
		mc.recordError(err)
		return nil, err
	}
	if len(rows) == 0 {
		return []AttributionRow{}, nil
	}
	if err := validateRows(rows); err != nil {
		mc.recordError(err)
		return nil, err
	}
	if mc.explainer == nil {
		err := computationError(nil, "model %s has no attribution capability", mc.info.Version)
		mc.recordError(err)
		return nil, err
	}

	features := withoutColumn(mc.classifier.Features(), mc.labelColumn)

	clientTag := ""
	if len(reference) > 0 {
		clientTag = CohortClient
		if referenceName == "" {
			referenceName = CohortPositive
		}
	}

	out, err := mc.attribute(rows, features, clientTag)
	if err != nil {
		mc.recordError(err)
		return nil, err
	}
	if len(reference) > 0 {
		ref, err := mc.attribute(reference, features, referenceName)
		if err != nil {
			mc.recordError(err)
			return nil, err
		}
		out = append(out, ref...)
	}

	if mc.metrics != nil {
		mc.metrics.AttributionRowsAdd(len(out))
	}
	return out, nil
}

// ExplainClient explains a single client found in the reference data,
// optionally alongside a reference cohort of up to limit rows.
func (mc *ModelContext) ExplainClient(clientID string, provider ReferenceCohortProvider, cohort string, limit int) ([]AttributionRow, error) {
	if err := mc.checkAvailable(); err != nil {
		mc.recordError(err)
		return nil, err
	}
	if provider == nil {
		err := computationError(nil, "no reference data configured")
		mc.recordError(err)
		return nil, err
	}

	row, err := provider.Lookup(clientID)
	if err != nil {
		mc.recordError(err)
		return nil, err
	}

	var reference []FeatureRow
	if cohort != "" {
		reference, err = provider.Cohort(cohort, limit)
		if err != nil {
			mc.recordError(err)
			return nil, err
		}
	}
	return mc.Explain([]FeatureRow{row}, reference, cohort)
}

func (mc *ModelContext) attribute(rows []FeatureRow, features []string, cohort string) ([]AttributionRow, error) {
	stripped := stripColumn(rows, mc.labelColumn)

	matrix, err := buildMatrix(stripped, features)
	if err != nil {
		return nil, err
	}

	modelFeatures := len(mc.classifier.Features())
	if len(features) != modelFeatures {
		return nil, computationError(nil, "incompatible feature set: model expects %d features, %d remain after removing %q", modelFeatures, len(features), mc.labelColumn)
	}

	contribs, err := mc.explain(matrix)
	if err != nil {
		return nil, computationError(err, "attribution failed")
	}
	if len(contribs) != len(rows) {
		return nil, computationError(nil, "explainer returned %d rows for %d inputs", len(contribs), len(rows))
	}

	out := make([]AttributionRow, len(rows))
	for i, c := range contribs {
		if len(c) != len(features) {
			return nil, computationError(nil, "explainer returned %d contributions for %d features", len(c), len(features))
		}
		for _, v := range c {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, computationError(fmt.Errorf("non-finite contribution %v", v), "attribution failed for client %s", rows[i].ClientID)
			}
		}
		out[i] = AttributionRow{
			ClientID:      rows[i].ClientID,
			Features:      append([]string(nil), features...),
			Contributions: c,
			Cohort:        cohort,
		}
	}
	return out, nil
}

func stripColumn(rows []FeatureRow, column string) []FeatureRow {
	out := make([]FeatureRow, len(rows))
	for i, row := range rows {
		values := make(map[string]float64, len(row.Values))
		for k, v := range row.Values {
			if k != column {
				values[k] = v
			}
		}
		out[i] = FeatureRow{ClientID: row.ClientID, Values: values}
	}
	return out
}
