package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"

	"credit-risk-api/internal/ml"
)

// referenceRecord is a stored client row. JSON has no NaN, so missing values
// are stored as null.
type referenceRecord struct {
	ClientID string              `json:"client_id"`
	Label    int                 `json:"label"`
	Values   map[string]*float64 `json:"values"`
}

// ReferenceInfo describes the stored cohort.
type ReferenceInfo struct {
	Rows         int       `json:"rows"`
	Positives    int       `json:"positives"`
	ModelVersion string    `json:"model_version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const referenceInfoKey = "reference_info"

var _ ml.ReferenceCohortProvider = (*Store)(nil)

// ReplaceReference atomically swaps the reference cohort for rows, whose
// labels are given position by position.
func (s *Store) ReplaceReference(rows []ml.FeatureRow, labels []int, modelVersion string) error {
	if len(rows) != len(labels) {
		return fmt.Errorf("rows and labels differ in length: %d vs %d", len(rows), len(labels))
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(referenceBucket)); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("drop reference bucket: %w", err)
		}
		b, err := tx.CreateBucket([]byte(referenceBucket))
		if err != nil {
			return fmt.Errorf("create reference bucket: %w", err)
		}

		info := ReferenceInfo{Rows: len(rows), ModelVersion: modelVersion, UpdatedAt: time.Now().UTC()}
		for i, row := range rows {
			if labels[i] != 0 && labels[i] != 1 {
				return fmt.Errorf("client %s: label %d is not binary", row.ClientID, labels[i])
			}
			info.Positives += labels[i]

			rec := referenceRecord{ClientID: row.ClientID, Label: labels[i], Values: make(map[string]*float64, len(row.Values))}
			for k, v := range row.Values {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					rec.Values[k] = nil
					continue
				}
				rec.Values[k] = &v
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal reference row: %w", err)
			}
			if err := b.Put([]byte(row.ClientID), data); err != nil {
				return err
			}
		}

		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(referenceInfoKey), data)
	})
}

// ReferenceInfo returns the description of the stored cohort; the zero value
// when none was stored.
func (s *Store) ReferenceInfo() (ReferenceInfo, error) {
	var info ReferenceInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(metaBucket)).Get([]byte(referenceInfoKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &info)
	})
	return info, err
}

// Lookup returns the stored row of clientID, or an ml NotFound error.
func (s *Store) Lookup(clientID string) (ml.FeatureRow, error) {
	var row ml.FeatureRow
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(referenceBucket)).Get([]byte(clientID))
		if data == nil {
			return nil
		}
		rec, err := decodeReference(data)
		if err != nil {
			return err
		}
		row, found = rec.row(), true
		return nil
	})
	if err != nil {
		return ml.FeatureRow{}, fmt.Errorf("lookup client %s: %w", clientID, err)
	}
	if !found {
		return ml.FeatureRow{}, ml.NotFoundError(clientID)
	}
	return row, nil
}

// Cohort returns up to limit rows of the named cohort (positive, negative or
// all) in client id order. limit <= 0 means no limit.
func (s *Store) Cohort(name string, limit int) ([]ml.FeatureRow, error) {
	var want func(label int) bool
	switch name {
	case ml.CohortPositive:
		want = func(label int) bool { return label == 1 }
	case ml.CohortNegative:
		want = func(label int) bool { return label == 0 }
	case ml.CohortAll:
		want = func(int) bool { return true }
	default:
		return nil, ml.InvalidInputError("unknown cohort %q (want %s, %s or %s)", name, ml.CohortPositive, ml.CohortNegative, ml.CohortAll)
	}

	rows := []ml.FeatureRow{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(referenceBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(rows) >= limit {
				break
			}
			rec, err := decodeReference(v)
			if err != nil {
				continue // Skip malformed records
			}
			if want(rec.Label) {
				rows = append(rows, rec.row())
			}
		}
		return nil
	})
	return rows, err
}

func decodeReference(data []byte) (referenceRecord, error) {
	var rec referenceRecord
	err := json.Unmarshal(data, &rec)
	return rec, err
}

func (r referenceRecord) row() ml.FeatureRow {
	values := make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		if v == nil {
			values[k] = math.NaN()
			continue
		}
		values[k] = *v
	}
	return ml.FeatureRow{ClientID: r.ClientID, Values: values}
}
