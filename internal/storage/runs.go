package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// Run is one tracked training run: the metrics and parameters it produced
// and the model version it registered.
type Run struct {
	ID           string             `json:"id"`
	Experiment   string             `json:"experiment"`
	Name         string             `json:"name"`
	Status       string             `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	ModelVersion string             `json:"model_version,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Params       map[string]float64 `json:"params,omitempty"`
	Tags         map[string]string  `json:"tags,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Run statuses.
const (
	RunFinished = "FINISHED"
	RunFailed   = "FAILED"
)

// LogRun stores run, assigning an id when it has none, and returns the id.
func (s *Store) LogRun(run Run) (string, error) {
	if run.Experiment == "" {
		return "", fmt.Errorf("run has no experiment name")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		return b.Put([]byte(run.ID), data)
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// GetRun returns the run with id.
func (s *Store) GetRun(id string) (Run, error) {
	var run Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s not found", id)
		}
		return json.Unmarshal(data, &run)
	})
	return run, err
}

// ListRuns returns the runs of experiment, newest first. An empty
// experiment lists every run.
func (s *Store) ListRuns(experiment string) ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(_, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return nil // Skip malformed records
			}
			if experiment == "" || run.Experiment == experiment {
				runs = append(runs, run)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}
