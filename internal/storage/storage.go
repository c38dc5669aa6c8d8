// Package storage provides persistent data storage for the credit-risk service.
// It uses BoltDB as the underlying storage engine to keep the experiment runs
// logged by the training pipeline and the reference cohort used to compare a
// client's attribution profile.
//
// Values are JSON documents; every operation runs in its own transaction and
// is safe for concurrent use.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// DBFile is the database file name inside the data directory.
const DBFile = "credit-risk.db"

const (
	runsBucket      = "runs"      // Bucket name for experiment runs keyed by run id
	referenceBucket = "reference" // Bucket name for reference rows keyed by client id
	metaBucket      = "meta"      // Bucket name for small bookkeeping values
)

// Store provides persistent storage using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New opens (or creates) the database under dataPath and makes sure every
// bucket exists.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{runsBucket, referenceBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
