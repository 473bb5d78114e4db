// Package store keeps the ingestion catalog: runs, per-document outcomes
// and the schema/config fingerprint of the persisted index.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"kbrag/internal/domain"
)

var (
	bucketRuns     = []byte("runs")
	bucketRunDocs  = []byte("run_docs")
	bucketMeta     = []byte("meta")
	keyLastRun     = []byte("last_run")
	keyLastStarted = []byte("last_started")
)

// BoltCatalog implements port.Catalog on a bbolt database.
type BoltCatalog struct {
	db *bbolt.DB
}

// NewBoltCatalog opens or creates the catalog at path.
func NewBoltCatalog(path string) (*BoltCatalog, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketRunDocs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCatalog{db: db}, nil
}

// BeginRun records a run that has started.
func (s *BoltCatalog) BeginRun(run domain.IngestRun) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketRuns), []byte(run.ID), run); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyLastStarted, []byte(run.ID))
	})
}

// PutDocumentStatuses appends document outcomes to a run.
func (s *BoltCatalog) PutDocumentStatuses(runID string, statuses []domain.DocumentStatus) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRuns).Get([]byte(runID)) == nil {
			return fmt.Errorf("run not found: %s", runID)
		}
		b, err := tx.Bucket(bucketRunDocs).CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return err
		}
		for _, st := range statuses {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := putJSON(b, sequenceKey(seq), st); err != nil {
				return err
			}
		}
		return nil
	})
}

// FinishRun stores the final run summary. A run without an error becomes
// the last run.
func (s *BoltCatalog) FinishRun(run domain.IngestRun) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketRuns), []byte(run.ID), run); err != nil {
			return err
		}
		if run.Error != "" {
			return nil
		}
		return tx.Bucket(bucketMeta).Put(keyLastRun, []byte(run.ID))
	})
}

// LastRun returns the last successfully finished run, or nil when there
// is none.
func (s *BoltCatalog) LastRun() (*domain.IngestRun, error) {
	var run *domain.IngestRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketMeta).Get(keyLastRun)
		if id == nil {
			return nil
		}
		data := tx.Bucket(bucketRuns).Get(id)
		if data == nil {
			return fmt.Errorf("run not found: %s", id)
		}
		run = &domain.IngestRun{}
		return json.Unmarshal(data, run)
	})
	return run, err
}

// Runs returns every recorded run, newest first.
func (s *BoltCatalog) Runs() ([]domain.IngestRun, error) {
	var runs []domain.IngestRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run domain.IngestRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt > runs[j].StartedAt
	})
	return runs, err
}

// DocumentStatuses returns the document outcomes of a run in insertion order.
func (s *BoltCatalog) DocumentStatuses(runID string) ([]domain.DocumentStatus, error) {
	var statuses []domain.DocumentStatus
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRunDocs).Bucket([]byte(runID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var st domain.DocumentStatus
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			statuses = append(statuses, st)
			return nil
		})
	})
	return statuses, err
}

// Close closes the database.
func (s *BoltCatalog) Close() error {
	return s.db.Close()
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// sequenceKey encodes seq big-endian so cursor order is insertion order.
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
