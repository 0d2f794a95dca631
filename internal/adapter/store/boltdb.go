package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
	keyLastRun    = []byte("last_run")
)

var _ port.StateStore = (*BoltStore)(nil)

// BoltStore is the fingerprint store. Every record write is a single
// bbolt transaction, so a torn write is never observed. The exclusive
// file lock held by a writable store keeps concurrent runs apart.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the store at path. If another process
// holds the file for longer than lockTimeout, it fails with
// domain.ErrRunInProgress.
func NewBoltStore(path string, lockTimeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, openError(path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRecords, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	s := &BoltStore{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens an existing store under a shared file lock. Readers
// do not block each other, but they wait for a writer (and a writer for
// them) up to lockTimeout. Nothing is created or migrated; writes fail.
func OpenReadOnly(path string, lockTimeout time.Duration) (*BoltStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout, ReadOnly: true})
	if err != nil {
		return nil, openError(path, err)
	}

	s := &BoltStore{db: db}
	version, err := s.SchemaVersion()
	if err != nil {
		db.Close()
		return nil, err
	}
	if version > CurrentSchemaVersion {
		db.Close()
		return nil, fmt.Errorf("%w: state created by newer version (v%d > v%d)",
			domain.ErrStoreUnavailable, version, CurrentSchemaVersion)
	}
	return s, nil
}

func openError(path string, err error) error {
	switch {
	case errors.Is(err, bbolt.ErrTimeout):
		return fmt.Errorf("%w: %s is locked", domain.ErrRunInProgress, path)
	case errors.Is(err, bbolt.ErrInvalid), errors.Is(err, bbolt.ErrChecksum), errors.Is(err, bbolt.ErrVersionMismatch):
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreCorrupt, path, err)
	default:
		return fmt.Errorf("%w: failed to open bolt db: %v", domain.ErrStoreUnavailable, err)
	}
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Get(key string) (domain.IngestRecord, bool, error) {
	var rec domain.IngestRecord
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("%w: record %q: %v", domain.ErrStoreCorrupt, key, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return domain.IngestRecord{}, false, err
	}
	return rec, found, nil
}

func (s *BoltStore) Put(rec domain.IngestRecord) error {
	if rec.Key == "" {
		return errors.New("record key is empty")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(rec.Key), data)
	})
	if err != nil {
		return fmt.Errorf("%w: put %q: %v", domain.ErrStoreUnavailable, rec.Key, err)
	}
	return nil
}

func (s *BoltStore) Delete(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %q: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

// ListKeys returns every stored key in byte order.
func (s *BoltStore) ListKeys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// List returns every record sorted by key.
func (s *BoltStore) List() ([]domain.IngestRecord, error) {
	var recs []domain.IngestRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec domain.IngestRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: record %q: %v", domain.ErrStoreCorrupt, k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
	return recs, nil
}

// RunInfo summarises the most recent completed run.
type RunInfo struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Committed  int       `json:"committed"`
	Refreshed  int       `json:"refreshed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Purged     int       `json:"purged"`
	Conflicts  int       `json:"conflicts"`
}

func (s *BoltStore) PutRunInfo(info RunInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyLastRun, data)
	})
}

// LastRunInfo returns the summary of the last run, if any.
func (s *BoltStore) LastRunInfo() (*RunInfo, error) {
	var info *RunInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		data := b.Get(keyLastRun)
		if data == nil {
			return nil
		}
		info = &RunInfo{}
		return json.Unmarshal(data, info)
	})
	return info, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
