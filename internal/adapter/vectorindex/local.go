package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

var (
	bucketCollection = []byte("collection")
	bucketPoints     = []byte("points")
	keySpec          = []byte("spec")
)

var _ port.VectorIndex = (*Local)(nil)

// Local is a single-file vector index on bbolt for running without a
// Qdrant server. Search is brute force over an in-memory copy.
type Local struct {
	db *bbolt.DB
	mu sync.RWMutex

	spec    *domain.CollectionSpec
	vectors map[string]localEntry
}

type localEntry struct {
	vector  []float32
	payload domain.Payload
}

type storedPoint struct {
	Vector  []float32      `json:"v"`
	Payload domain.Payload `json:"p"`
}

// OpenLocal opens the index file at path and loads existing points.
func OpenLocal(path string, lockTimeout time.Duration) (*Local, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open local index: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketCollection, bucketPoints} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index buckets: %w", err)
	}

	l := &Local{db: db, vectors: make(map[string]localEntry)}
	if err := l.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return l, nil
}

func (l *Local) load() error {
	return l.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketCollection).Get(keySpec); data != nil {
			var spec domain.CollectionSpec
			if err := json.Unmarshal(data, &spec); err != nil {
				return err
			}
			l.spec = &spec
		}
		return tx.Bucket(bucketPoints).ForEach(func(k, v []byte) error {
			var stored storedPoint
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("point %s: %w", k, err)
			}
			l.vectors[string(k)] = localEntry{vector: stored.Vector, payload: stored.Payload}
			return nil
		})
	})
}

func (l *Local) EnsureCollection(_ context.Context, spec domain.CollectionSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.spec != nil {
		if l.spec.Dimension != spec.Dimension || !strings.EqualFold(l.spec.Distance, spec.Distance) {
			return fmt.Errorf("%w: local index has dimension=%d distance=%s, want dimension=%d distance=%s",
				domain.ErrCollectionMismatch, l.spec.Dimension, l.spec.Distance, spec.Dimension, spec.Distance)
		}
		return nil
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	if err := l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCollection).Put(keySpec, data)
	}); err != nil {
		return err
	}
	l.spec = &spec
	return nil
}

func (l *Local) Upsert(_ context.Context, points []domain.IndexPoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.spec == nil {
		return fmt.Errorf("%w: collection not initialised", domain.ErrIndexWriteFailed)
	}

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPoints)
		for _, p := range points {
			if len(p.Vector) != l.spec.Dimension {
				return fmt.Errorf("vector dimension mismatch: expected %d, got %d", l.spec.Dimension, len(p.Vector))
			}
			data, err := json.Marshal(storedPoint{Vector: p.Vector, Payload: p.Payload})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexWriteFailed, err)
	}

	// cache follows the committed transaction only
	for _, p := range points {
		l.vectors[p.ID] = localEntry{vector: p.Vector, payload: p.Payload}
	}
	return nil
}

func (l *Local) Delete(_ context.Context, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPoints)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexWriteFailed, err)
	}
	for _, id := range ids {
		delete(l.vectors, id)
	}
	return nil
}

// Search returns the limit best points; higher scores are better for
// every distance.
func (l *Local) Search(_ context.Context, query []float32, limit int) ([]domain.ScoredPoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.spec == nil || len(l.vectors) == 0 {
		return nil, nil
	}
	if len(query) != l.spec.Dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", l.spec.Dimension, len(query))
	}

	score := cosineSimilarity
	switch strings.ToLower(l.spec.Distance) {
	case "dot":
		score = dotProduct
	case "euclid":
		score = negEuclidean
	}

	results := make([]domain.ScoredPoint, 0, len(l.vectors))
	for id, entry := range l.vectors {
		results = append(results, domain.ScoredPoint{ID: id, Score: score(query, entry.vector), Payload: entry.payload})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of stored points.
func (l *Local) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.vectors)
}

// IDs returns every stored point id, sorted.
func (l *Local) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.vectors))
	for id := range l.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Local) Close() error {
	return l.db.Close()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dotProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func negEuclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return -math.Sqrt(sum)
}
