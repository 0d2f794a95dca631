package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"vndrag/config"
	"vndrag/internal/adapter/extract"
	"vndrag/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var keySchemaVersion = []byte("schema_version")

// SchemaVersion returns the version recorded in the file, 0 for a new file.
func (s *BoltStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		data := b.Get(keySchemaVersion)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &version); err != nil {
			return fmt.Errorf("%w: schema version: %v", domain.ErrStoreCorrupt, err)
		}
		return nil
	})
	return version, err
}

// Migrate brings the file up to CurrentSchemaVersion. A file written by
// a newer version is refused rather than rewritten.
func (s *BoltStore) Migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	if version > CurrentSchemaVersion {
		return fmt.Errorf("%w: state created by newer version (v%d > v%d)",
			domain.ErrStoreUnavailable, version, CurrentSchemaVersion)
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("%w: migration from v%d to v%d failed: %v", domain.ErrStoreUnavailable, v, v+1, err)
		}
	}

	if version == CurrentSchemaVersion {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(CurrentSchemaVersion)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keySchemaVersion, data)
	})
}

// runMigration runs a specific version migration.
func (s *BoltStore) runMigration(from, to int) error {
	switch {
	case from == 0 && to == 1:
		// new file: buckets are created on open
		return nil
	default:
		return fmt.Errorf("no migration from v%d to v%d", from, to)
	}
}

// ComputeConfigHash hashes every setting that changes the points a
// document produces. A record whose hash differs is re-ingested even
// when its text is unchanged.
func ComputeConfigHash(cfg *config.Config) string {
	relevant := struct {
		MaxChars     int    `json:"max_chars"`
		OverlapChars int    `json:"overlap_chars"`
		EmbModel     string `json:"emb_model"`
		Dimension    int    `json:"dimension"`
		Backend      string `json:"backend"`
		Collection   string `json:"collection"`
		Distance     string `json:"distance"`
		Normalizer   string `json:"normalizer"`
	}{
		MaxChars:     cfg.Chunk.MaxChars,
		OverlapChars: cfg.Chunk.OverlapChars,
		EmbModel:     cfg.Embedding.Model,
		Dimension:    cfg.Embedding.Dimension,
		Backend:      cfg.Index.Backend,
		Collection:   cfg.Index.Collection,
		Distance:     strings.ToLower(cfg.Index.Distance),
		Normalizer:   extract.NormalizerVersion,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
