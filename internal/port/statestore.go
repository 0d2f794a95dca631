package port

import "vndrag/internal/domain"

// StateStore persists one IngestRecord per logical key.
// Every write is atomic for a single record.
type StateStore interface {
	Get(key string) (domain.IngestRecord, bool, error)

	Put(rec domain.IngestRecord) error

	Delete(key string) error

	ListKeys() ([]string, error)

	List() ([]domain.IngestRecord, error)

	Close() error
}
