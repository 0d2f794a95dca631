package port

import (
	"context"

	"vndrag/internal/domain"
)

// VectorIndex is the client side of the external vector database.
type VectorIndex interface {
	// EnsureCollection creates the collection if absent and fails with
	// domain.ErrCollectionMismatch if it exists with another shape.
	EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error

	// Upsert writes points keyed by ID. Re-upserting a point replaces it.
	Upsert(ctx context.Context, points []domain.IndexPoint) error

	// Delete removes points by ID. Absent IDs are not an error.
	Delete(ctx context.Context, ids []string) error

	// Search returns the limit nearest points to vector.
	Search(ctx context.Context, vector []float32, limit int) ([]domain.ScoredPoint, error)
}
