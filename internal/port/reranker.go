package port

import "vndrag/internal/domain"

// Reranker reorders and trims search hits.
type Reranker interface {
	Rerank(hits []domain.ScoredPoint, k int) []domain.ScoredPoint
}
