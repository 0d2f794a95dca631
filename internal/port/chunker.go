package port

import "vndrag/internal/domain"

type Chunker interface {
	Chunk(key, text string) []domain.Chunk
}
