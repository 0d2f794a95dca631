package usecase

import "errors"

var (
	ErrWalkerRequired    = errors.New("file walker is required")
	ErrExtractorRequired = errors.New("extractor registry is required")
	ErrChunkerRequired   = errors.New("chunker is required")
	ErrEmbedderRequired  = errors.New("embedder is required")
	ErrIndexRequired     = errors.New("vector index is required")
	ErrStoreRequired     = errors.New("state store is required")
	ErrAnswererRequired  = errors.New("answerer is required")

	// ErrNoResults is returned by Ask when the index has nothing relevant.
	ErrNoResults = errors.New("no matching documents found")
)
