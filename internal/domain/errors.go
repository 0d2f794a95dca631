package domain

import "errors"

var (
	// ErrUnsupportedFormat is returned for files no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrCorruptDocument is returned when a file's internal structure cannot be read.
	ErrCorruptDocument = errors.New("corrupt or unreadable document")

	// ErrEmptyText is returned when extraction yields no text.
	ErrEmptyText = errors.New("document has no extractable text")

	// ErrFormatConflict marks several files of the same format for one key.
	ErrFormatConflict = errors.New("ambiguous document variants")

	// ErrEmbeddingFailed is returned when a batch could not be embedded.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrMalformedResponse is returned for embedding responses of the wrong shape.
	ErrMalformedResponse = errors.New("malformed embedding response")

	// ErrIndexWriteFailed is returned when the vector index rejects a write.
	ErrIndexWriteFailed = errors.New("index write failed")

	// ErrLockHeld is returned when another ingestion pass owns a document.
	ErrLockHeld = errors.New("document is being ingested elsewhere")

	// ErrCollectionMismatch means the existing collection has a different
	// dimension or metric than the configured embedding model produces.
	ErrCollectionMismatch = errors.New("collection configuration mismatch")

	// ErrStoreUnavailable is returned when the state store cannot be used.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrStoreCorrupt is returned when a persisted record cannot be decoded.
	ErrStoreCorrupt = errors.New("state store corrupt")

	// ErrRunInProgress is returned when another run holds the state store.
	ErrRunInProgress = errors.New("another ingestion run is in progress")
)

// IsSystemic reports whether err must abort the whole run.
func IsSystemic(err error) bool {
	return errors.Is(err, ErrCollectionMismatch) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrStoreCorrupt) ||
		errors.Is(err, ErrRunInProgress)
}
