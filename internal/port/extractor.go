package port

import (
	"context"

	"vndrag/internal/domain"
)

// Extractor produces normalised plain text from one file format.
type Extractor interface {
	// Extract returns the ordered, normalised text of the file at path.
	// Failures wrap domain.ErrCorruptDocument or domain.ErrEmptyText.
	Extract(ctx context.Context, path string) (string, error)

	// Format returns the format this extractor handles.
	Format() domain.Format
}

// ExtractorRegistry selects the extractor for a document's format.
type ExtractorRegistry interface {
	Extract(ctx context.Context, doc domain.Document) (string, error)
}
