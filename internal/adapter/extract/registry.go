package extract

import (
	"context"
	"fmt"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

var _ port.ExtractorRegistry = (*Registry)(nil)

// Registry dispatches extraction to the extractor for a document's format.
type Registry struct {
	extractors map[domain.Format]port.Extractor
}

func NewRegistry(extractors ...port.Extractor) *Registry {
	r := &Registry{extractors: make(map[domain.Format]port.Extractor, len(extractors))}
	for _, e := range extractors {
		r.extractors[e.Format()] = e
	}
	return r
}

// NewDefaultRegistry registers the DOCX extractor and a pdftotext-backed
// PDF extractor.
func NewDefaultRegistry(pdftotext string) *Registry {
	return NewRegistry(NewDOCX(), NewPDF(pdftotext))
}

func (r *Registry) Extract(ctx context.Context, doc domain.Document) (string, error) {
	e, ok := r.extractors[doc.Format]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, doc.Format)
	}
	return e.Extract(ctx, doc.Path)
}
