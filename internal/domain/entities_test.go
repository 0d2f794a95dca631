package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("policy_A", 0)
	b := PointID("policy_A", 0)
	assert.Equal(t, a, b)

	_, err := uuid.Parse(a)
	require.NoError(t, err, "point ids must be valid UUIDs")

	assert.NotEqual(t, a, PointID("policy_A", 1))
	assert.NotEqual(t, a, PointID("policy_B", 0))
}

func TestFormatPriority(t *testing.T) {
	assert.Greater(t, FormatDOCX.Priority(), FormatPDF.Priority())
	assert.False(t, Format("txt").Valid())

	f, ok := FormatFromExt(".DOCX")
	require.True(t, ok)
	assert.Equal(t, FormatDOCX, f)

	_, ok = FormatFromExt(".doc")
	assert.False(t, ok)
}

func TestNewIndexPoint(t *testing.T) {
	doc := Document{Key: "rules", RelPath: "hr/rules.docx", Format: FormatDOCX}
	chunk := Chunk{DocKey: "rules", Seq: 2, Text: "hello", Start: 10, End: 15}

	p := NewIndexPoint(doc, chunk, []float32{1, 2})
	assert.Equal(t, PointID("rules", 2), p.ID)
	assert.Equal(t, "rules.docx", p.Payload.File)
	assert.Equal(t, "rules.docx", p.Payload.SourceFile)
	assert.Equal(t, "hello", p.Payload.Text)
	assert.Equal(t, 2, p.Payload.ChunkIndex)
}

func TestIsSystemic(t *testing.T) {
	assert.True(t, IsSystemic(fmt.Errorf("ensure: %w", ErrCollectionMismatch)))
	assert.True(t, IsSystemic(ErrStoreCorrupt))
	assert.False(t, IsSystemic(ErrEmbeddingFailed))
	assert.False(t, IsSystemic(errors.New("boom")))
}

func TestConflictError(t *testing.T) {
	c := Conflict{Key: "a", Format: FormatPDF, Paths: []string{"x/a.pdf", "y/a.pdf"}}
	assert.ErrorIs(t, fmt.Errorf("wrap: %w", c), ErrFormatConflict)
}
