package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vndrag/internal/domain"
)

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func writeDOCX(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><Types/>`))
	require.NoError(t, err)

	w, err = zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func TestDOCXExtract(t *testing.T) {
	path := writeDOCX(t,
		`<w:p><w:r><w:t>Leave   policy</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t xml:space="preserve">Employees get </w:t></w:r><w:r><w:t>28 days.</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Line one</w:t><w:br/><w:t>Line two</w:t><w:tab/><w:t>tabbed</w:t></w:r></w:p>`+
			`<w:p><w:r><w:delText>deleted</w:delText></w:r></w:p>`)

	text, err := NewDOCX().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Leave policy\n\nEmployees get 28 days.\n\nLine one\nLine two tabbed", text)
}

func TestDOCXExtract_Table(t *testing.T) {
	path := writeDOCX(t,
		`<w:tbl><w:tr>`+
			`<w:tc><w:p><w:r><w:t>Cell A</w:t></w:r></w:p></w:tc>`+
			`<w:tc><w:p><w:r><w:t>Cell B</w:t></w:r></w:p></w:tc>`+
			`</w:tr></w:tbl>`)

	text, err := NewDOCX().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Cell A\n\nCell B", text)
}

func TestDOCXExtract_Empty(t *testing.T) {
	path := writeDOCX(t, `<w:p><w:r><w:t>   </w:t></w:r></w:p>`)
	_, err := NewDOCX().Extract(context.Background(), path)
	assert.ErrorIs(t, err, domain.ErrEmptyText)
}

func TestDOCXExtract_NotZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a zip"), 0644))

	_, err := NewDOCX().Extract(context.Background(), path)
	assert.ErrorIs(t, err, domain.ErrCorruptDocument)
}

func TestDOCXExtract_MissingBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nobody.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	_, err = zw.Create("docProps/core.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = NewDOCX().Extract(context.Background(), path)
	assert.ErrorIs(t, err, domain.ErrCorruptDocument)
}

func TestDOCXExtract_StableAcrossResave(t *testing.T) {
	a := writeDOCX(t, `<w:p><w:r><w:t>Same text</w:t></w:r></w:p>`)
	b := writeDOCX(t, `<w:p><w:pPr/><w:r><w:rPr><w:b/></w:rPr><w:t>Same </w:t></w:r><w:r><w:t>text</w:t></w:r></w:p>`)

	ta, err := NewDOCX().Extract(context.Background(), a)
	require.NoError(t, err)
	tb, err := NewDOCX().Extract(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, ta, tb, "formatting-only differences must not change text")
}
