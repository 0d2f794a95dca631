package fs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

func fi(rel string) port.FileInfo {
	return port.FileInfo{Path: "/corpus/" + rel, RelPath: rel, ModTime: time.Unix(1700000000, 0), Size: 10}
}

func TestResolve_PrefersContainerFormat(t *testing.T) {
	res := Resolve([]port.FileInfo{fi("doc.pdf"), fi("doc.docx"), fi("other.pdf")})

	require.Len(t, res.Documents, 2)
	assert.Empty(t, res.Conflicts)

	assert.Equal(t, "doc", res.Documents[0].Key)
	assert.Equal(t, domain.FormatDOCX, res.Documents[0].Format)
	assert.Equal(t, "doc.docx", res.Documents[0].RelPath)

	assert.Equal(t, "other", res.Documents[1].Key)
	assert.Equal(t, domain.FormatPDF, res.Documents[1].Format)
}

func TestResolve_SameFormatConflict(t *testing.T) {
	res := Resolve([]port.FileInfo{fi("a/rules.pdf"), fi("b/rules.pdf"), fi("ok.docx")})

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "rules", res.Conflicts[0].Key)
	assert.Equal(t, []string{"a/rules.pdf", "b/rules.pdf"}, res.Conflicts[0].Paths)

	require.Len(t, res.Documents, 1)
	assert.Equal(t, "ok", res.Documents[0].Key)

	_, onDisk := res.Keys()["rules"]
	assert.True(t, onDisk, "conflicted keys still count as present")
}

func TestResolve_LowerFormatDuplicatesConflict(t *testing.T) {
	res := Resolve([]port.FileInfo{fi("a/rules.pdf"), fi("b/rules.pdf"), fi("rules.docx")})

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "rules", res.Conflicts[0].Key)
	assert.Equal(t, domain.FormatPDF, res.Conflicts[0].Format)
	assert.Equal(t, []string{"a/rules.pdf", "b/rules.pdf"}, res.Conflicts[0].Paths)
	assert.Empty(t, res.Documents, "an ambiguous key is not ingested from any variant")
	assert.Contains(t, res.Keys(), "rules")
}

func TestResolve_IgnoresUnsupported(t *testing.T) {
	res := Resolve([]port.FileInfo{fi("readme.txt"), fi("x.doc")})
	assert.Empty(t, res.Documents)
	assert.Equal(t, []string{"readme.txt", "x.doc"}, res.Ignored)
}

func TestLogicalKey_NFC(t *testing.T) {
	// "й" decomposed (и + combining breve) vs precomposed
	decomposed := "polo\u0438\u0306enie.pdf"
	precomposed := "polo\u0439enie.docx"
	assert.Equal(t, LogicalKey(precomposed), LogicalKey(decomposed))

	res := Resolve([]port.FileInfo{fi(decomposed), fi(precomposed)})
	require.Len(t, res.Documents, 1)
	assert.Equal(t, domain.FormatDOCX, res.Documents[0].Format)
}
