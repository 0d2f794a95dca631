package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format is a supported physical document format.
type Format string

const (
	FormatDOCX Format = "docx"
	FormatPDF  Format = "pdf"
)

// Formats lists the supported formats from highest to lowest priority.
var Formats = []Format{FormatDOCX, FormatPDF}

// Priority ranks formats when one logical document exists in several.
// The container format (docx) beats the page-description format (pdf).
func (f Format) Priority() int {
	switch f {
	case FormatDOCX:
		return 2
	case FormatPDF:
		return 1
	default:
		return 0
	}
}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f.Priority() > 0
}

// FormatFromExt maps a file extension (with or without the dot) to a format.
func FormatFromExt(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "docx":
		return FormatDOCX, true
	case "pdf":
		return FormatPDF, true
	default:
		return "", false
	}
}

// Document is the physical file chosen to represent a logical key in a run.
type Document struct {
	Key     string
	Path    string // absolute
	RelPath string // relative to the corpus root, slash separated
	Format  Format
	Size    int64
	ModTime time.Time
}

// FileName returns the base name of the chosen file.
func (d Document) FileName() string {
	if i := strings.LastIndex(d.RelPath, "/"); i >= 0 {
		return d.RelPath[i+1:]
	}
	return d.RelPath
}

// Chunk is a contiguous slice of a document's normalised text.
// Start and End are rune offsets into that text.
type Chunk struct {
	DocKey string
	Seq    int
	Text   string
	Start  int
	End    int
}

// PointID returns the index point identifier for this chunk.
func (c Chunk) PointID() string {
	return PointID(c.DocKey, c.Seq)
}

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("vndrag/points"))

// PointID derives a stable UUIDv5 from a document key and chunk sequence.
func PointID(key string, seq int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s#%d", key, seq))).String()
}

// IndexPoint is the unit written to the vector index.
type IndexPoint struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Payload is stored next to every vector. Text and File are what the
// answer service reads; SourceFile keeps the name the chat bot reads.
type Payload struct {
	Text       string `json:"text"`
	File       string `json:"file"`
	SourceFile string `json:"source_file"`
	DocKey     string `json:"doc_key"`
	ChunkIndex int    `json:"chunk_index"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
	Format     Format `json:"format"`
}

// NewIndexPoint builds the point for a chunk of doc.
func NewIndexPoint(doc Document, chunk Chunk, vector []float32) IndexPoint {
	name := doc.FileName()
	return IndexPoint{
		ID:     chunk.PointID(),
		Vector: vector,
		Payload: Payload{
			Text:       chunk.Text,
			File:       name,
			SourceFile: name,
			DocKey:     doc.Key,
			ChunkIndex: chunk.Seq,
			CharStart:  chunk.Start,
			CharEnd:    chunk.End,
			Format:     doc.Format,
		},
	}
}

// ScoredPoint is a search hit returned by the vector index.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload Payload
}

// IngestRecord is the persisted state of one ingested document.
type IngestRecord struct {
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	RawDigest   string    `json:"raw_digest"`
	ConfigHash  string    `json:"config_hash"`
	Format      Format    `json:"format"`
	SourceFile  string    `json:"source_file"`
	Size        int64     `json:"size"`
	ChunkCount  int       `json:"chunk_count"`
	PointIDs    []string  `json:"point_ids"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Conflict reports a logical key that cannot be resolved to one file.
type Conflict struct {
	Key    string
	Format Format
	Paths  []string
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%s: %d %s files share the key %q: %s",
		ErrFormatConflict, len(c.Paths), c.Format, c.Key, strings.Join(c.Paths, ", "))
}

func (c Conflict) Unwrap() error { return ErrFormatConflict }

// CollectionSpec describes the vector collection the pipeline writes to.
type CollectionSpec struct {
	Name      string
	Dimension int
	Distance  string
}
