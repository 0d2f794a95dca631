package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

var _ port.Extractor = (*DOCXExtractor)(nil)

// DOCXExtractor reads the main document part of an Office Open XML file.
type DOCXExtractor struct{}

func NewDOCX() *DOCXExtractor {
	return &DOCXExtractor{}
}

func (e *DOCXExtractor) Format() domain.Format { return domain.FormatDOCX }

// Extract returns the document body as paragraphs separated by blank lines.
func (e *DOCXExtractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return "", fmt.Errorf("%w: %s: not a zip container", domain.ErrCorruptDocument, path)
		}
		return "", fmt.Errorf("%w: %s: %v", domain.ErrCorruptDocument, path, err)
	}
	defer reader.Close()

	var body *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("%w: %s: missing word/document.xml", domain.ErrCorruptDocument, path)
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrCorruptDocument, path, err)
	}
	defer rc.Close()

	raw, err := parseDocumentXML(rc)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrCorruptDocument, path, err)
	}

	text := Normalize(raw)
	if text == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrEmptyText, path)
	}
	return text, nil
}

// parseDocumentXML walks the token stream so text in tables, text boxes
// and nested runs keeps document order.
func parseDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte(' ')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n\n")
			case "tc":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
