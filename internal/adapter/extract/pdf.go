package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

// ErrPDFToolNotFound is returned when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

var _ port.Extractor = (*PDFExtractor)(nil)

// PDFExtractor shells out to poppler's pdftotext.
type PDFExtractor struct {
	binary   string
	runner   CommandRunner
	lookPath func(string) (string, error)
}

// NewPDF returns an extractor that runs binary (usually "pdftotext").
func NewPDF(binary string) *PDFExtractor {
	if binary == "" {
		binary = "pdftotext"
	}
	return &PDFExtractor{binary: binary, runner: execRunner{}, lookPath: exec.LookPath}
}

// NewPDFWithRunner returns an extractor that uses runner instead of
// executing a real binary.
func NewPDFWithRunner(runner CommandRunner) *PDFExtractor {
	return &PDFExtractor{
		binary:   "pdftotext",
		runner:   runner,
		lookPath: func(name string) (string, error) { return name, nil },
	}
}

func (e *PDFExtractor) Format() domain.Format { return domain.FormatPDF }

// CheckAvailable reports whether the configured binary can be found.
func (e *PDFExtractor) CheckAvailable() error {
	if _, err := e.lookPath(e.binary); err != nil {
		return fmt.Errorf("%w (%s)", ErrPDFToolNotFound, e.binary)
	}
	return nil
}

// InstallInstructions describes how to install pdftotext.
func InstallInstructions() string {
	return `pdftotext is part of poppler:
  macOS:         brew install poppler
  Debian/Ubuntu: apt install poppler-utils
  Alpine:        apk add poppler-utils`
}

// Extract returns the PDF's text with pages as paragraph breaks and
// hard-wrapped lines joined.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	if err := checkPDFHeader(path); err != nil {
		return "", err
	}
	if err := e.CheckAvailable(); err != nil {
		return "", err
	}

	out, err := e.runner.Run(ctx, e.binary, "-enc", "UTF-8", "-q", path, "-")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s: pdftotext failed: %v", domain.ErrCorruptDocument, path, err)
	}

	raw := strings.ReplaceAll(string(out), "\f", "\n\n")
	text := Normalize(reflow(Normalize(raw)))
	if text == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrEmptyText, path)
	}
	return text, nil
}

func checkPDFHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrCorruptDocument, path, err)
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %v", domain.ErrCorruptDocument, path, err)
	}
	// the header may follow a few bytes of garbage
	if !bytes.Contains(head[:n], []byte("%PDF-")) {
		return fmt.Errorf("%w: %s: missing %%PDF header", domain.ErrCorruptDocument, path)
	}
	return nil
}
