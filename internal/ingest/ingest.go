// Package ingest reads source PDFs: page counts, page-range slices for chunked
// processing, and page rasterization for OCR.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/papershelf/internal/chunk"
)

// ToolError is a failure of an external program or library on a source PDF.
type ToolError struct {
	Tool   string
	Input  string
	Output string // combined output, when the tool is a subprocess
	Err    error
}

func (e *ToolError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s failed on %s: %v (output: %s)", e.Tool, filepath.Base(e.Input), e.Err, strings.TrimSpace(e.Output))
	}
	return fmt.Sprintf("%s failed on %s: %v", e.Tool, filepath.Base(e.Input), e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// PageCount returns the number of pages in a PDF.
func PageCount(pdfPath string) (int, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, nil)
	if err != nil {
		return 0, &ToolError{Tool: "pdfcpu", Input: pdfPath, Err: err}
	}
	return n, nil
}

// Slicer writes page-range subsets of a PDF with pdfcpu.
type Slicer struct{}

// PageCount returns the number of pages in pdfPath.
func (Slicer) PageCount(ctx context.Context, pdfPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return PageCount(pdfPath)
}

// Slice writes the pages of r to outPath.
func (Slicer) Slice(ctx context.Context, pdfPath string, r chunk.Range, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Len() <= 0 {
		return fmt.Errorf("empty page range %d-%d", r.Start, r.End)
	}

	in, err := os.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to open PDF: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	if err := api.Trim(in, out, []string{r.Selection()}, nil); err != nil {
		out.Close()
		os.Remove(outPath)
		return &ToolError{Tool: "pdfcpu", Input: pdfPath, Err: fmt.Errorf("trim %s: %w", r.Selection(), err)}
	}
	return out.Close()
}

var _ chunk.Slicer = Slicer{}

// DocumentName derives a document's dataset name from its file name:
// "papers/attention.pdf" -> "attention".
func DocumentName(pdfPath string) string {
	base := filepath.Base(pdfPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(name)
}

// CheckPDF returns ErrNotPDF unless path starts with a PDF header.
func CheckPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, 5)
	if _, err := f.Read(header); err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if string(header) != "%PDF-" {
		return ErrNotPDF
	}
	return nil
}

// ErrNotPDF is returned by CheckPDF for files without a PDF header.
var ErrNotPDF = errors.New("file is not a PDF")
