package ingest

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/jackzampolin/papershelf/internal/chunk"
	"github.com/jackzampolin/papershelf/internal/testutil"
)

func TestPageCount(t *testing.T) {
	pdf := testutil.WritePDF(t, t.TempDir(), "doc.pdf", 7)

	n, err := PageCount(pdf)
	if err != nil {
		t.Fatalf("PageCount failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 pages, got %d", n)
	}
}

func TestPageCount_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pdf")
	os.WriteFile(path, []byte("not a pdf"), 0o644)

	_, err := PageCount(path)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Tool != "pdfcpu" {
		t.Errorf("expected pdfcpu ToolError, got %v", err)
	}
}

func TestSlicer_Slice(t *testing.T) {
	dir := t.TempDir()
	pdf := testutil.WritePDF(t, dir, "doc.pdf", 7)
	ranges := chunk.Plan(7, 3)

	var total int
	for _, r := range ranges {
		out := filepath.Join(dir, "chunk_"+strconv.Itoa(r.Index)+".pdf")
		if err := (Slicer{}).Slice(context.Background(), pdf, r, out); err != nil {
			t.Fatalf("Slice %s failed: %v", r.Selection(), err)
		}
		n, err := PageCount(out)
		if err != nil {
			t.Fatalf("PageCount on chunk failed: %v", err)
		}
		if n != r.Len() {
			t.Errorf("chunk %d: expected %d pages, got %d", r.Index, r.Len(), n)
		}
		total += n
	}
	if total != 7 {
		t.Errorf("expected chunks to cover 7 pages, got %d", total)
	}
}

func TestDocumentName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/path/to/attention.pdf", "attention"},
		{"paper.v2.pdf", "paper.v2"},
		{"simple", "simple"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := DocumentName(tt.input); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCheckPDF(t *testing.T) {
	dir := t.TempDir()
	good := testutil.WritePDF(t, dir, "good.pdf", 1)
	bad := filepath.Join(dir, "bad.pdf")
	os.WriteFile(bad, []byte("<html>"), 0o644)

	if err := CheckPDF(good); err != nil {
		t.Errorf("expected valid PDF, got %v", err)
	}
	if err := CheckPDF(bad); !errors.Is(err, ErrNotPDF) {
		t.Errorf("expected ErrNotPDF, got %v", err)
	}
}

// fakePdftoppm writes the requested page number as the "image" so tests can
// check ordering without poppler installed.
const fakePdftoppm = `#!/bin/sh
printf '%s' "$3" > "${10}.png"
`

func TestRasterizer_PageOrder(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "pdftoppm")
	if err := os.WriteFile(tool, []byte(fakePdftoppm), 0o755); err != nil {
		t.Fatal(err)
	}
	pdf := testutil.WritePDF(t, dir, "doc.pdf", 12)

	images, err := Rasterizer{Tool: tool, Workers: 4, TempDir: dir}.Rasterize(context.Background(), pdf)
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	if len(images) != 12 {
		t.Fatalf("expected 12 images, got %d", len(images))
	}
	for i, img := range images {
		if string(img) != strconv.Itoa(i+1) {
			t.Errorf("image %d holds page %q", i, img)
		}
	}
}

func TestRasterizer_ToolFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "pdftoppm")
	os.WriteFile(tool, []byte("#!/bin/sh\necho 'syntax error' >&2\nexit 1\n"), 0o755)
	pdf := testutil.WritePDF(t, dir, "doc.pdf", 2)

	_, err := Rasterizer{Tool: tool}.Rasterize(context.Background(), pdf)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if toolErr.Output != "syntax error\n" {
		t.Errorf("expected tool output captured, got %q", toolErr.Output)
	}
}

func TestRasterizer_Poppler(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}
	pdf := testutil.WritePDF(t, t.TempDir(), "doc.pdf", 2)

	images, err := Rasterizer{DPI: 72}.Rasterize(context.Background(), pdf)
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	for i, img := range images {
		if len(img) < 8 || string(img[1:4]) != "PNG" {
			t.Errorf("page %d is not a PNG", i)
		}
	}
}
