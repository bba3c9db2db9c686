package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/jackzampolin/papershelf/internal/chunk"
)

// DefaultDPI matches the resolution the corpus was originally rendered at.
const DefaultDPI = 96

// Rasterizer renders PDF pages to PNG with pdftoppm (poppler-utils). Pages
// are rendered concurrently, one pdftoppm process per page.
type Rasterizer struct {
	DPI     int    // default: DefaultDPI
	Workers int    // concurrent pdftoppm processes (default: NumCPU)
	Tool    string // executable (default: "pdftoppm")
	TempDir string // parent for scratch dirs (default: os.TempDir())
}

// Rasterize renders every page of pdfPath and returns the PNG bytes in page order.
func (r Rasterizer) Rasterize(ctx context.Context, pdfPath string) ([][]byte, error) {
	pageCount, err := PageCount(pdfPath)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp(r.TempDir, "papershelf-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	type result struct {
		page int
		err  error
	}

	images := make([][]byte, pageCount)
	results := make(chan result, pageCount)
	sem := make(chan struct{}, workers)

	for page := 1; page <= pageCount; page++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// drain what was started before returning
			for i := 1; i < page; i++ {
				<-results
			}
			return nil, ctx.Err()
		}
		go func(page int) {
			defer func() { <-sem }()
			data, err := r.renderPage(ctx, pdfPath, tmpDir, page)
			if err == nil {
				images[page-1] = data
			}
			results <- result{page: page, err: err}
		}(page)
	}

	var firstErr error
	for i := 0; i < pageCount; i++ {
		res := <-results
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to render page %d: %w", res.page, res.err)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return images, nil
}

// renderPage renders one 1-indexed page.
func (r Rasterizer) renderPage(ctx context.Context, pdfPath, tmpDir string, page int) ([]byte, error) {
	tool := r.Tool
	if tool == "" {
		tool = "pdftoppm"
	}
	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	outputPrefix := filepath.Join(tmpDir, fmt.Sprintf("page_%05d", page))
	pageStr := strconv.Itoa(page)

	// -singlefile: write <prefix>.png without a page number suffix
	cmd := exec.CommandContext(ctx, tool,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ToolError{Tool: tool, Input: pdfPath, Output: string(output), Err: err}
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, &ToolError{Tool: tool, Input: pdfPath, Err: fmt.Errorf("no output for page %d: %w", page, err)}
	}
	return data, nil
}

var _ chunk.Rasterizer = Rasterizer{}
