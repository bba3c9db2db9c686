// Package figures extracts figure and table images from PDFs with pdffigures2.
// The tool runs either as a local command or inside a Docker container; both
// write PNGs named "<pdf>-<Kind><Number>-<page>.png" that ParseOutputDir reads.
package figures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/papershelf/internal/chunk"
	"github.com/jackzampolin/papershelf/internal/types"
)

// Runner executes pdffigures2 over every PDF in inputDir, writing images into outputDir.
type Runner interface {
	Name() string
	Run(ctx context.Context, inputDir, outputDir string) error
}

// ToolError is a failed pdffigures2 run.
type ToolError struct {
	Runner string
	PDF    string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("pdffigures2 (%s) failed on %s: %v", e.Runner, filepath.Base(e.PDF), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += " (output: " + lastLines(out, 5) + ")"
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Extractor adapts a Runner to the chunk pipeline: it stages one PDF, runs the
// tool and loads the resulting images.
type Extractor struct {
	runner  Runner
	tempDir string
	logger  *slog.Logger
}

// NewExtractor creates an Extractor. tempDir may be empty.
func NewExtractor(runner Runner, tempDir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{runner: runner, tempDir: tempDir, logger: logger}
}

// Extract returns the figures and tables found in pdfPath with their image bytes
// loaded, in the deterministic order of ParseOutputDir.
func (e *Extractor) Extract(ctx context.Context, pdfPath string) ([]types.MediaRef, error) {
	work, err := os.MkdirTemp(e.tempDir, "papershelf-figures-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create figures dir: %w", err)
	}
	defer os.RemoveAll(work)

	inDir := filepath.Join(work, "in")
	outDir := filepath.Join(work, "out")
	for _, d := range []string{inDir, outDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}
	if err := copyFile(pdfPath, filepath.Join(inDir, filepath.Base(pdfPath))); err != nil {
		return nil, fmt.Errorf("failed to stage PDF: %w", err)
	}

	if err := e.runner.Run(ctx, inDir, outDir); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			toolErr.PDF = pdfPath
			return nil, toolErr
		}
		return nil, &ToolError{Runner: e.runner.Name(), PDF: pdfPath, Err: err}
	}

	media, err := ParseOutputDir(outDir, true)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("extracted media", "pdf", filepath.Base(pdfPath), "runner", e.runner.Name(), "count", len(media))
	return media, nil
}

var _ chunk.MediaExtractor = (*Extractor)(nil)

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
