// Package chunk splits long documents into page ranges, runs rasterization, OCR,
// media extraction and association per range, and joins the results in order.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/papershelf/internal/association"
	"github.com/jackzampolin/papershelf/internal/captions"
	"github.com/jackzampolin/papershelf/internal/identifiers"
	"github.com/jackzampolin/papershelf/internal/providers"
	"github.com/jackzampolin/papershelf/internal/types"
)

// Slicer counts pages and writes page-range subsets of a PDF.
type Slicer interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
	Slice(ctx context.Context, pdfPath string, r Range, outPath string) error
}

// Rasterizer renders every page of a PDF to an image, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string) ([][]byte, error)
}

// OCREngine turns one page image into text.
type OCREngine interface {
	ProcessImage(ctx context.Context, image []byte, pageNum int) (*providers.OCRResult, error)
}

// MediaExtractor returns the figures and tables found in a PDF.
type MediaExtractor interface {
	Extract(ctx context.Context, pdfPath string) ([]types.MediaRef, error)
}

// Config configures a Coordinator.
type Config struct {
	Slicer     Slicer
	Rasterizer Rasterizer
	OCR        OCREngine
	Extractor  MediaExtractor // nil disables media extraction
	ChunkSize  int            // pages per chunk, <= 0 disables chunking
	Workers    int            // chunks processed concurrently (default: 1)
	TempDir    string         // parent for chunk PDFs (default: os.TempDir())
	Logger     *slog.Logger
}

// Coordinator drives the per-chunk pipeline for one document at a time.
// It holds no per-document state and is safe for concurrent use.
type Coordinator struct {
	slicer     Slicer
	rasterizer Rasterizer
	ocr        OCREngine
	extractor  MediaExtractor
	chunkSize  int
	workers    int
	tempDir    string
	logger     *slog.Logger
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Slicer == nil {
		return nil, errors.New("chunk: slicer is required")
	}
	if cfg.Rasterizer == nil {
		return nil, errors.New("chunk: rasterizer is required")
	}
	if cfg.OCR == nil {
		return nil, errors.New("chunk: OCR engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Coordinator{
		slicer:     cfg.Slicer,
		rasterizer: cfg.Rasterizer,
		ocr:        cfg.OCR,
		extractor:  cfg.Extractor,
		chunkSize:  cfg.ChunkSize,
		workers:    workers,
		tempDir:    cfg.TempDir,
		logger:     logger,
	}, nil
}

// Process assembles the document at pdfPath. Nothing is returned unless every
// chunk completes; a failed or cancelled chunk fails the whole document.
func (c *Coordinator) Process(ctx context.Context, name, pdfPath string) (*types.Document, *Report, error) {
	log := c.logger.With("doc", name)

	total, err := c.slicer.PageCount(ctx, pdfPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count pages: %w", err)
	}
	if total == 0 {
		return nil, nil, fmt.Errorf("document %s has no pages", name)
	}

	ranges := Plan(total, c.chunkSize)
	log.Info("processing document", "pages", total, "chunks", len(ranges), "workers", c.workers)

	workDir, err := os.MkdirTemp(c.tempDir, "papershelf-chunks-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chunk dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	results := make([]Result, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, r := range ranges {
		g.Go(func() error {
			chunkPDF := pdfPath
			if len(ranges) > 1 {
				chunkPDF = filepath.Join(workDir, fmt.Sprintf("chunk_%04d.pdf", r.Index))
				if err := c.slicer.Slice(gctx, pdfPath, r, chunkPDF); err != nil {
					return fmt.Errorf("chunk %d (%s): %s failed: %w", r.Index, r.Selection(), StageSlice, err)
				}
			}

			res, err := c.processChunk(gctx, log.With("chunk", r.Index), r, chunkPDF)
			if err != nil {
				return fmt.Errorf("chunk %d (%s): %w", r.Index, r.Selection(), err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	doc, report := Join(name, results)
	log.Info("document assembled",
		"pages", report.Pages,
		"matched", report.Matched,
		"fuzzy", report.Fuzzy,
		"unmatched", len(report.Unmatched),
		"orphans", len(report.Orphans),
		"degrades", len(report.Degrades))
	return doc, &report, nil
}

// processChunk runs one chunk. Pages are handled sequentially because they
// share the chunk's media pool.
func (c *Coordinator) processChunk(ctx context.Context, log *slog.Logger, r Range, pdfPath string) (Result, error) {
	res := Result{Range: r}

	images, err := c.rasterizer.Rasterize(ctx, pdfPath)
	if err != nil {
		return res, fmt.Errorf("%s failed: %w", StageRasterize, err)
	}
	if len(images) != r.Len() {
		return res, fmt.Errorf("%s returned %d pages, expected %d", StageRasterize, len(images), r.Len())
	}

	pool := association.NewPool(c.extractMedia(ctx, log, r, pdfPath, &res.Report))
	log.Debug("media pool ready", "items", pool.Len())

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pageIndex := r.Start + i

		text, err := c.recognize(ctx, img, pageIndex)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn("OCR failed, page kept with empty text", "page", pageIndex, "error", err)
			res.Report.Degrades = append(res.Report.Degrades, Degrade{
				Chunk: r.Index, Page: pageIndex, Stage: StageOCR, Error: err.Error(),
			})
		}

		page, gaps, collisions := assemblePage(pageIndex, text, pool, &res.Report)
		for _, g := range gaps {
			log.Warn("reference without media", "page", g.Page, "id", g.ID)
		}
		for _, col := range collisions {
			log.Warn("fuzzy match would reuse a media name, keeping extractor identifier",
				"page", col.Page, "requested", col.Requested, "kept", col.Kept)
		}
		res.Report.Unmatched = append(res.Report.Unmatched, gaps...)
		res.Report.Collisions = append(res.Report.Collisions, collisions...)
		res.Pages = append(res.Pages, page)
	}

	for _, m := range pool.Remaining() {
		log.Warn("media not referenced by any page", "id", m.ID())
		res.Report.Orphans = append(res.Report.Orphans, Orphan{Chunk: r.Index, ID: m.ID()})
	}
	return res, nil
}

// extractMedia runs the extractor. Failures degrade to an empty pool and are
// recorded in the report.
func (c *Coordinator) extractMedia(ctx context.Context, log *slog.Logger, r Range, pdfPath string, report *Report) []types.MediaRef {
	if c.extractor == nil {
		return nil
	}
	media, err := c.extractor.Extract(ctx, pdfPath)
	if err != nil {
		log.Warn("media extraction failed, continuing without media", "error", err)
		report.Degrades = append(report.Degrades, Degrade{
			Chunk: r.Index, Page: -1, Stage: StageExtract, Error: err.Error(),
		})
		return nil
	}
	return media
}

func (c *Coordinator) recognize(ctx context.Context, img []byte, pageIndex int) (string, error) {
	result, err := c.ocr.ProcessImage(ctx, img, pageIndex)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", errors.New("OCR returned no result")
	}
	return result.Text, nil
}

// assemblePage splits the page's trailing captions from its body and associates
// the page's references with pool media. Claimed media take the identifier as
// written in the page text, so persisted names and caption markers agree. When
// that identifier is already taken on the page, the claimed media keeps its
// extractor identifier and the clash is returned as a Collision.
func assemblePage(pageIndex int, text string, pool *association.Pool, report *Report) (types.Page, []Gap, []Collision) {
	body, caps := captions.Split(text)
	page := types.Page{Index: pageIndex, BodyText: body, Captions: caps}

	requested := identifiers.Extract(text)
	if len(requested) == 0 {
		return page, nil, nil
	}
	used := make([]bool, len(caps))
	taken := make(map[types.Identifier]bool)
	var collisions []Collision

	resolved := association.Resolve(pool, requested)
	for _, claim := range resolved.Claims {
		m := claim.Media
		if kind, number, err := types.ParseIdentifier(string(claim.Requested)); err == nil {
			if id := types.NewIdentifier(kind, number); !taken[id] {
				m.Kind, m.Number = kind, number
			} else {
				collisions = append(collisions, Collision{Page: pageIndex, Requested: claim.Requested, Kept: m.ID()})
			}
		}
		taken[m.ID()] = true
		for i, c := range caps {
			if !used[i] && c.ID() == claim.Requested {
				m.CaptionText = c.Raw
				used[i] = true
				break
			}
		}
		page.Media = append(page.Media, m)

		report.Matched++
		if claim.Fuzzy {
			report.Fuzzy++
		}
	}
	var gaps []Gap
	for _, id := range resolved.Unmatched {
		gaps = append(gaps, Gap{Page: pageIndex, ID: id})
	}
	return page, gaps, collisions
}
