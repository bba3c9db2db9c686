// Package pipeline runs the batch build: every source is fetched, assembled
// and written to its own document directory, and one bad source never stops
// the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/papershelf/internal/chunk"
	"github.com/jackzampolin/papershelf/internal/dataset"
	"github.com/jackzampolin/papershelf/internal/ingest"
	"github.com/jackzampolin/papershelf/internal/retrieve"
	"github.com/jackzampolin/papershelf/internal/types"
)

// Fetcher resolves a source to a local PDF path.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (string, error)
}

// Assembler turns a PDF into a Document.
type Assembler interface {
	Process(ctx context.Context, name, pdfPath string) (*types.Document, *chunk.Report, error)
}

// Writer persists Documents.
type Writer interface {
	Done(dir string) (bool, error)
	Write(doc *types.Document, dir string) (dataset.WriteStats, error)
}

// Config configures a Pipeline.
type Config struct {
	Fetcher    Fetcher
	Assembler  Assembler
	Writer     Writer
	DatasetDir string
	Workers    int // documents processed concurrently (default: 1)
	Logger     *slog.Logger
}

// Pipeline is a configured batch build.
type Pipeline struct {
	fetcher    Fetcher
	assembler  Assembler
	writer     Writer
	datasetDir string
	workers    int
	logger     *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Fetcher == nil || cfg.Assembler == nil || cfg.Writer == nil {
		return nil, errors.New("pipeline: fetcher, assembler and writer are required")
	}
	if cfg.DatasetDir == "" {
		return nil, errors.New("pipeline: dataset dir is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		fetcher:    cfg.Fetcher,
		assembler:  cfg.Assembler,
		writer:     cfg.Writer,
		datasetDir: cfg.DatasetDir,
		workers:    cfg.Workers,
		logger:     cfg.Logger,
	}, nil
}

// Status is the outcome of one source.
type Status string

const (
	StatusWritten Status = "written"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// DocumentResult is the outcome of one source.
type DocumentResult struct {
	Source   string              `json:"source" yaml:"source"`
	Name     string              `json:"name" yaml:"name"`
	Dir      string              `json:"dir" yaml:"dir"`
	Status   Status              `json:"status" yaml:"status"`
	Error    string              `json:"error,omitempty" yaml:"error,omitempty"`
	Assembly *chunk.Report       `json:"assembly,omitempty" yaml:"assembly,omitempty"`
	Write    *dataset.WriteStats `json:"write,omitempty" yaml:"write,omitempty"`
	Duration time.Duration       `json:"duration" yaml:"duration"`
}

// Report summarizes a run. Documents are in source order.
type Report struct {
	RunID     string           `json:"run_id" yaml:"run_id"`
	Documents []DocumentResult `json:"documents" yaml:"documents"`
	Written   int              `json:"written" yaml:"written"`
	Skipped   int              `json:"skipped" yaml:"skipped"`
	Failed    int              `json:"failed" yaml:"failed"`
}

// DocumentName is the output directory name for a source: URLs are named by
// their cache file, local paths by their base name.
func DocumentName(source string) string {
	if retrieve.IsURL(source) {
		return ingest.DocumentName(retrieve.CacheName(source))
	}
	return ingest.DocumentName(source)
}

// Run processes sources and reports per-document outcomes. The returned error
// is non-nil only when ctx ends the run early; the report is always complete.
func (p *Pipeline) Run(ctx context.Context, sources []string) (*Report, error) {
	report := &Report{RunID: uuid.New().String(), Documents: make([]DocumentResult, len(sources))}
	log := p.logger.With("run", report.RunID)
	log.Info("starting build", "sources", len(sources), "workers", p.workers, "dataset", p.datasetDir)

	seen := make(map[string]int)
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i, source := range sources {
		name := DocumentName(source)
		res := &report.Documents[i]
		res.Source = source
		res.Name = name
		res.Dir = filepath.Join(p.datasetDir, name)

		if first, dup := seen[name]; dup {
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("duplicate document name %q (also source %d)", name, first+1)
			continue
		}
		seen[name] = i

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					res.Status = StatusFailed
					res.Error = fmt.Sprintf("panic: %v", r)
				}
			}()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				res.Status = StatusFailed
				res.Error = ctx.Err().Error()
				return
			}

			p.runOne(ctx, log.With("doc", name), res)
		}()
	}
	wg.Wait()

	for _, d := range report.Documents {
		switch d.Status {
		case StatusWritten:
			report.Written++
		case StatusSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	log.Info("build finished", "written", report.Written, "skipped", report.Skipped, "failed", report.Failed)
	return report, ctx.Err()
}

// runOne handles one source. Each goroutine owns its own result slot.
func (p *Pipeline) runOne(ctx context.Context, log *slog.Logger, res *DocumentResult) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	fail := func(err error) {
		log.Error("document failed", "source", res.Source, "error", err)
		res.Status = StatusFailed
		res.Error = err.Error()
	}

	done, err := p.writer.Done(res.Dir)
	if err != nil {
		fail(fmt.Errorf("failed to check output: %w", err))
		return
	}
	if done {
		log.Info("output exists, skipping")
		res.Status = StatusSkipped
		return
	}

	path, err := p.fetcher.Fetch(ctx, res.Source)
	if err != nil {
		fail(err)
		return
	}

	doc, assembly, err := p.assembler.Process(ctx, res.Name, path)
	if err != nil {
		fail(fmt.Errorf("failed to assemble: %w", err))
		return
	}
	res.Assembly = assembly

	// Nothing is written for a cancelled run, so a half-built document is
	// never on disk.
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	stats, err := p.writer.Write(doc, res.Dir)
	if err != nil {
		fail(fmt.Errorf("failed to write: %w", err))
		return
	}
	res.Write = &stats
	if stats.Skipped {
		res.Status = StatusSkipped
		return
	}
	res.Status = StatusWritten
}
