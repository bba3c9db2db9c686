// Package dataset persists assembled documents as a directory of page text,
// media images and (optionally) caption sidecars, and reads them back.
//
// Layout of one document directory:
//
//	00000000.txt             page text
//	00000000-figure1.png     media claimed by page 0
//	00000000-media.json      captions of page 0 (sidecar schema only)
//	manifest.json            schema tag, written last
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackzampolin/papershelf/internal/types"
)

// ErrIncomplete marks a document directory that has page text but no manifest.
var ErrIncomplete = errors.New("document output is incomplete")

// WriterConfig configures a Writer.
type WriterConfig struct {
	Schema Schema // default: SchemaSidecar

	// StrictResume treats a directory without a manifest as a partial write:
	// it is cleared and rewritten instead of skipped.
	StrictResume bool

	Logger *slog.Logger
}

// Writer persists Documents. It holds no per-document state.
type Writer struct {
	schema Schema
	strict bool
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Schema == "" {
		cfg.Schema = SchemaSidecar
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{schema: cfg.Schema, strict: cfg.StrictResume, logger: cfg.Logger}
}

// Schema returns the schema new documents are written with.
func (w *Writer) Schema() Schema {
	return w.schema
}

// WriteStats reports what a Write call did.
type WriteStats struct {
	Skipped bool `json:"skipped" yaml:"skipped"`
	Cleared int  `json:"cleared,omitempty" yaml:"cleared,omitempty"`
	Files   int  `json:"files" yaml:"files"`
	Pages   int  `json:"pages" yaml:"pages"`
	Media   int  `json:"media" yaml:"media"`
}

// Done reports whether dir already holds this document, in which case the
// document is not processed again. By default any page text file counts;
// with strict resume the manifest must also be present.
func (w *Writer) Done(dir string) (bool, error) {
	hasText, err := hasTextResource(dir)
	if err != nil || !hasText {
		return false, err
	}
	if !w.strict {
		return true, nil
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Write persists doc into dir. An already complete dir is left untouched.
// When Write fails, the files it created are removed again so the partial
// output is not mistaken for a finished document.
func (w *Writer) Write(doc *types.Document, dir string) (stats WriteStats, err error) {
	log := w.logger.With("doc", doc.Name, "schema", w.schema)

	if err := doc.Validate(); err != nil {
		return stats, err
	}

	done, err := w.Done(dir)
	if err != nil {
		return stats, err
	}
	if done {
		log.Info("output already present, skipping", "dir", dir)
		stats.Skipped = true
		return stats, nil
	}

	if w.strict {
		n, err := clearResources(dir)
		if err != nil {
			return stats, fmt.Errorf("failed to clear partial output: %w", err)
		}
		if n > 0 {
			log.Warn("cleared partial output", "dir", dir, "files", n)
		}
		stats.Cleared = n
	}

	_, statErr := os.Stat(dir)
	createdDir := errors.Is(statErr, fs.ErrNotExist)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stats, fmt.Errorf("failed to create document dir: %w", err)
	}

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, path := range written {
			os.Remove(path)
		}
		if createdDir {
			os.Remove(dir)
		}
		log.Warn("write failed, removed partial output", "dir", dir, "files", len(written), "error", err)
	}()

	write := func(name string, data []byte) error {
		path := filepath.Join(dir, name)
		written = append(written, path)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		stats.Files++
		return nil
	}

	for _, page := range doc.Pages {
		text := page.Text()
		if w.schema == SchemaSidecar {
			text = page.BodyText
		}
		if err := write(TextName(page.Index), []byte(text)); err != nil {
			return stats, err
		}

		if w.schema == SchemaSidecar {
			data, err := encodeSidecar(page.Captions)
			if err != nil {
				return stats, err
			}
			if err := write(SidecarName(page.Index), data); err != nil {
				return stats, err
			}
		}

		for _, m := range page.Media {
			data, err := mediaBytes(m)
			if err != nil {
				return stats, fmt.Errorf("page %d %s: %w", page.Index, m.ID(), err)
			}
			if err := write(MediaName(page.Index, m.ID(), m.Format), data); err != nil {
				return stats, err
			}
			stats.Media++
		}
		stats.Pages++
	}

	written = append(written, filepath.Join(dir, ManifestName))
	if err := writeManifest(dir, w.schema, stats.Pages, stats.Media); err != nil {
		return stats, err
	}
	stats.Files++

	log.Info("document written", "dir", dir, "pages", stats.Pages, "media", stats.Media)
	return stats, nil
}

func mediaBytes(m types.MediaRef) ([]byte, error) {
	if m.Payload != nil {
		return m.Payload, nil
	}
	if m.Path == "" {
		return nil, errors.New("media has neither payload nor path")
	}
	return os.ReadFile(m.Path)
}

func hasTextResource(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if n, err := ParseName(e.Name()); err == nil && n.Resource == ResourceText {
			return true, nil
		}
	}
	return false, nil
}

// clearResources removes dataset resources from dir and leaves other files alone.
func clearResources(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := ParseName(e.Name()); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
