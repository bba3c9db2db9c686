package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackzampolin/papershelf/internal/captions"
	"github.com/jackzampolin/papershelf/internal/types"
)

// DetectSchema reports which schema dir was written with. The manifest wins;
// without one, any sidecar means SchemaSidecar, otherwise SchemaInlineCaption.
// A document in the middle of a migration commit yields ErrMigrating.
func DetectSchema(dir string) (Schema, error) {
	if _, err := os.Stat(filepath.Join(dir, migrateDir, ManifestName)); err == nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(dir), ErrMigrating)
	}

	m, err := ReadManifest(dir)
	if err == nil {
		return m.Schema, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if n, err := ParseName(e.Name()); err == nil && n.Resource == ResourceSidecar {
			return SchemaSidecar, nil
		}
	}
	return SchemaInlineCaption, nil
}

// listing is a document directory grouped by page.
type listing struct {
	texts    []string          // path per page index
	sidecars map[int]string    // page -> sidecar path
	media    map[int][]Name    // page -> media names in file name order
	paths    map[string]string // media name -> path
}

func list(dir string) (*listing, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	l := &listing{
		sidecars: make(map[int]string),
		media:    make(map[int][]Name),
		paths:    make(map[string]string),
	}
	texts := make(map[int]string)
	maxPage := -1
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		n, err := ParseName(name)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, name)
		switch n.Resource {
		case ResourceText:
			texts[n.Page] = path
			maxPage = max(maxPage, n.Page)
		case ResourceSidecar:
			l.sidecars[n.Page] = path
		case ResourceMedia:
			l.media[n.Page] = append(l.media[n.Page], n)
			l.paths[n.String()] = path
		}
	}

	l.texts = make([]string, maxPage+1)
	for i := range l.texts {
		path, ok := texts[i]
		if !ok {
			return nil, fmt.Errorf("%s: page %d has no text resource", filepath.Base(dir), i)
		}
		l.texts[i] = path
	}
	for page := range l.media {
		if page > maxPage {
			return nil, fmt.Errorf("%s: media on page %d beyond last text page %d", filepath.Base(dir), page, maxPage)
		}
	}
	for page := range l.sidecars {
		if page > maxPage {
			return nil, fmt.Errorf("%s: sidecar on page %d beyond last text page %d", filepath.Base(dir), page, maxPage)
		}
	}
	return l, nil
}

// ReadDocument reconstructs the Document stored in dir. Media carry their Path;
// payloads are loaded only when load is set.
func ReadDocument(dir string, load bool) (*types.Document, Schema, error) {
	schema, err := DetectSchema(dir)
	if err != nil {
		return nil, "", err
	}
	l, err := list(dir)
	if err != nil {
		return nil, "", err
	}

	doc := &types.Document{Name: filepath.Base(dir), Pages: make([]types.Page, len(l.texts))}
	for i, path := range l.texts {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		media, err := l.loadMedia(i, load)
		if err != nil {
			return nil, "", err
		}
		doc.Pages[i] = types.Page{Index: i, BodyText: string(text), Media: media}
	}

	switch schema {
	case SchemaSidecar:
		err = attachSidecarCaptions(doc, l)
	default:
		attachInlineCaptions(doc)
	}
	if err != nil {
		return nil, "", err
	}
	return doc, schema, nil
}

func (l *listing) loadMedia(page int, load bool) ([]types.MediaRef, error) {
	names := l.media[page]
	out := make([]types.MediaRef, 0, len(names))
	for _, n := range names {
		path := l.paths[n.String()]
		m := types.MediaRef{
			Kind:   n.ID.Kind(),
			Number: n.ID.Number(),
			Path:   path,
			Format: n.Ext,
		}
		if load {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			m.Payload = data
		}
		out = append(out, m)
	}
	return out, nil
}

// attachSidecarCaptions reads each page's sidecar. A caption names its media
// by identifier on the same page; captions without media stay on the page.
func attachSidecarCaptions(doc *types.Document, l *listing) error {
	for i := range doc.Pages {
		path, ok := l.sidecars[i]
		if !ok {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		caps, err := decodeSidecar(data)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		page := &doc.Pages[i]
		page.Captions = caps

		used := make(map[int]bool)
		for _, c := range caps {
			for j := range page.Media {
				if !used[j] && page.Media[j].ID() == c.ID() {
					page.Media[j].CaptionText = c.Raw
					used[j] = true
					break
				}
			}
		}
	}
	return nil
}

// attachInlineCaptions recovers captions from the page text. Media wait in a
// document-wide queue until a later (or the same) page's trailing captions
// name them; a page only gives up caption text while queued media remain.
func attachInlineCaptions(doc *types.Document) {
	type queued struct {
		page, slot int
	}
	var queue []queued

	for i := range doc.Pages {
		page := &doc.Pages[i]
		for j := range page.Media {
			queue = append(queue, queued{page: i, slot: j})
		}
		if len(queue) == 0 {
			continue
		}

		wanted := make([]types.Identifier, len(queue))
		for k, q := range queue {
			wanted[k] = doc.Pages[q.page].Media[q.slot].ID()
		}
		body, cut := captions.SplitMatching(page.BodyText, wanted)
		page.BodyText = body
		page.Captions = cut

		for _, c := range cut {
			for k, q := range queue {
				m := &doc.Pages[q.page].Media[q.slot]
				if m.ID() == c.ID() {
					m.CaptionText = c.Raw
					queue = append(queue[:k], queue[k+1:]...)
					break
				}
			}
		}
	}
}

// MediaRecord is one figure or table in a read result.
type MediaRecord struct {
	Page    int              `json:"page" yaml:"page"`
	ID      types.Identifier `json:"id" yaml:"id"`
	Caption string           `json:"caption" yaml:"caption"`
	Path    string           `json:"path" yaml:"path"`
	Image   []byte           `json:"-" yaml:"-"`
}

// Record is a document as exposed to dataset consumers: body text per page and
// media keyed by (page, identifier).
type Record struct {
	Name   string        `json:"name" yaml:"name"`
	Schema Schema        `json:"schema" yaml:"schema"`
	Text   []string      `json:"text" yaml:"text"`
	Figure []MediaRecord `json:"figure" yaml:"figure"`
	Table  []MediaRecord `json:"table" yaml:"table"`
}

// NewRecord flattens doc into a Record.
func NewRecord(doc *types.Document, schema Schema) *Record {
	r := &Record{
		Name:   doc.Name,
		Schema: schema,
		Text:   make([]string, len(doc.Pages)),
		Figure: []MediaRecord{},
		Table:  []MediaRecord{},
	}
	for i, p := range doc.Pages {
		r.Text[i] = p.BodyText
		for _, m := range p.Media {
			mr := MediaRecord{Page: p.Index, ID: m.ID(), Caption: m.CaptionText, Path: m.Path, Image: m.Payload}
			switch m.Kind {
			case types.KindFigure:
				r.Figure = append(r.Figure, mr)
			case types.KindTable:
				r.Table = append(r.Table, mr)
			}
		}
	}
	return r
}

// ReadOptions controls ReadDataset.
type ReadOptions struct {
	// TrainFraction puts the first int(TrainFraction*N) documents in Train and
	// the rest in Test. Values outside (0, 1) put everything in Train.
	TrainFraction float64

	// PathsOnly leaves MediaRecord.Image empty.
	PathsOnly bool

	// RequireManifest fails documents without a manifest with ErrIncomplete.
	RequireManifest bool
}

// Split is a dataset read result.
type Split struct {
	Train []*Record `json:"train" yaml:"train"`
	Test  []*Record `json:"test" yaml:"test"`
}

// ReadDataset reads every document directory under root in lexicographic order.
func ReadDataset(root string, opts ReadOptions) (*Split, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	records := make([]*Record, 0, len(names))
	for _, name := range names {
		dir := filepath.Join(root, name)
		if opts.RequireManifest {
			if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
				return nil, fmt.Errorf("%s: %w", name, ErrIncomplete)
			}
		}
		doc, schema, err := ReadDocument(dir, !opts.PathsOnly)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		records = append(records, NewRecord(doc, schema))
	}

	split := &Split{Train: records, Test: []*Record{}}
	if opts.TrainFraction > 0 && opts.TrainFraction < 1 {
		n := int(opts.TrainFraction * float64(len(records)))
		split.Train, split.Test = records[:n], records[n:]
	}
	return split, nil
}
