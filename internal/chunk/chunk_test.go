package chunk

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/papershelf/internal/association"
	"github.com/jackzampolin/papershelf/internal/providers"
	"github.com/jackzampolin/papershelf/internal/types"
)

const sourcePDF = "source.pdf"

// fakeSlicer writes "start end" into each chunk file so the other fakes know
// which global pages a chunk PDF holds.
type fakeSlicer struct {
	pages  int
	slices atomic.Int32
}

func (s *fakeSlicer) PageCount(ctx context.Context, pdfPath string) (int, error) {
	return s.pages, nil
}

func (s *fakeSlicer) Slice(ctx context.Context, pdfPath string, r Range, outPath string) error {
	s.slices.Add(1)
	return os.WriteFile(outPath, []byte(fmt.Sprintf("%d %d", r.Start, r.End)), 0o644)
}

func pagesIn(pdfPath string, total int) (int, int, error) {
	if pdfPath == sourcePDF {
		return 0, total, nil
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return 0, 0, err
	}
	var start, end int
	_, err = fmt.Sscanf(string(data), "%d %d", &start, &end)
	return start, end, err
}

type fakeRasterizer struct {
	total    int
	maxDelay time.Duration
}

func (r *fakeRasterizer) Rasterize(ctx context.Context, pdfPath string) ([][]byte, error) {
	start, end, err := pagesIn(pdfPath, r.total)
	if err != nil {
		return nil, err
	}
	if r.maxDelay > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(r.maxDelay))))
	}
	var images [][]byte
	for p := start; p < end; p++ {
		images = append(images, []byte(fmt.Sprintf("%d", p)))
	}
	return images, nil
}

// fakeOCR returns texts[page] for the page encoded in the image.
type fakeOCR struct {
	texts map[int]string
	fail  map[int]bool
}

func (o *fakeOCR) ProcessImage(ctx context.Context, image []byte, pageNum int) (*providers.OCRResult, error) {
	var p int
	fmt.Sscanf(string(image), "%d", &p)
	if o.fail[p] {
		return nil, errors.New("ocr exploded")
	}
	text, ok := o.texts[p]
	if !ok {
		text = fmt.Sprintf("page %d", p)
	}
	return &providers.OCRResult{Success: true, Text: text}, nil
}

// fakeExtractor returns the media whose source page falls inside the chunk.
type fakeExtractor struct {
	total int
	media map[int][]types.MediaRef
	err   error
}

func (e *fakeExtractor) Extract(ctx context.Context, pdfPath string) ([]types.MediaRef, error) {
	if e.err != nil {
		return nil, e.err
	}
	start, end, err := pagesIn(pdfPath, e.total)
	if err != nil {
		return nil, err
	}
	var out []types.MediaRef
	for p := start; p < end; p++ {
		out = append(out, e.media[p]...)
	}
	return out, nil
}

func newTestCoordinator(t *testing.T, total, size, workers int, ocr *fakeOCR, ext MediaExtractor) (*Coordinator, *fakeSlicer) {
	t.Helper()
	slicer := &fakeSlicer{pages: total}
	c, err := New(Config{
		Slicer:     slicer,
		Rasterizer: &fakeRasterizer{total: total, maxDelay: 5 * time.Millisecond},
		OCR:        ocr,
		Extractor:  ext,
		ChunkSize:  size,
		Workers:    workers,
		TempDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	return c, slicer
}

func TestPlan(t *testing.T) {
	t.Run("107 pages at 50", func(t *testing.T) {
		ranges := Plan(107, 50)
		sizes := []int{}
		for _, r := range ranges {
			sizes = append(sizes, r.Len())
		}
		if fmt.Sprint(sizes) != "[50 50 7]" {
			t.Errorf("expected sizes [50 50 7], got %v", sizes)
		}
		if ranges[2].Selection() != "101-107" {
			t.Errorf("expected selection 101-107, got %s", ranges[2].Selection())
		}
	})

	t.Run("exact multiple", func(t *testing.T) {
		if n := len(Plan(100, 50)); n != 2 {
			t.Errorf("expected 2 chunks, got %d", n)
		}
	})

	t.Run("no chunking", func(t *testing.T) {
		ranges := Plan(30, 0)
		if len(ranges) != 1 || ranges[0].Len() != 30 {
			t.Errorf("expected one range of 30, got %+v", ranges)
		}
	})

	t.Run("empty document", func(t *testing.T) {
		if ranges := Plan(0, 50); ranges != nil {
			t.Errorf("expected no ranges, got %+v", ranges)
		}
	})

	t.Run("contiguous cover", func(t *testing.T) {
		for total := 1; total < 60; total++ {
			for size := 1; size < 15; size++ {
				next := 0
				for i, r := range Plan(total, size) {
					if r.Index != i || r.Start != next || r.Len() <= 0 || r.Len() > size {
						t.Fatalf("bad range %+v for total=%d size=%d", r, total, size)
					}
					next = r.End
				}
				if next != total {
					t.Fatalf("ranges end at %d, expected %d", next, total)
				}
			}
		}
	})
}

func TestJoin_OrderIndependent(t *testing.T) {
	ranges := Plan(107, 50)
	results := make([]Result, len(ranges))
	for i, r := range ranges {
		res := Result{Range: r}
		for p := r.Start; p < r.End; p++ {
			res.Pages = append(res.Pages, types.Page{Index: p - r.Start, BodyText: fmt.Sprintf("page %d", p)})
		}
		results[i] = res
	}

	// simulate completion order 2, 0, 1
	shuffled := []Result{results[2], results[0], results[1]}
	doc, report := Join("doc", shuffled)

	if len(doc.Pages) != 107 || report.Pages != 107 || report.Chunks != 3 {
		t.Fatalf("expected 107 pages in 3 chunks, got %d pages, report %+v", len(doc.Pages), report)
	}
	if err := doc.Validate(); err != nil {
		t.Fatal(err)
	}
	for i, p := range doc.Pages {
		if p.BodyText != fmt.Sprintf("page %d", i) {
			t.Fatalf("page %d has text %q", i, p.BodyText)
		}
	}
}

func TestCoordinator_ParallelChunksKeepOrder(t *testing.T) {
	c, slicer := newTestCoordinator(t, 107, 50, 3, &fakeOCR{}, nil)

	doc, report, err := c.Process(context.Background(), "doc", sourcePDF)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if slicer.slices.Load() != 3 {
		t.Errorf("expected 3 slices, got %d", slicer.slices.Load())
	}
	if report.Chunks != 3 || len(doc.Pages) != 107 {
		t.Fatalf("unexpected shape: chunks=%d pages=%d", report.Chunks, len(doc.Pages))
	}
	for i, p := range doc.Pages {
		if p.Index != i || p.BodyText != fmt.Sprintf("page %d", i) {
			t.Fatalf("page %d out of order: %+v", i, p)
		}
	}
}

func TestCoordinator_Association(t *testing.T) {
	ocr := &fakeOCR{texts: map[int]string{
		0: "Intro text.\n\nFigure 1: A cat.\n\nTable 2: Data.",
		1: "More text.\nFigure 2: Curve.",
		2: "See text.\nFigure 9: Missing.",
	}}
	ext := &fakeExtractor{total: 4, media: map[int][]types.MediaRef{
		0: {
			{Kind: types.KindFigure, Number: "1", Payload: []byte("cat")},
			{Kind: types.KindTable, Number: "2", Payload: []byte("data")},
		},
		1: {{Kind: types.KindFigure, Number: "1.2", Payload: []byte("curve")}},
		3: {{Kind: types.KindTable, Number: "5", Payload: []byte("lonely")}},
	}}
	c, _ := newTestCoordinator(t, 4, 0, 1, ocr, ext)

	doc, report, err := c.Process(context.Background(), "doc", sourcePDF)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	p0 := doc.Pages[0]
	if len(p0.Media) != 2 || p0.Media[0].ID() != "figure1" || p0.Media[1].ID() != "table2" {
		t.Fatalf("unexpected page 0 media: %+v", p0.Media)
	}
	if p0.Media[0].CaptionText != "Figure 1: A cat.\n\n" {
		t.Errorf("unexpected caption %q", p0.Media[0].CaptionText)
	}
	if p0.BodyText != "Intro text.\n\n" || len(p0.Captions) != 2 {
		t.Errorf("expected captions split from body, got %q with %d captions", p0.BodyText, len(p0.Captions))
	}
	if p0.Text() != ocr.texts[0] {
		t.Errorf("expected Text() to restore OCR output, got %q", p0.Text())
	}

	p1 := doc.Pages[1]
	if len(p1.Media) != 1 || p1.Media[0].ID() != "figure2" || string(p1.Media[0].Payload) != "curve" {
		t.Errorf("expected fuzzy match of figure1.2 as figure2, got %+v", p1.Media)
	}

	if report.Matched != 3 || report.Fuzzy != 1 {
		t.Errorf("expected 3 matched (1 fuzzy), got %d (%d)", report.Matched, report.Fuzzy)
	}
	if len(report.Unmatched) != 1 || report.Unmatched[0] != (Gap{Page: 2, ID: "figure9"}) {
		t.Errorf("unexpected unmatched %+v", report.Unmatched)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].ID != "table5" {
		t.Errorf("unexpected orphans %+v", report.Orphans)
	}
}

func TestCoordinator_PoolScopedToChunk(t *testing.T) {
	// figure1 is extracted from chunk 0 only; the reference on page 3 (chunk 1)
	// must not see it.
	ocr := &fakeOCR{texts: map[int]string{
		0: "Start.",
		3: "Later.\nFigure 1: Elsewhere.",
	}}
	ext := &fakeExtractor{total: 4, media: map[int][]types.MediaRef{
		1: {{Kind: types.KindFigure, Number: "1"}},
	}}
	c, _ := newTestCoordinator(t, 4, 2, 2, ocr, ext)

	doc, report, err := c.Process(context.Background(), "doc", sourcePDF)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if doc.MediaCount() != 0 {
		t.Errorf("expected no media, got %d", doc.MediaCount())
	}
	if len(report.Unmatched) != 1 || len(report.Orphans) != 1 || report.Orphans[0].Chunk != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestCoordinator_Degrades(t *testing.T) {
	t.Run("extractor failure keeps pages", func(t *testing.T) {
		ext := &fakeExtractor{err: errors.New("pdffigures2 exited 1")}
		c, _ := newTestCoordinator(t, 3, 0, 1, &fakeOCR{}, ext)

		doc, report, err := c.Process(context.Background(), "doc", sourcePDF)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if len(doc.Pages) != 3 {
			t.Errorf("expected 3 pages, got %d", len(doc.Pages))
		}
		if len(report.Degrades) != 1 || report.Degrades[0].Stage != StageExtract || report.Degrades[0].Page != -1 {
			t.Errorf("unexpected degrades %+v", report.Degrades)
		}
		if report.Clean() {
			t.Error("expected report to be unclean")
		}
	})

	t.Run("OCR failure leaves empty page text", func(t *testing.T) {
		ocr := &fakeOCR{fail: map[int]bool{1: true}}
		c, _ := newTestCoordinator(t, 3, 0, 1, ocr, nil)

		doc, report, err := c.Process(context.Background(), "doc", sourcePDF)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if doc.Pages[1].BodyText != "" {
			t.Errorf("expected empty text, got %q", doc.Pages[1].BodyText)
		}
		if len(report.Degrades) != 1 || report.Degrades[0].Page != 1 {
			t.Errorf("unexpected degrades %+v", report.Degrades)
		}
	})
}

func TestCoordinator_Cancelled(t *testing.T) {
	c, _ := newTestCoordinator(t, 20, 5, 2, &fakeOCR{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc, _, err := c.Process(ctx, "doc", sourcePDF)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if doc != nil {
		t.Error("expected no document after cancellation")
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("expected context error, got %v", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing collaborators")
	}
}

func TestAssemblePage_CaptionsOnOneLine(t *testing.T) {
	pool := association.NewPool([]types.MediaRef{
		{Kind: types.KindFigure, Number: "1", Payload: []byte("cat")},
		{Kind: types.KindTable, Number: "2", Payload: []byte("data")},
	})
	var report Report

	page, gaps, _ := assemblePage(0, "Body.\n\nFigure 1: A cat. Table 2: Data.", pool, &report)
	if len(gaps) != 0 {
		t.Errorf("unexpected gaps %+v", gaps)
	}
	if page.BodyText != "Body.\n\n" || len(page.Captions) != 2 {
		t.Fatalf("expected 2 captions split from body, got %q with %+v", page.BodyText, page.Captions)
	}
	want := map[types.Identifier]string{
		"figure1": "Figure 1: A cat. ",
		"table2":  "Table 2: Data.",
	}
	if len(page.Media) != 2 {
		t.Fatalf("expected 2 media, got %+v", page.Media)
	}
	for _, m := range page.Media {
		if m.CaptionText != want[m.ID()] {
			t.Errorf("%s: expected caption %q, got %q", m.ID(), want[m.ID()], m.CaptionText)
		}
	}
}

func TestAssemblePage_FuzzyRenameCollision(t *testing.T) {
	// Both references read "Figure 2:". The first claims figure2 exactly, the
	// second falls back to figure1.2 and must not take the same name.
	pool := association.NewPool([]types.MediaRef{
		{Kind: types.KindFigure, Number: "1.2", Payload: []byte("curve")},
		{Kind: types.KindFigure, Number: "2", Payload: []byte("plot")},
	})
	var report Report

	page, _, collisions := assemblePage(4, "Text.\nFigure 2: Plot.\nFigure 2: Curve.", pool, &report)
	if len(page.Media) != 2 {
		t.Fatalf("expected 2 media, got %+v", page.Media)
	}
	if page.Media[0].ID() != "figure2" || string(page.Media[0].Payload) != "plot" {
		t.Errorf("unexpected first media %+v", page.Media[0])
	}
	if page.Media[1].ID() != "figure1.2" || string(page.Media[1].Payload) != "curve" {
		t.Errorf("expected fuzzy claim to keep figure1.2, got %+v", page.Media[1])
	}
	if len(collisions) != 1 || collisions[0] != (Collision{Page: 4, Requested: "figure2", Kept: "figure1.2"}) {
		t.Errorf("unexpected collisions %+v", collisions)
	}
	if report.Matched != 2 || report.Fuzzy != 1 {
		t.Errorf("expected 2 matched (1 fuzzy), got %d (%d)", report.Matched, report.Fuzzy)
	}
}
