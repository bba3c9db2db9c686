package chunk

import (
	"fmt"
	"sort"

	"github.com/jackzampolin/papershelf/internal/types"
)

// Range is a contiguous page range of the source document.
// Start is the zero-based first page, End is exclusive.
type Range struct {
	Index int
	Start int
	End   int
}

// Len returns the number of pages in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Selection renders the range as a 1-indexed pdfcpu page selection, e.g. "51-100".
func (r Range) Selection() string {
	return fmt.Sprintf("%d-%d", r.Start+1, r.End)
}

// Plan partitions totalPages into consecutive ranges of at most size pages.
// A size <= 0 means no chunking: one range covers the whole document.
func Plan(totalPages, size int) []Range {
	if totalPages <= 0 {
		return nil
	}
	if size <= 0 || size >= totalPages {
		return []Range{{Index: 0, Start: 0, End: totalPages}}
	}

	ranges := make([]Range, 0, (totalPages+size-1)/size)
	for start := 0; start < totalPages; start += size {
		end := start + size
		if end > totalPages {
			end = totalPages
		}
		ranges = append(ranges, Range{Index: len(ranges), Start: start, End: end})
	}
	return ranges
}

// Result is the output of processing one chunk.
type Result struct {
	Range  Range
	Pages  []types.Page
	Report Report
}

// Join concatenates chunk results in chunk-index order and renumbers pages so
// indices run 0..N-1. The order of results in the slice does not matter.
func Join(name string, results []Result) (*types.Document, Report) {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Range.Index < sorted[j].Range.Index
	})

	doc := &types.Document{Name: name}
	var report Report
	for _, r := range sorted {
		for _, p := range r.Pages {
			p.Index = len(doc.Pages)
			doc.Pages = append(doc.Pages, p)
		}
		report.merge(r.Report)
	}
	report.Pages = len(doc.Pages)
	report.Chunks = len(sorted)
	return doc, report
}
