// Package captions separates a page's body text from the figure and table captions
// that OCR places at the end of the page ("Figure 1: ...", "Table 2.1: ...").
package captions

import (
	"regexp"
	"strings"

	"github.com/jackzampolin/papershelf/internal/types"
)

// markerPattern matches a caption marker. Group 1 is the kind, group 2 the number.
var markerPattern = regexp.MustCompile(`(Figure|Table) (\d+(?:\.\d+)?): `)

type marker struct {
	start   int
	caption types.Caption // Raw is filled in when the marker is cut
}

// trailingMarkers returns the caption markers of the trailing run, in
// left-to-right order. The run opens at the first marker that starts a line;
// from there every marker is a caption, including several on one line.
// Mid-line markers before the run are body prose and are not returned.
func trailingMarkers(text string) []marker {
	var out []marker
	for _, m := range markerPattern.FindAllStringSubmatchIndex(text, -1) {
		start := m[0]
		if len(out) == 0 && start > 0 && text[start-1] != '\n' {
			continue
		}
		kind, _ := types.ParseKind(text[m[2]:m[3]])
		out = append(out, marker{
			start:   start,
			caption: types.Caption{Kind: kind, Number: types.CanonicalNumber(text[m[4]:m[5]])},
		})
	}
	return out
}

// Split cuts the trailing run of captions off text. Markers are consumed from the end
// backward; the body is everything before the first cut. Captions are returned in
// their original left-to-right order and Join(body, captions) == text.
func Split(text string) (string, []types.Caption) {
	markers := trailingMarkers(text)
	if len(markers) == 0 {
		return text, nil
	}

	body := text
	captions := make([]types.Caption, len(markers))
	for i := len(markers) - 1; i >= 0; i-- {
		m := markers[i]
		c := m.caption
		c.Raw = body[m.start:]
		body = body[:m.start]
		captions[i] = c
	}
	return body, captions
}

// SplitMatching is the read-time variant used when captions live inline in the
// persisted text. It cuts trailing captions only while at least one wanted
// identifier is still unaccounted for, so a page without matching media keeps its
// text intact. Every cut caption is returned, wanted or not, in left-to-right
// order, and Join(body, cut) == text.
func SplitMatching(text string, wanted []types.Identifier) (string, []types.Caption) {
	remaining := make(map[types.Identifier]int, len(wanted))
	for _, id := range wanted {
		remaining[id]++
	}
	pending := len(wanted)

	markers := trailingMarkers(text)
	body := text
	var cut []types.Caption
	for i := len(markers) - 1; i >= 0 && pending > 0; i-- {
		m := markers[i]
		c := m.caption
		c.Raw = body[m.start:]
		body = body[:m.start]
		cut = append(cut, c)

		if remaining[c.ID()] > 0 {
			remaining[c.ID()]--
			pending--
		}
	}

	// restore left-to-right order
	for i, j := 0, len(cut)-1; i < j; i, j = i+1, j-1 {
		cut[i], cut[j] = cut[j], cut[i]
	}
	return body, cut
}

// Join reassembles body text and captions.
func Join(body string, captions []types.Caption) string {
	var b strings.Builder
	b.WriteString(body)
	for _, c := range captions {
		b.WriteString(c.Raw)
	}
	return b.String()
}
