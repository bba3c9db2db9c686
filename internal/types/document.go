// Package types provides the document model shared by the assembly, chunking and
// dataset packages. It has no dependencies on other papershelf packages to avoid
// import cycles.
package types

import (
	"fmt"
	"strings"
)

// MediaKind distinguishes figures from tables.
type MediaKind string

const (
	KindFigure MediaKind = "figure"
	KindTable  MediaKind = "table"
)

// ParseKind converts "Figure", "table", etc. to a MediaKind.
func ParseKind(s string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "figure":
		return KindFigure, true
	case "table":
		return KindTable, true
	default:
		return "", false
	}
}

// Label returns the capitalized form used in page text ("Figure", "Table").
func (k MediaKind) Label() string {
	switch k {
	case KindFigure:
		return "Figure"
	case KindTable:
		return "Table"
	default:
		return string(k)
	}
}

// Identifier is the canonical matching key between text references and extracted
// media: lowercased kind followed by the local number, e.g. "figure1", "table2.1".
type Identifier string

// NewIdentifier renders kind and number without separators.
func NewIdentifier(kind MediaKind, number string) Identifier {
	return Identifier(string(kind) + strings.TrimSpace(number))
}

// ParseIdentifier splits a raw identifier ("Figure1.2", "table3") into kind and number.
// Case is ignored; the number must be digits with at most one decimal point.
func ParseIdentifier(raw string) (MediaKind, string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, kind := range []MediaKind{KindFigure, KindTable} {
		if !strings.HasPrefix(s, string(kind)) {
			continue
		}
		number := s[len(kind):]
		if !IsNumber(number) {
			return "", "", fmt.Errorf("identifier %q: invalid number %q", raw, number)
		}
		return kind, number, nil
	}
	return "", "", fmt.Errorf("identifier %q: unknown media kind", raw)
}

// Kind returns the kind prefix, or "" if the identifier is malformed.
func (id Identifier) Kind() MediaKind {
	kind, _, err := ParseIdentifier(string(id))
	if err != nil {
		return ""
	}
	return kind
}

// Number returns the local number, or "" if the identifier is malformed.
func (id Identifier) Number() string {
	_, number, err := ParseIdentifier(string(id))
	if err != nil {
		return ""
	}
	return number
}

// IsNumber reports whether s is an integer or a decimal like "2.1".
func IsNumber(s string) bool {
	if s == "" {
		return false
	}
	dots := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && i > 0 && i < len(s)-1:
			dots++
		default:
			return false
		}
	}
	return dots <= 1
}

// CanonicalNumber drops leading zeros from the integer part of a number as
// printed by OCR: "01" -> "1", "00.3" -> "0.3". The fraction is kept as is.
func CanonicalNumber(s string) string {
	whole, frac, hasFrac := strings.Cut(s, ".")
	trimmed := strings.TrimLeft(whole, "0")
	if trimmed == "" && whole != "" {
		trimmed = "0"
	}
	if hasFrac {
		return trimmed + "." + frac
	}
	return trimmed
}

// MediaRef is an extracted figure or table image.
type MediaRef struct {
	Kind        MediaKind
	Number      string // local number as printed, may be fractional ("1.2")
	CaptionText string
	Payload     []byte // image bytes, nil when only Path is known
	Path        string // on-disk location of the image, if any
	Format      string // image extension without dot, e.g. "png"
}

// ID returns the media's canonical identifier.
func (m MediaRef) ID() Identifier {
	return NewIdentifier(m.Kind, m.Number)
}

// Page is one page's text plus the media associated with it. BodyText excludes
// the trailing captions, which are kept in Captions in page order.
type Page struct {
	Index    int
	BodyText string
	Captions []Caption
	Media    []MediaRef
}

// Text returns the page text as recognized, with captions reattached.
func (p Page) Text() string {
	var b strings.Builder
	b.WriteString(p.BodyText)
	for _, c := range p.Captions {
		b.WriteString(c.Raw)
	}
	return b.String()
}

// Document is the ordered page sequence of one source PDF.
type Document struct {
	Name  string
	Pages []Page
}

// Validate checks that page indices are exactly 0..N-1 in order.
func (d *Document) Validate() error {
	for i, p := range d.Pages {
		if p.Index != i {
			return fmt.Errorf("document %q: page at position %d has index %d", d.Name, i, p.Index)
		}
	}
	return nil
}

// MediaCount returns the number of media items across all pages.
func (d *Document) MediaCount() int {
	n := 0
	for _, p := range d.Pages {
		n += len(p.Media)
	}
	return n
}

// Caption is trailing descriptive text for a figure or table, split off page text.
type Caption struct {
	Kind   MediaKind
	Number string
	Raw    string // exact text cut from the page, including the "Figure N: " prefix
}

// ID returns the identifier the caption describes.
func (c Caption) ID() Identifier {
	return NewIdentifier(c.Kind, c.Number)
}
