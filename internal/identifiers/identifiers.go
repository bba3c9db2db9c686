// Package identifiers scans OCR page text for figure and table references.
package identifiers

import (
	"regexp"
	"strings"

	"github.com/jackzampolin/papershelf/internal/types"
)

// referencePattern is the strict form: an integer followed directly by a colon.
// "Figure 1.2:" does not match because the digits must be followed by ':'.
var referencePattern = regexp.MustCompile(`(?:Figure|Table) \d+:`)

// Extract returns every "Figure N:" / "Table N:" reference in text as an Identifier,
// in order of appearance with duplicates preserved. The order is the claim order
// used during association.
func Extract(text string) []types.Identifier {
	matches := referencePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	ids := make([]types.Identifier, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, Normalize(m))
	}
	return ids
}

// Normalize converts a raw reference like "Figure 12:" to "figure12". Leading
// zeros of the number are dropped ("Table 01:" -> "table1").
func Normalize(raw string) types.Identifier {
	s := strings.Join(strings.Fields(raw), "")
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, ":")
	if kind, number, err := types.ParseIdentifier(s); err == nil {
		return types.NewIdentifier(kind, types.CanonicalNumber(number))
	}
	return types.Identifier(s)
}
