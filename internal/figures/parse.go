package figures

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackzampolin/papershelf/internal/types"
)

// outputName matches pdffigures2 image names. The PDF name may itself contain
// hyphens, so the pattern is anchored at the end.
var outputName = regexp.MustCompile(`-(Figure|Table)(\d+(?:\.\d+)?)-(\d+)\.png$`)

type parsed struct {
	media types.MediaRef
	page  int
	num   float64
}

// ParseOutputDir reads pdffigures2 output images from dir. Files that do not
// match the naming scheme are ignored. Results are ordered by source page,
// then figures before tables, then number, so pool insertion order does not
// depend on directory listing order. When load is false only Path is set.
func ParseOutputDir(dir string, load bool) ([]types.MediaRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdffigures2 output: %w", err)
	}

	var items []parsed
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := outputName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		kind, _ := types.ParseKind(m[1])
		page, _ := strconv.Atoi(m[3])
		num, _ := strconv.ParseFloat(m[2], 64)

		ref := types.MediaRef{
			Kind:   kind,
			Number: m[2],
			Path:   filepath.Join(dir, e.Name()),
			Format: "png",
		}
		if load {
			data, err := os.ReadFile(ref.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
			}
			ref.Payload = data
		}
		items = append(items, parsed{media: ref, page: page, num: num})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.page != b.page {
			return a.page < b.page
		}
		if a.media.Kind != b.media.Kind {
			return a.media.Kind == types.KindFigure
		}
		if a.num != b.num {
			return a.num < b.num
		}
		return strings.Compare(a.media.Number, b.media.Number) < 0
	})

	media := make([]types.MediaRef, len(items))
	for i, it := range items {
		media[i] = it.media
	}
	return media, nil
}
