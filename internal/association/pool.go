// Package association matches figure/table references found in OCR text against
// the media produced by the figure extractor.
package association

import (
	"strings"
	"sync"

	"github.com/jackzampolin/papershelf/internal/types"
)

// Pool maps identifiers to unclaimed media for one chunk. Entries keep their
// insertion order, which is the scan order for fuzzy matching. A claimed entry is
// removed, so no media item is handed out twice.
type Pool struct {
	mu    sync.Mutex
	order []types.Identifier
	items map[types.Identifier]types.MediaRef
}

// NewPool builds a pool from extractor output. Later items with the same
// identifier replace earlier ones but keep the original position.
func NewPool(media []types.MediaRef) *Pool {
	p := &Pool{items: make(map[types.Identifier]types.MediaRef, len(media))}
	for _, m := range media {
		p.Add(m)
	}
	return p
}

// Add inserts or replaces an entry keyed by the media's lowercased identifier.
func (p *Pool) Add(m types.MediaRef) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := normalizeKey(m.ID())
	if _, exists := p.items[key]; !exists {
		p.order = append(p.order, key)
	}
	p.items[key] = m
}

// Len returns the number of unclaimed entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Claim removes and returns the entry stored under id.
func (p *Pool) Claim(id types.Identifier) (types.MediaRef, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := normalizeKey(id)
	m, ok := p.items[key]
	if !ok {
		return types.MediaRef{}, false
	}
	p.remove(key)
	return m, true
}

// ClaimFuzzy removes and returns the first entry, in insertion order, whose
// FuzzyKey equals id. It returns the pool key that was claimed.
func (p *Pool) ClaimFuzzy(id types.Identifier) (types.Identifier, types.MediaRef, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := normalizeKey(id)
	for _, key := range p.order {
		if FuzzyKey(key) != want {
			continue
		}
		m := p.items[key]
		p.remove(key)
		return key, m, true
	}
	return "", types.MediaRef{}, false
}

// Remaining returns unclaimed media in insertion order.
func (p *Pool) Remaining() []types.MediaRef {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.MediaRef, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.items[key])
	}
	return out
}

// remove deletes key from both the map and the order. Must be called with lock held.
func (p *Pool) remove(key types.Identifier) {
	delete(p.items, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// FuzzyKey deletes the digits before the decimal point: "figure1.2" -> "figure2".
// Keys without a decimal point are returned unchanged.
//
// This bridges OCR reading "Figure 1.2:" as "Figure 2:". Distinct keys can
// collapse to the same value ("figure1.2" and "figure3.2" both become "figure2"),
// in which case the first one in insertion order wins.
func FuzzyKey(key types.Identifier) types.Identifier {
	s := string(key)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return key
	}
	firstDigit := strings.IndexAny(s, "0123456789")
	if firstDigit < 0 || firstDigit > dot {
		return key
	}
	return types.Identifier(s[:firstDigit] + s[dot+1:])
}

func normalizeKey(id types.Identifier) types.Identifier {
	return types.Identifier(strings.ToLower(strings.TrimSpace(string(id))))
}
