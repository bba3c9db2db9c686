package association

import (
	"github.com/jackzampolin/papershelf/internal/types"
)

// Claim records one successful association.
type Claim struct {
	Requested types.Identifier // identifier found in the page text
	Key       types.Identifier // pool key that was claimed
	Fuzzy     bool             // true when matched through FuzzyKey
	Media     types.MediaRef
}

// Result is the outcome of resolving one request sequence against a pool.
type Result struct {
	Claims    []Claim
	Unmatched []types.Identifier // requested but not found, in request order
	Orphans   []types.MediaRef   // pool entries still unclaimed after this pass
}

// Resolve claims media for each requested identifier in order: exact key first,
// then the fuzzy fallback. Identifiers with no match are reported in Unmatched;
// nothing is treated as an error.
func Resolve(pool *Pool, requested []types.Identifier) Result {
	var res Result
	for _, id := range requested {
		if m, ok := pool.Claim(id); ok {
			res.Claims = append(res.Claims, Claim{Requested: id, Key: normalizeKey(id), Media: m})
			continue
		}
		if key, m, ok := pool.ClaimFuzzy(id); ok {
			res.Claims = append(res.Claims, Claim{Requested: id, Key: key, Fuzzy: true, Media: m})
			continue
		}
		res.Unmatched = append(res.Unmatched, id)
	}
	res.Orphans = pool.Remaining()
	return res
}
