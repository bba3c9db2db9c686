package chunk

import (
	"github.com/jackzampolin/papershelf/internal/types"
)

// Stage names an external collaborator call.
type Stage string

const (
	StageSlice     Stage = "slice"
	StageRasterize Stage = "rasterize"
	StageOCR       Stage = "ocr"
	StageExtract   Stage = "extract"
)

// Gap is a reference found in page text that no media item satisfied.
type Gap struct {
	Page int              `json:"page" yaml:"page"`
	ID   types.Identifier `json:"id" yaml:"id"`
}

// Orphan is an extracted media item that no page claimed.
type Orphan struct {
	Chunk int              `json:"chunk" yaml:"chunk"`
	ID    types.Identifier `json:"id" yaml:"id"`
}

// Collision is a fuzzy claim that could not take the identifier written in the
// page text because another media item on the page already has it.
type Collision struct {
	Page      int              `json:"page" yaml:"page"`
	Requested types.Identifier `json:"requested" yaml:"requested"`
	Kept      types.Identifier `json:"kept" yaml:"kept"`
}

// Degrade records a collaborator failure that was absorbed into a partial result.
// Page is -1 when the failure covers the whole chunk.
type Degrade struct {
	Chunk int    `json:"chunk" yaml:"chunk"`
	Page  int    `json:"page" yaml:"page"`
	Stage Stage  `json:"stage" yaml:"stage"`
	Error string `json:"error" yaml:"error"`
}

// Report describes data-quality loss while assembling one document.
type Report struct {
	Pages      int         `json:"pages" yaml:"pages"`
	Chunks     int         `json:"chunks" yaml:"chunks"`
	Matched    int         `json:"matched" yaml:"matched"`
	Fuzzy      int         `json:"fuzzy" yaml:"fuzzy"`
	Unmatched  []Gap       `json:"unmatched,omitempty" yaml:"unmatched,omitempty"`
	Orphans    []Orphan    `json:"orphans,omitempty" yaml:"orphans,omitempty"`
	Degrades   []Degrade   `json:"degrades,omitempty" yaml:"degrades,omitempty"`
	Collisions []Collision `json:"collisions,omitempty" yaml:"collisions,omitempty"`
}

// Clean reports whether every reference and every media item was associated and
// no stage degraded.
func (r Report) Clean() bool {
	return len(r.Unmatched) == 0 && len(r.Orphans) == 0 && len(r.Degrades) == 0
}

func (r *Report) merge(o Report) {
	r.Matched += o.Matched
	r.Fuzzy += o.Fuzzy
	r.Unmatched = append(r.Unmatched, o.Unmatched...)
	r.Orphans = append(r.Orphans, o.Orphans...)
	r.Degrades = append(r.Degrades, o.Degrades...)
	r.Collisions = append(r.Collisions, o.Collisions...)
}
