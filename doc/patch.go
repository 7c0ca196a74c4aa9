package doc

import (
	"github.com/teranos/docsync/sync"
)

// Diff is the visible effect of an apply on one key.
type Diff struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Patch describes what an apply changed locally.
type Patch struct {
	// Applied lists the hashes of changes that were new, in application order.
	Applied []sync.Hash `json:"applied"`
	// Diffs lists keys whose visible value changed, sorted by key.
	Diffs []Diff `json:"diffs"`
	// Heads are the document heads after the apply.
	Heads []sync.Hash `json:"heads"`
}

// Empty reports whether the apply changed nothing.
func (p *Patch) Empty() bool {
	return p == nil || len(p.Applied) == 0
}

// AsPatch recovers a *Patch from the opaque value the sync core passes
// through. It returns nil for a nil or foreign patch.
func AsPatch(p sync.Patch) *Patch {
	patch, _ := p.(*Patch)
	return patch
}
