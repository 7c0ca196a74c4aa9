package sync

// Change is one encoded change exactly as it travels between replicas.
// The sync core never looks inside; hash identity and dependencies come
// from the Backend.
type Change []byte

// HaveSummary asserts "I have everything reachable from LastSync, plus the
// changes in Bloom". Only the Backend builds these; the core inspects
// LastSync to detect a stale baseline.
type HaveSummary struct {
	LastSync []Hash `json:"lastSync"`
	Bloom    []byte `json:"bloom"`
}

// IsReset reports whether the summary is the empty "start over" summary
// sent when a peer no longer recognises our baseline.
func (h HaveSummary) IsReset() bool {
	return len(h.LastSync) == 0 && len(h.Bloom) == 0
}

func (h HaveSummary) clone() HaveSummary {
	bloom := make([]byte, len(h.Bloom))
	copy(bloom, h.Bloom)
	return HaveSummary{LastSync: cloneHashes(h.LastSync), Bloom: bloom}
}

// Patch describes the local effect of applying changes. It is produced by
// the Backend and passed through untouched.
type Patch any

// Backend is the document engine the sync core negotiates on behalf of.
//
// B is the concrete backend type: ApplyChanges returns a new B rather than
// mutating the receiver, so a backend value can be treated as an immutable
// snapshot by concurrent readers.
type Backend[B any] interface {
	// Heads returns the hashes of changes with no known successor, sorted.
	Heads() []Hash

	// ChangeByHash returns the encoded change, or false if it is not known.
	ChangeByHash(h Hash) (Change, bool)

	// ChangeHash returns the content hash of an encoded change.
	ChangeHash(c Change) (Hash, error)

	// HaveSummary summarises every change not reachable from fromHeads.
	HaveSummary(fromHeads []Hash) (HaveSummary, error)

	// MissingDependencies returns the hashes that must arrive before
	// changes can be applied: dependencies of the batch and declared heads
	// that are neither in the document nor in the batch. Sorted.
	MissingDependencies(changes []Change, declaredHeads []Hash) ([]Hash, error)

	// ApplyChanges applies a batch whose dependencies are all satisfied.
	// Already-known changes are skipped.
	ApplyChanges(changes []Change) (B, Patch, error)

	// ChangesToSend selects the changes a peer is missing given its
	// have-summaries and explicit needs.
	ChangesToSend(theirHave []HaveSummary, theirNeed []Hash) ([]Change, error)
}
