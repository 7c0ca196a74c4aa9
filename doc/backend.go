package doc

import (
	"sort"

	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/sync"
)

var _ sync.Backend[*Doc] = (*Doc)(nil)

// decoded pairs an incoming encoded change with its parsed form.
type decoded struct {
	raw    sync.Change
	hash   sync.Hash
	change Change
}

func decodeBatch(changes []sync.Change) ([]decoded, error) {
	out := make([]decoded, 0, len(changes))
	for i, raw := range changes {
		c, err := Decode(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "change %d of %d", i+1, len(changes))
		}
		out = append(out, decoded{raw: raw, hash: HashOf(raw), change: c})
	}
	return out, nil
}

// MissingDependencies returns the hashes that must arrive before changes can
// be applied: dependencies of the batch and declared heads that are neither
// in the document nor in the batch. Since every change in the document has
// all its ancestors present, checking direct dependencies is enough.
func (d *Doc) MissingDependencies(changes []sync.Change, declaredHeads []sync.Hash) ([]sync.Hash, error) {
	batch, err := decodeBatch(changes)
	if err != nil {
		return nil, err
	}
	inBatch := make(map[sync.Hash]struct{}, len(batch))
	for _, c := range batch {
		inBatch[c.hash] = struct{}{}
	}

	missing := make([]sync.Hash, 0)
	check := func(h sync.Hash) {
		if d.has(h) {
			return
		}
		if _, ok := inBatch[h]; ok {
			return
		}
		missing = append(missing, h)
	}
	for _, c := range batch {
		for _, dep := range c.change.Deps {
			check(dep)
		}
	}
	for _, h := range declaredHeads {
		check(h)
	}
	return sync.SortedUnique(missing), nil
}

// ApplyChanges applies a batch whose dependencies are all satisfied and
// returns the new document with a *Patch. Changes already in the document,
// or repeated within the batch, are skipped.
func (d *Doc) ApplyChanges(changes []sync.Change) (*Doc, sync.Patch, error) {
	next, patch, err := d.apply(changes)
	if err != nil {
		return d, nil, err
	}
	return next, patch, nil
}

func (d *Doc) apply(changes []sync.Change) (*Doc, *Patch, error) {
	batch, err := decodeBatch(changes)
	if err != nil {
		return nil, nil, err
	}

	pending := make([]decoded, 0, len(batch))
	queued := make(map[sync.Hash]struct{}, len(batch))
	for _, c := range batch {
		if d.has(c.hash) {
			continue
		}
		if _, ok := queued[c.hash]; ok {
			continue
		}
		queued[c.hash] = struct{}{}
		pending = append(pending, c)
	}

	next := d.clone()
	patch := &Patch{Applied: []sync.Hash{}, Diffs: []Diff{}}
	touched := make(map[string]struct{})

	// Apply in dependency order: each pass applies every pending change whose
	// dependencies are present. A pass that makes no progress means the
	// batch is incomplete.
	for len(pending) > 0 {
		var remaining []decoded
		for _, c := range pending {
			if !next.depsPresent(c.change) {
				remaining = append(remaining, c)
				continue
			}
			next.insert(c)
			patch.Applied = append(patch.Applied, c.hash)
			for _, op := range c.change.Ops {
				touched[op.Key] = struct{}{}
			}
		}
		if len(remaining) == len(pending) {
			missing, _ := next.MissingDependencies(rawOf(remaining), nil)
			return nil, nil, errors.Wrapf(errors.ErrMissingDependency,
				"%d changes wait on %d unknown dependencies (first %s)",
				len(remaining), len(missing), firstShort(missing))
		}
		pending = remaining
	}

	keys := make([]string, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		before, hadBefore := d.Get(k)
		after, hasAfter := next.Get(k)
		switch {
		case hasAfter && (!hadBefore || before != after):
			patch.Diffs = append(patch.Diffs, Diff{Key: k, Value: after})
		case !hasAfter && hadBefore:
			patch.Diffs = append(patch.Diffs, Diff{Key: k, Deleted: true})
		}
	}
	patch.Heads = next.Heads()
	return next, patch, nil
}

func (d *Doc) depsPresent(c Change) bool {
	for _, dep := range c.Deps {
		if !d.has(dep) {
			return false
		}
	}
	return true
}

// insert adds one change whose dependencies are present. Mutates d, which
// must be a private clone.
func (d *Doc) insert(c decoded) {
	d.entries[c.hash] = &entry{change: c.change, raw: c.raw, hash: c.hash}
	d.order = append(d.order, c.hash)

	deps := make(map[sync.Hash]struct{}, len(c.change.Deps))
	for _, dep := range c.change.Deps {
		deps[dep] = struct{}{}
	}
	heads := make([]sync.Hash, 0, len(d.heads)+1)
	for _, h := range d.heads {
		if _, superseded := deps[h]; !superseded {
			heads = append(heads, h)
		}
	}
	heads = append(heads, c.hash)
	sync.SortHashes(heads)
	d.heads = heads

	if c.change.Seq > d.seq[c.change.Actor] {
		d.seq[c.change.Actor] = c.change.Seq
	}
	if c.change.Lamport > d.maxLamport {
		d.maxLamport = c.change.Lamport
	}

	st := stamp{lamport: c.change.Lamport, actor: c.change.Actor, hash: c.hash}
	for _, op := range c.change.Ops {
		current, exists := d.registers[op.Key]
		if exists && !st.after(current.stamp) {
			continue
		}
		d.registers[op.Key] = register{
			value:   op.Value,
			deleted: op.Action == OpDelete,
			stamp:   st,
		}
	}
}

// HaveSummary summarises every change not reachable from fromHeads in a
// Bloom filter.
func (d *Doc) HaveSummary(fromHeads []sync.Hash) (sync.HaveSummary, error) {
	since := d.changesSince(fromHeads)
	hashes := make([]sync.Hash, len(since))
	for i, e := range since {
		hashes[i] = e.hash
	}
	return sync.HaveSummary{
		LastSync: sync.SortedUnique(fromHeads),
		Bloom:    NewBloomFilter(hashes).Bytes(),
	}, nil
}

// ChangesToSend selects the changes the peer is missing.
//
// With no have-summaries only explicitly needed changes are sent. Otherwise
// every change since the peer's lastSync hashes that no Bloom filter
// contains is sent, together with all changes depending on it, since a
// peer cannot hold a change without its dependencies. Explicitly needed
// changes are always included. Order follows history, needed changes
// outside that range first.
func (d *Doc) ChangesToSend(theirHave []sync.HaveSummary, theirNeed []sync.Hash) ([]sync.Change, error) {
	if len(theirHave) == 0 {
		out := make([]sync.Change, 0, len(theirNeed))
		for _, h := range theirNeed {
			if raw, ok := d.ChangeByHash(h); ok {
				out = append(out, raw)
			}
		}
		return out, nil
	}

	var lastSync []sync.Hash
	filters := make([]*BloomFilter, 0, len(theirHave))
	for _, have := range theirHave {
		lastSync = append(lastSync, have.LastSync...)
		f, err := DecodeBloomFilter(have.Bloom)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	since := d.changesSince(lastSync)
	inRange := make(map[sync.Hash]struct{}, len(since))
	dependents := make(map[sync.Hash][]sync.Hash)
	toSend := make(map[sync.Hash]struct{})
	for _, e := range since {
		inRange[e.hash] = struct{}{}
		for _, dep := range e.change.Deps {
			dependents[dep] = append(dependents[dep], e.hash)
		}
		if !anyContains(filters, e.hash) {
			toSend[e.hash] = struct{}{}
		}
	}

	stack := make([]sync.Hash, 0, len(toSend))
	for h := range toSend {
		stack = append(stack, h)
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range dependents[h] {
			if _, ok := toSend[dep]; !ok {
				toSend[dep] = struct{}{}
				stack = append(stack, dep)
			}
		}
	}

	out := make([]sync.Change, 0, len(toSend)+len(theirNeed))
	for _, h := range theirNeed {
		if _, ok := inRange[h]; ok {
			toSend[h] = struct{}{}
			continue
		}
		if raw, ok := d.ChangeByHash(h); ok {
			out = append(out, raw)
		}
	}
	for _, e := range since {
		if _, ok := toSend[e.hash]; ok {
			out = append(out, e.raw)
		}
	}
	return out, nil
}

func anyContains(filters []*BloomFilter, h sync.Hash) bool {
	for _, f := range filters {
		if f.Contains(h) {
			return true
		}
	}
	return false
}

func rawOf(batch []decoded) []sync.Change {
	out := make([]sync.Change, len(batch))
	for i, c := range batch {
		out[i] = c.raw
	}
	return out
}

func firstShort(hashes []sync.Hash) string {
	if len(hashes) == 0 {
		return "none"
	}
	return ShortHash(hashes[0])
}
