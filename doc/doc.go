package doc

import (
	"sort"
	"time"

	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/sync"
)

// entry is one applied change.
type entry struct {
	change Change
	raw    sync.Change
	hash   sync.Hash
}

// register holds the winning write for one key.
type register struct {
	value   string
	deleted bool
	stamp   stamp
}

// stamp orders concurrent writes: higher Lamport wins, then actor, then hash.
type stamp struct {
	lamport uint64
	actor   string
	hash    sync.Hash
}

func (s stamp) after(o stamp) bool {
	if s.lamport != o.lamport {
		return s.lamport > o.lamport
	}
	if s.actor != o.actor {
		return s.actor > o.actor
	}
	return s.hash.Compare(o.hash) > 0
}

// Doc is an immutable document state.
type Doc struct {
	actor      string
	entries    map[sync.Hash]*entry
	order      []sync.Hash
	heads      []sync.Hash
	registers  map[string]register
	seq        map[string]uint64
	maxLamport uint64
	now        func() time.Time
}

// New returns an empty document that commits local changes as actor.
func New(actor string) *Doc {
	return &Doc{
		actor:     actor,
		entries:   make(map[sync.Hash]*entry),
		heads:     []sync.Hash{},
		registers: make(map[string]register),
		seq:       make(map[string]uint64),
		now:       time.Now,
	}
}

// Load rebuilds a document from stored changes in any order.
func Load(actor string, changes []sync.Change) (*Doc, error) {
	d := New(actor)
	if len(changes) == 0 {
		return d, nil
	}
	loaded, _, err := d.apply(changes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load document history")
	}
	return loaded, nil
}

// Actor returns the actor id local changes are committed under.
func (d *Doc) Actor() string {
	return d.actor
}

// WithClock returns a copy of d that timestamps local changes with now.
func (d *Doc) WithClock(now func() time.Time) *Doc {
	out := d.clone()
	out.now = now
	return out
}

// Heads returns the hashes of changes with no successor, sorted.
func (d *Doc) Heads() []sync.Hash {
	out := make([]sync.Hash, len(d.heads))
	copy(out, d.heads)
	return out
}

// Len returns the number of changes in the history.
func (d *Doc) Len() int {
	return len(d.order)
}

// Get returns the current value of key.
func (d *Doc) Get(key string) (string, bool) {
	r, ok := d.registers[key]
	if !ok || r.deleted {
		return "", false
	}
	return r.value, true
}

// Keys returns the live keys, sorted.
func (d *Doc) Keys() []string {
	keys := make([]string, 0, len(d.registers))
	for k, r := range d.registers {
		if !r.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Values returns a snapshot of every live key.
func (d *Doc) Values() map[string]string {
	out := make(map[string]string, len(d.registers))
	for k, r := range d.registers {
		if !r.deleted {
			out[k] = r.value
		}
	}
	return out
}

// Changes returns the encoded history in application order.
func (d *Doc) Changes() []sync.Change {
	out := make([]sync.Change, len(d.order))
	for i, h := range d.order {
		out[i] = d.entries[h].raw
	}
	return out
}

// ChangeByHash returns the encoded change with hash h.
func (d *Doc) ChangeByHash(h sync.Hash) (sync.Change, bool) {
	e, ok := d.entries[h]
	if !ok {
		return nil, false
	}
	return e.raw, true
}

// ChangeHash returns the content hash of an encoded change.
func (d *Doc) ChangeHash(c sync.Change) (sync.Hash, error) {
	if len(c) == 0 {
		return sync.Hash{}, errors.Wrap(errors.ErrMalformedMessage, "empty change")
	}
	return HashOf(c), nil
}

// Commit creates a local change on top of the current heads and applies it.
func (d *Doc) Commit(message string, ops ...Op) (*Doc, sync.Change, *Patch, error) {
	if len(ops) == 0 {
		return nil, nil, nil, errors.NewInvalidRequestError("commit without operations")
	}
	raw, err := Encode(Change{
		Actor:   d.actor,
		Seq:     d.seq[d.actor] + 1,
		Lamport: d.maxLamport + 1,
		Time:    d.now().UnixMilli(),
		Message: message,
		Deps:    d.Heads(),
		Ops:     ops,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	next, patch, err := d.apply([]sync.Change{raw})
	if err != nil {
		return nil, nil, nil, err
	}
	return next, raw, patch, nil
}

// ancestors returns every known change reachable from hashes, inclusive.
// Unknown hashes are ignored.
func (d *Doc) ancestors(hashes []sync.Hash) map[sync.Hash]struct{} {
	seen := make(map[sync.Hash]struct{})
	stack := make([]sync.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := d.entries[h]; ok {
			stack = append(stack, h)
		}
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		for _, dep := range d.entries[h].change.Deps {
			if _, ok := d.entries[dep]; ok {
				stack = append(stack, dep)
			}
		}
	}
	return seen
}

// changesSince returns, in history order, the changes not reachable from heads.
func (d *Doc) changesSince(heads []sync.Hash) []*entry {
	reachable := d.ancestors(heads)
	out := make([]*entry, 0, len(d.order)-len(reachable))
	for _, h := range d.order {
		if _, ok := reachable[h]; !ok {
			out = append(out, d.entries[h])
		}
	}
	return out
}

func (d *Doc) has(h sync.Hash) bool {
	_, ok := d.entries[h]
	return ok
}

func (d *Doc) clone() *Doc {
	out := &Doc{
		actor:      d.actor,
		entries:    make(map[sync.Hash]*entry, len(d.entries)),
		order:      make([]sync.Hash, len(d.order)),
		heads:      make([]sync.Hash, len(d.heads)),
		registers:  make(map[string]register, len(d.registers)),
		seq:        make(map[string]uint64, len(d.seq)),
		maxLamport: d.maxLamport,
		now:        d.now,
	}
	for h, e := range d.entries {
		out.entries[h] = e
	}
	copy(out.order, d.order)
	copy(out.heads, d.heads)
	for k, r := range d.registers {
		out.registers[k] = r
	}
	for a, s := range d.seq {
		out.seq[a] = s
	}
	return out
}
