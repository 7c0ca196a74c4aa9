package sync

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// fakeChange is the payload of a test change: a label and its parents.
type fakeChange struct {
	ID   string `json:"id"`
	Deps []Hash `json:"deps"`
}

func hashID(id string) Hash {
	return Hash(sha256.Sum256([]byte(id)))
}

func mkChange(id string, deps ...Hash) Change {
	data, err := json.Marshal(fakeChange{ID: id, Deps: deps})
	if err != nil {
		panic(err)
	}
	return Change(data)
}

func decodeFake(c Change) (fakeChange, error) {
	var fc fakeChange
	if err := json.Unmarshal(c, &fc); err != nil {
		return fc, err
	}
	if fc.ID == "" {
		return fc, fmt.Errorf("fake change without id")
	}
	return fc, nil
}

// fakeBackend is an in-memory history of fakeChanges. Its "Bloom filter" is
// the exact list of hashes, which keeps selection deterministic.
type fakeBackend struct {
	changes    map[Hash]fakeChange
	raw        map[Hash]Change
	order      []Hash
	applyCalls int
}

var _ Backend[*fakeBackend] = (*fakeBackend)(nil)

func newFakeBackend(changes ...Change) *fakeBackend {
	b := &fakeBackend{changes: map[Hash]fakeChange{}, raw: map[Hash]Change{}}
	if len(changes) > 0 {
		next, _, err := b.ApplyChanges(changes)
		if err != nil {
			panic(err)
		}
		return next
	}
	return b
}

func (b *fakeBackend) clone() *fakeBackend {
	out := &fakeBackend{
		changes:    make(map[Hash]fakeChange, len(b.changes)),
		raw:        make(map[Hash]Change, len(b.raw)),
		order:      append([]Hash(nil), b.order...),
		applyCalls: b.applyCalls,
	}
	for h, c := range b.changes {
		out.changes[h] = c
	}
	for h, c := range b.raw {
		out.raw[h] = c
	}
	return out
}

func (b *fakeBackend) Heads() []Hash {
	hasChild := map[Hash]bool{}
	for _, c := range b.changes {
		for _, d := range c.Deps {
			hasChild[d] = true
		}
	}
	heads := []Hash{}
	for h := range b.changes {
		if !hasChild[h] {
			heads = append(heads, h)
		}
	}
	SortHashes(heads)
	return heads
}

func (b *fakeBackend) ChangeByHash(h Hash) (Change, bool) {
	c, ok := b.raw[h]
	return c, ok
}

func (b *fakeBackend) ChangeHash(c Change) (Hash, error) {
	fc, err := decodeFake(c)
	if err != nil {
		return Hash{}, err
	}
	return hashID(fc.ID), nil
}

func (b *fakeBackend) reachable(from []Hash) map[Hash]bool {
	seen := map[Hash]bool{}
	stack := append([]Hash(nil), from...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c, ok := b.changes[h]
		if !ok || seen[h] {
			continue
		}
		seen[h] = true
		stack = append(stack, c.Deps...)
	}
	return seen
}

func (b *fakeBackend) since(from []Hash) []Hash {
	reach := b.reachable(from)
	var out []Hash
	for _, h := range b.order {
		if !reach[h] {
			out = append(out, h)
		}
	}
	return out
}

func (b *fakeBackend) HaveSummary(from []Hash) (HaveSummary, error) {
	var bloom []byte
	for _, h := range b.since(from) {
		bloom = append(bloom, h[:]...)
	}
	if bloom == nil {
		bloom = []byte{}
	}
	return HaveSummary{LastSync: SortedUnique(from), Bloom: bloom}, nil
}

func (b *fakeBackend) MissingDependencies(changes []Change, heads []Hash) ([]Hash, error) {
	inBatch := map[Hash]bool{}
	var decoded []fakeChange
	for _, c := range changes {
		fc, err := decodeFake(c)
		if err != nil {
			return nil, err
		}
		inBatch[hashID(fc.ID)] = true
		decoded = append(decoded, fc)
	}
	var missing []Hash
	check := func(h Hash) {
		if _, ok := b.changes[h]; !ok && !inBatch[h] {
			missing = append(missing, h)
		}
	}
	for _, fc := range decoded {
		for _, d := range fc.Deps {
			check(d)
		}
	}
	for _, h := range heads {
		check(h)
	}
	return SortedUnique(missing), nil
}

func (b *fakeBackend) ApplyChanges(changes []Change) (*fakeBackend, Patch, error) {
	next := b.clone()
	next.applyCalls++
	var applied []string
	pending := append([]Change(nil), changes...)
	for len(pending) > 0 {
		var remaining []Change
		for _, c := range pending {
			fc, err := decodeFake(c)
			if err != nil {
				return b, nil, err
			}
			h := hashID(fc.ID)
			if _, ok := next.changes[h]; ok {
				continue
			}
			ready := true
			for _, d := range fc.Deps {
				if _, ok := next.changes[d]; !ok {
					ready = false
				}
			}
			if !ready {
				remaining = append(remaining, c)
				continue
			}
			next.changes[h] = fc
			next.raw[h] = c
			next.order = append(next.order, h)
			applied = append(applied, fc.ID)
		}
		if len(remaining) == len(pending) {
			return b, nil, fmt.Errorf("missing dependencies for %d changes", len(remaining))
		}
		pending = remaining
	}
	return next, applied, nil
}

func (b *fakeBackend) ChangesToSend(have []HaveSummary, need []Hash) ([]Change, error) {
	if len(have) == 0 {
		var out []Change
		for _, h := range need {
			if c, ok := b.raw[h]; ok {
				out = append(out, c)
			}
		}
		return out, nil
	}
	var lastSync []Hash
	theyHave := map[Hash]bool{}
	for _, hs := range have {
		lastSync = append(lastSync, hs.LastSync...)
		for i := 0; i+HashSize <= len(hs.Bloom); i += HashSize {
			var h Hash
			copy(h[:], hs.Bloom[i:i+HashSize])
			theyHave[h] = true
		}
	}
	send := map[Hash]bool{}
	for _, h := range b.since(lastSync) {
		if !theyHave[h] {
			send[h] = true
		}
	}
	for _, h := range need {
		send[h] = true
	}
	var out []Change
	for _, h := range b.order {
		if send[h] {
			out = append(out, b.raw[h])
		}
	}
	return out, nil
}

// commit adds a local change on top of the current heads.
func (b *fakeBackend) commit(id string) (*fakeBackend, Change) {
	c := mkChange(id, b.Heads()...)
	next, _, err := b.ApplyChanges([]Change{c})
	if err != nil {
		panic(err)
	}
	return next, c
}

// syncPair exchanges messages until neither side has anything to send,
// returning the final backends and states and the number of rounds run.
func syncPair(a, b *fakeBackend, as, bs PeerState, maxRounds int) (*fakeBackend, *fakeBackend, PeerState, PeerState, int, error) {
	for round := 1; round <= maxRounds; round++ {
		var aMsg, bMsg *Message
		var err error
		if as, aMsg, err = Generate(a, as); err != nil {
			return a, b, as, bs, round, err
		}
		if bs, bMsg, err = Generate(b, bs); err != nil {
			return a, b, as, bs, round, err
		}
		if aMsg == nil && bMsg == nil {
			return a, b, as, bs, round, nil
		}
		if aMsg != nil {
			if b, bs, _, err = Receive(b, aMsg, bs); err != nil {
				return a, b, as, bs, round, err
			}
		}
		if bMsg != nil {
			if a, as, _, err = Receive(a, bMsg, as); err != nil {
				return a, b, as, bs, round, err
			}
		}
	}
	return a, b, as, bs, maxRounds, fmt.Errorf("did not converge within %d rounds", maxRounds)
}
