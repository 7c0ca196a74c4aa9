package sync

import (
	"bytes"
	"encoding/json"

	"github.com/teranos/docsync/errors"
)

// PeerState is the negotiation memory for one remote peer.
//
// Generate and Receive take a PeerState by value and return a new one; the
// caller stores the returned value and passes it to the next call. Slices
// are never shared between the value passed in and the value returned.
//
// UnappliedChanges is non-empty only while OurNeed is non-empty.
type PeerState struct {
	// SharedHeads is the frontier both sides are believed to share.
	SharedHeads []Hash
	// OurNeed lists hashes we know we are missing.
	OurNeed []Hash
	// TheirNeed lists hashes the peer declared it is missing.
	TheirNeed []Hash
	// TheirHave holds the have-summaries from the peer's latest message.
	TheirHave []HaveSummary
	// UnappliedChanges buffers received changes waiting on dependencies.
	UnappliedChanges []Change
	// TheirHeads holds the heads from the peer's latest message.
	TheirHeads []Hash

	// Per-session bookkeeping, never persisted.
	lastSent   *announcement
	sentHashes map[Hash]struct{}
}

// announcement is what we last told the peer, minus the changes.
type announcement struct {
	heads []Hash
	need  []Hash
	have  []HaveSummary
}

// FreshPeerState returns the empty state a new peer relationship starts from.
func FreshPeerState() PeerState {
	return PeerState{}
}

// resetTo returns a fresh state whose shared heads are heads.
func resetTo(heads []Hash) PeerState {
	return PeerState{SharedHeads: SortedUnique(heads)}
}

// Equal compares the negotiation fields of two states. Head and need sets
// compare order-insensitively; have-summaries and buffered changes compare
// in order. Session bookkeeping is ignored.
func (s PeerState) Equal(other PeerState) bool {
	if !HeadsEqual(s.SharedHeads, other.SharedHeads) ||
		!HeadsEqual(s.OurNeed, other.OurNeed) ||
		!HeadsEqual(s.TheirNeed, other.TheirNeed) ||
		!HeadsEqual(s.TheirHeads, other.TheirHeads) {
		return false
	}
	if !haveEqual(s.TheirHave, other.TheirHave) {
		return false
	}
	if len(s.UnappliedChanges) != len(other.UnappliedChanges) {
		return false
	}
	for i := range s.UnappliedChanges {
		if !bytes.Equal(s.UnappliedChanges[i], other.UnappliedChanges[i]) {
			return false
		}
	}
	return true
}

// IsFresh reports whether the state carries no negotiation memory beyond
// its shared heads.
func (s PeerState) IsFresh() bool {
	return len(s.OurNeed) == 0 && len(s.TheirNeed) == 0 && len(s.TheirHave) == 0 &&
		len(s.UnappliedChanges) == 0 && len(s.TheirHeads) == 0
}

// ForgetSent drops the record of what was sent to the peer. Call it when a
// new session starts: messages from an earlier connection may never have
// arrived.
func (s PeerState) ForgetSent() PeerState {
	out := s.clone()
	out.lastSent = nil
	out.sentHashes = nil
	return out
}

func (s PeerState) clone() PeerState {
	out := PeerState{
		SharedHeads: cloneHashes(s.SharedHeads),
		OurNeed:     cloneHashes(s.OurNeed),
		TheirNeed:   cloneHashes(s.TheirNeed),
		TheirHeads:  cloneHashes(s.TheirHeads),
		TheirHave:   cloneHave(s.TheirHave),
	}
	if len(s.UnappliedChanges) > 0 {
		out.UnappliedChanges = make([]Change, len(s.UnappliedChanges))
		copy(out.UnappliedChanges, s.UnappliedChanges)
	}
	if s.lastSent != nil {
		out.lastSent = &announcement{
			heads: cloneHashes(s.lastSent.heads),
			need:  cloneHashes(s.lastSent.need),
			have:  cloneHave(s.lastSent.have),
		}
	}
	if s.sentHashes != nil {
		out.sentHashes = make(map[Hash]struct{}, len(s.sentHashes))
		for h := range s.sentHashes {
			out.sentHashes[h] = struct{}{}
		}
	}
	return out
}

func cloneHave(have []HaveSummary) []HaveSummary {
	out := make([]HaveSummary, len(have))
	for i, h := range have {
		out[i] = h.clone()
	}
	return out
}

func haveEqual(a, b []HaveSummary) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !HeadsEqual(a[i].LastSync, b[i].LastSync) || !bytes.Equal(a[i].Bloom, b[i].Bloom) {
			return false
		}
	}
	return true
}

// persistedState is the on-disk form of a PeerState. Only the shared heads
// survive a restart; everything else is rebuilt by the next exchange.
type persistedState struct {
	Version     int    `json:"version"`
	SharedHeads []Hash `json:"sharedHeads"`
}

const persistedStateVersion = 1

// EncodePeerState serialises the durable part of a PeerState.
func EncodePeerState(s PeerState) ([]byte, error) {
	data, err := json.Marshal(persistedState{
		Version:     persistedStateVersion,
		SharedHeads: SortedUnique(s.SharedHeads),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode peer state")
	}
	return data, nil
}

// DecodePeerState restores a PeerState written by EncodePeerState.
func DecodePeerState(data []byte) (PeerState, error) {
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return PeerState{}, errors.Wrap(err, "failed to decode peer state")
	}
	if ps.Version != persistedStateVersion {
		return PeerState{}, errors.Newf("unsupported peer state version %d", ps.Version)
	}
	return resetTo(ps.SharedHeads), nil
}
