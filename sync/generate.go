package sync

import (
	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/logger"
)

// Generate decides what to tell the peer next.
//
// It returns the updated state and the message to send, or a nil message
// when there is nothing to say: either both sides are converged (the state
// is reset to its fresh form) or the message would only repeat the last
// one sent. A nil message alone does not mean in sync; callers test
// HeadsEqual(state.SharedHeads, backend.Heads()) for that. localChanges
// are changes just created on this replica; they are pushed along with
// whatever the backend selects.
//
// The backend is only read.
func Generate[B Backend[B]](backend B, state PeerState, localChanges ...Change) (PeerState, *Message, error) {
	ourHeads := backend.Heads()

	if HeadsEqual(ourHeads, state.SharedHeads) && len(state.OurNeed) == 0 {
		return resetTo(ourHeads), nil, nil
	}

	// A summary we cannot resolve means the peer's baseline is gone from
	// under us; ask it to start over and defer everything else.
	for _, have := range state.TheirHave {
		if unknown, ok := firstUnknown(backend, have.LastSync); ok {
			logger.Debugw("Sync resync triggered",
				logger.FieldLastSync, HexHashes(have.LastSync),
				"unknown", unknown.Short(),
			)
			resyncsTotal.Inc()
			return state.clone(), resetMessage(ourHeads), nil
		}
	}

	ourHave := []HaveSummary{}
	if len(state.OurNeed) == 0 {
		summary, err := backend.HaveSummary(state.SharedHeads)
		if err != nil {
			return state, nil, errors.Wrap(err, "failed to build have-summary")
		}
		ourHave = append(ourHave, summary)
	}

	selected, err := backend.ChangesToSend(theirSummaries(backend, state), state.TheirNeed)
	if err != nil {
		return state, nil, errors.Wrap(err, "failed to select changes to send")
	}

	next := state.clone()
	changes, hashes, err := unsentChanges(backend, next.sentHashes, append(selected, localChanges...))
	if err != nil {
		return state, nil, err
	}

	msg := &Message{
		Heads:   cloneHashes(ourHeads),
		Have:    ourHave,
		Need:    cloneHashes(state.OurNeed),
		Changes: changes,
	}

	if len(changes) == 0 && next.lastSent != nil && next.lastSent.repeats(msg) {
		return next, nil, nil
	}

	next.lastSent = &announcement{
		heads: cloneHashes(msg.Heads),
		need:  cloneHashes(msg.Need),
		have:  cloneHave(msg.Have),
	}
	if next.sentHashes == nil {
		next.sentHashes = make(map[Hash]struct{}, len(hashes))
	}
	for _, h := range hashes {
		next.sentHashes[h] = struct{}{}
	}

	messagesGenerated.Inc()
	changesSent.Add(float64(len(changes)))
	return next, msg, nil
}

// resetMessage asks the peer to restart negotiation from nothing.
func resetMessage(ourHeads []Hash) *Message {
	return &Message{
		Heads:   cloneHashes(ourHeads),
		Have:    []HaveSummary{{LastSync: []Hash{}, Bloom: []byte{}}},
		Need:    []Hash{},
		Changes: []Change{},
	}
}

// theirSummaries returns the peer's have-summaries. A peer that withheld
// its summary because it is missing changes still holds everything
// reachable from the heads it declared; when we know all of those heads
// that fact stands in for the summary.
func theirSummaries[B Backend[B]](backend B, state PeerState) []HaveSummary {
	if len(state.TheirHave) > 0 || state.TheirHeads == nil {
		return state.TheirHave
	}
	if !allKnown(backend, state.TheirHeads) {
		return state.TheirHave
	}
	return []HaveSummary{{LastSync: cloneHashes(state.TheirHeads), Bloom: []byte{}}}
}

func firstUnknown[B Backend[B]](backend B, hashes []Hash) (Hash, bool) {
	for _, h := range hashes {
		if _, ok := backend.ChangeByHash(h); !ok {
			return h, true
		}
	}
	return Hash{}, false
}

// unsentChanges drops duplicates and changes already sent this session,
// preserving order.
func unsentChanges[B Backend[B]](backend B, sent map[Hash]struct{}, candidates []Change) ([]Change, []Hash, error) {
	changes := make([]Change, 0, len(candidates))
	hashes := make([]Hash, 0, len(candidates))
	seen := make(map[Hash]struct{}, len(candidates))
	for _, c := range candidates {
		h, err := backend.ChangeHash(c)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to hash outgoing change")
		}
		if _, ok := sent[h]; ok {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		changes = append(changes, c)
		hashes = append(hashes, h)
	}
	return changes, hashes, nil
}

// repeats reports whether msg announces exactly what a already did.
func (a *announcement) repeats(msg *Message) bool {
	return HeadsEqual(a.heads, msg.Heads) &&
		HeadsEqual(a.need, msg.Need) &&
		haveEqual(a.have, msg.Have)
}
