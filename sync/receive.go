package sync

import (
	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/logger"
)

// Receive processes one message from the peer.
//
// Changes in the message are buffered together with any still-unapplied
// changes from earlier messages. Once the backend reports nothing missing,
// the whole buffer is applied in one call and the shared heads advance.
// Until then the backend is returned unchanged and the patch is nil.
//
// The peer's have-summaries, needs and heads are recorded whether or not
// anything was applied.
func Receive[B Backend[B]](backend B, msg *Message, state PeerState) (B, PeerState, Patch, error) {
	if msg == nil {
		return backend, state, nil, errors.Wrap(errors.ErrMalformedMessage, "nil message")
	}

	beforeHeads := backend.Heads()
	next := state.clone()

	unapplied, err := appendUnapplied(backend, next.UnappliedChanges, msg.Changes)
	if err != nil {
		return backend, state, nil, err
	}

	ourNeed, err := backend.MissingDependencies(unapplied, msg.Heads)
	if err != nil {
		return backend, state, nil, errors.Wrap(err, "failed to compute missing dependencies")
	}

	var patch Patch
	if len(ourNeed) == 0 {
		if len(unapplied) > 0 {
			applied, p, err := backend.ApplyChanges(unapplied)
			if err != nil {
				return backend, state, nil, errors.Wrap(err, "failed to apply buffered changes")
			}
			backend = applied
			patch = p
			changesApplied.Add(float64(len(unapplied)))
		}
		unapplied = nil
		next.SharedHeads = AdvanceHeads(beforeHeads, backend.Heads(), state.SharedHeads)

		// Every head the peer declared is also ours, so the peer's frontier
		// is one we share.
		if allKnown(backend, msg.Heads) {
			next.SharedHeads = SortedUnique(msg.Heads)
		}
	} else {
		logger.Debugw("Sync buffering changes until dependencies arrive",
			logger.FieldNeed, HexHashes(ourNeed),
			logger.FieldCount, len(unapplied),
		)
	}

	next.OurNeed = cloneHashes(ourNeed)
	next.UnappliedChanges = unapplied
	next.TheirHave = cloneHave(msg.Have)
	next.TheirNeed = cloneHashes(msg.Need)
	next.TheirHeads = append([]Hash{}, msg.Heads...)

	// A need for something already sent means it was lost; send it again.
	for _, h := range msg.Need {
		delete(next.sentHashes, h)
	}
	for _, have := range msg.Have {
		if have.IsReset() {
			next.lastSent = nil
			next.sentHashes = nil
			break
		}
	}

	messagesReceived.Inc()
	return backend, next, patch, nil
}

// appendUnapplied adds incoming changes to the buffer, skipping any whose
// hash is already buffered.
func appendUnapplied[B Backend[B]](backend B, buffered, incoming []Change) ([]Change, error) {
	if len(incoming) == 0 {
		return buffered, nil
	}
	seen := make(map[Hash]struct{}, len(buffered)+len(incoming))
	for _, c := range buffered {
		h, err := backend.ChangeHash(c)
		if err != nil {
			return nil, errors.Wrap(err, "failed to hash buffered change")
		}
		seen[h] = struct{}{}
	}
	out := buffered
	for _, c := range incoming {
		h, err := backend.ChangeHash(c)
		if err != nil {
			return nil, errors.Wrap(err, "failed to hash received change")
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func allKnown[B Backend[B]](backend B, hashes []Hash) bool {
	_, unknown := firstUnknown(backend, hashes)
	return !unknown
}
