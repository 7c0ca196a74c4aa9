package replica

import (
	"github.com/teranos/docsync/doc"
	"github.com/teranos/docsync/sync"
)

// Status is a point-in-time summary of the replica.
type Status struct {
	Name    string       `json:"name"`
	Actor   string       `json:"actor"`
	Heads   []string     `json:"heads"`
	Changes int          `json:"changes"`
	Keys    int          `json:"keys"`
	Peers   []PeerStatus `json:"peers"`
}

// PeerStatus summarises the negotiation with one peer.
type PeerStatus struct {
	Name        string   `json:"name"`
	SharedHeads []string `json:"shared_heads"`
	InSync      bool     `json:"in_sync"`
	OurNeed     int      `json:"our_need"`
	TheirNeed   int      `json:"their_need"`
	Unapplied   int      `json:"unapplied"`
	Pending     int      `json:"pending"`
}

// Status reports heads, sizes and per-peer progress.
func (r *Replica) Status() Status {
	d := r.Doc()
	heads := d.Heads()

	st := Status{
		Name:    r.name,
		Actor:   d.Actor(),
		Heads:   sync.HexHashes(heads),
		Changes: d.Len(),
		Keys:    len(d.Keys()),
		Peers:   []PeerStatus{},
	}

	names, slots := r.peerSlots()
	for i, s := range slots {
		name := names[i]
		s.mu.Lock()
		st.Peers = append(st.Peers, PeerStatus{
			Name:        name,
			SharedHeads: doc.ShortHashes(s.state.SharedHeads),
			InSync:      sync.HeadsEqual(s.state.SharedHeads, heads),
			OurNeed:     len(s.state.OurNeed),
			TheirNeed:   len(s.state.TheirNeed),
			Unapplied:   len(s.state.UnappliedChanges),
			Pending:     len(s.pending),
		})
		s.mu.Unlock()
	}
	return st
}
