// Package replica owns one local copy of the document and the sync state
// for every peer it talks to.
//
// The sync core is single-threaded per call. Replica supplies the
// concurrency around it: each peer's state sits behind its own mutex so
// sessions with different peers run in parallel, and a document mutex
// serialises every apply so concurrent sessions never race on the heads.
// Lock order is peer slot, then document.
package replica

import (
	"context"
	"sort"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/teranos/docsync/doc"
	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/logger"
	"github.com/teranos/docsync/sync"
)

// ChangeStore persists raw changes.
type ChangeStore interface {
	Append(ctx context.Context, changes ...sync.Change) error
	All(ctx context.Context) ([]sync.Change, error)
}

// PeerStateStore persists encoded peer states by peer name.
type PeerStateStore interface {
	Save(ctx context.Context, peer string, state []byte) error
	All(ctx context.Context) (map[string][]byte, error)
	Delete(ctx context.Context, peer string) error
}

// PatchHandler observes every change to the document, local or remote.
type PatchHandler func(peer string, patch *doc.Patch)

// LocalPeer is the peer name patch handlers see for local edits.
const LocalPeer = ""

// peerSlot is the state kept for one remote peer.
type peerSlot struct {
	mu    gosync.Mutex
	state sync.PeerState
	// pending holds local changes not yet pushed to this peer
	pending []sync.Change
}

// Replica implements sync.Endpoint over a persisted document.
type Replica struct {
	name    string
	changes ChangeStore
	states  PeerStateStore
	logger  *zap.SugaredLogger

	docMu gosync.Mutex
	doc   *doc.Doc

	peersMu gosync.Mutex
	peers   map[string]*peerSlot

	handlersMu gosync.RWMutex
	handlers   []PatchHandler
}

// Options configures Open.
type Options struct {
	// Name announced to peers; empty means the actor id
	Name string
	// Actor stamps local changes; it must be stable across restarts
	Actor   string
	Changes ChangeStore
	States  PeerStateStore
	Logger  *zap.SugaredLogger
}

// Open loads the stored changes and peer states into a new Replica.
func Open(ctx context.Context, opts Options) (*Replica, error) {
	if opts.Actor == "" {
		return nil, errors.NewInvalidRequestError("replica actor is required")
	}
	if opts.Changes == nil || opts.States == nil {
		return nil, errors.NewInvalidRequestError("replica stores are required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("replica")
	}

	stored, err := opts.Changes.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load changes")
	}
	d, err := doc.Load(opts.Actor, stored)
	if err != nil {
		return nil, errors.Wrap(err, "failed to rebuild document from storage")
	}

	encoded, err := opts.States.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load peer states")
	}
	peers := make(map[string]*peerSlot, len(encoded))
	for name, blob := range encoded {
		state, err := sync.DecodePeerState(blob)
		if err != nil {
			// A state we cannot read only costs a full resync.
			log.Warnw("Discarding unreadable peer state",
				logger.FieldPeer, name,
				logger.FieldError, err)
			state = sync.FreshPeerState()
		}
		peers[name] = &peerSlot{state: state}
	}

	name := opts.Name
	if name == "" {
		name = opts.Actor
	}

	log.Infow("Replica opened",
		logger.FieldActor, opts.Actor,
		logger.FieldChanges, d.Len(),
		logger.FieldHeads, doc.ShortHashes(d.Heads()),
		"peers", len(peers))

	return &Replica{
		name:    name,
		changes: opts.Changes,
		states:  opts.States,
		logger:  log,
		doc:     d,
		peers:   peers,
	}, nil
}

// Name implements sync.Endpoint.
func (r *Replica) Name() string {
	return r.name
}

// Actor returns the id stamped on local changes.
func (r *Replica) Actor() string {
	return r.Doc().Actor()
}

// Doc returns the current document. The value is immutable.
func (r *Replica) Doc() *doc.Doc {
	r.docMu.Lock()
	defer r.docMu.Unlock()
	return r.doc
}

// Get returns the value stored under key.
func (r *Replica) Get(key string) (string, bool) {
	return r.Doc().Get(key)
}

// OnPatch registers h to be called after every document change.
func (r *Replica) OnPatch(h PatchHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers = append(r.handlers, h)
}

func (r *Replica) notify(peer string, patch *doc.Patch) {
	if patch.Empty() {
		return
	}
	r.handlersMu.RLock()
	handlers := make([]PatchHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.handlersMu.RUnlock()

	for _, h := range handlers {
		h(peer, patch)
	}
}

// slot returns the state slot for peer, creating it on first contact.
func (r *Replica) slot(peer string) *peerSlot {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	s, ok := r.peers[peer]
	if !ok {
		s = &peerSlot{state: sync.FreshPeerState()}
		r.peers[peer] = s
	}
	return s
}

// peerSlots returns the known peers and their slots, sorted by name.
func (r *Replica) peerSlots() ([]string, []*peerSlot) {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	names := make([]string, 0, len(r.peers))
	for name := range r.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	slots := make([]*peerSlot, len(names))
	for i, name := range names {
		slots[i] = r.peers[name]
	}
	return names, slots
}

// Set writes value under key as a local change.
func (r *Replica) Set(ctx context.Context, key, value string) (*doc.Patch, error) {
	return r.commit(ctx, "set "+key, doc.Set(key, value))
}

// Delete removes key as a local change.
func (r *Replica) Delete(ctx context.Context, key string) (*doc.Patch, error) {
	return r.commit(ctx, "del "+key, doc.Delete(key))
}

func (r *Replica) commit(ctx context.Context, message string, ops ...doc.Op) (*doc.Patch, error) {
	r.docMu.Lock()
	next, raw, patch, err := r.doc.Commit(message, ops...)
	if err != nil {
		r.docMu.Unlock()
		return nil, err
	}
	if err := r.changes.Append(ctx, raw); err != nil {
		r.docMu.Unlock()
		return nil, errors.Wrap(err, "failed to persist local change")
	}
	r.doc = next
	r.docMu.Unlock()

	_, slots := r.peerSlots()
	for _, s := range slots {
		s.mu.Lock()
		s.pending = append(s.pending, raw)
		s.mu.Unlock()
	}

	r.logger.Debugw("Local change committed",
		"message", message,
		logger.FieldHeads, doc.ShortHashes(patch.Heads))
	r.notify(LocalPeer, patch)
	return patch, nil
}

// BeginSession implements sync.Endpoint. Anything sent on an earlier
// connection may have been lost, so the sent record is dropped.
func (r *Replica) BeginSession(_ context.Context, peer string) error {
	s := r.slot(peer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.ForgetSent()
	return nil
}

// GenerateMessage implements sync.Endpoint. The state is saved when the
// shared heads moved, which happens when both sides are found converged.
func (r *Replica) GenerateMessage(ctx context.Context, peer string) (*sync.Message, error) {
	s := r.slot(peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, msg, err := sync.Generate(r.Doc(), s.state, s.pending...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to generate message for %s", peer)
	}
	moved := !sync.HeadsEqual(state.SharedHeads, s.state.SharedHeads)
	s.state = state
	s.pending = nil
	if moved {
		if err := r.saveState(ctx, peer, state); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// ReceiveMessage implements sync.Endpoint. Newly applied changes are
// persisted before the document moves forward; the peer state is saved
// afterwards.
func (r *Replica) ReceiveMessage(ctx context.Context, peer string, msg *sync.Message) error {
	s := r.slot(peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	r.docMu.Lock()
	next, state, p, err := sync.Receive(r.doc, msg, s.state)
	if err != nil {
		r.docMu.Unlock()
		return errors.Wrapf(err, "failed to receive message from %s", peer)
	}
	patch := doc.AsPatch(p)
	if !patch.Empty() {
		if err := r.persistApplied(ctx, next, patch.Applied); err != nil {
			r.docMu.Unlock()
			return err
		}
		r.doc = next
	}
	r.docMu.Unlock()

	s.state = state
	if err := r.saveState(ctx, peer, state); err != nil {
		return err
	}

	if !patch.Empty() {
		r.logger.Infow("Applied changes from peer",
			logger.FieldPeer, peer,
			logger.FieldCount, len(patch.Applied),
			logger.FieldHeads, doc.ShortHashes(patch.Heads))
		r.notify(peer, patch)
	}
	return nil
}

func (r *Replica) persistApplied(ctx context.Context, d *doc.Doc, applied []sync.Hash) error {
	raws := make([]sync.Change, 0, len(applied))
	for _, h := range applied {
		raw, ok := d.ChangeByHash(h)
		if !ok {
			return errors.AssertionFailedf("applied change %s missing from document", h.Short())
		}
		raws = append(raws, raw)
	}
	if err := r.changes.Append(ctx, raws...); err != nil {
		return errors.Wrap(err, "failed to persist received changes")
	}
	return nil
}

func (r *Replica) saveState(ctx context.Context, peer string, state sync.PeerState) error {
	blob, err := sync.EncodePeerState(state)
	if err != nil {
		return err
	}
	if err := r.states.Save(ctx, peer, blob); err != nil {
		return errors.Wrapf(err, "failed to save state for %s", peer)
	}
	return nil
}

// ForgetPeer drops everything known about peer. The next session with it
// starts from scratch.
func (r *Replica) ForgetPeer(ctx context.Context, peer string) error {
	r.peersMu.Lock()
	s, ok := r.peers[peer]
	delete(r.peers, peer)
	r.peersMu.Unlock()

	if !ok {
		return errors.NewNotFoundError("peer %s", peer)
	}
	// Wait for an in-flight session call to finish.
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.states.Delete(ctx, peer)
}
