package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_SyncedReturnsNoMessage(t *testing.T) {
	c1 := mkChange("c1")
	backend := newFakeBackend(c1)

	state := PeerState{
		SharedHeads: []Hash{hashID("c1")},
		TheirNeed:   []Hash{hashID("stale")},
		TheirHave:   []HaveSummary{{LastSync: []Hash{}, Bloom: []byte{}}},
	}

	next, msg, err := Generate(backend, state)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.True(t, next.IsFresh())
	assert.Equal(t, []Hash{hashID("c1")}, next.SharedHeads)
}

func TestGenerate_EmptyBackendFreshState(t *testing.T) {
	next, msg, err := Generate(newFakeBackend(), FreshPeerState())
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.True(t, next.IsFresh())
}

func TestGenerate_FirstMessageAnnouncesHeads(t *testing.T) {
	backend := newFakeBackend(mkChange("c1"))

	next, msg, err := Generate(backend, FreshPeerState())
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, []Hash{hashID("c1")}, msg.Heads)
	require.Len(t, msg.Have, 1)
	assert.Empty(t, msg.Have[0].LastSync)
	assert.Empty(t, msg.Need)
	assert.Empty(t, msg.Changes, "nothing is pushed before the peer describes itself")
	assert.NotNil(t, next.lastSent)
}

func TestGenerate_NeedSuppressesHave(t *testing.T) {
	backend := newFakeBackend(mkChange("c1"))
	missing := hashID("missing")

	_, msg, err := Generate(backend, PeerState{OurNeed: []Hash{missing}})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Empty(t, msg.Have)
	assert.Equal(t, []Hash{missing}, msg.Need)
}

func TestGenerate_UnknownLastSyncSendsReset(t *testing.T) {
	backend := newFakeBackend(mkChange("c1"))
	state := PeerState{
		TheirHave: []HaveSummary{{LastSync: []Hash{hashID("gone")}, Bloom: []byte{}}},
		TheirNeed: []Hash{hashID("c1")},
		OurNeed:   []Hash{hashID("wanted")},
	}

	next, msg, err := Generate(backend, state)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, []Hash{hashID("c1")}, msg.Heads)
	require.Len(t, msg.Have, 1)
	assert.True(t, msg.Have[0].IsReset())
	assert.Empty(t, msg.Need)
	assert.Empty(t, msg.Changes)
	assert.True(t, next.Equal(state), "state is left for the next exchange")
}

func TestGenerate_SendsWhatBloomLacks(t *testing.T) {
	c1 := mkChange("c1")
	c2 := mkChange("c2", hashID("c1"))
	backend := newFakeBackend(c1, c2)

	// The peer summarises everything since nothing as {c1}.
	peer := newFakeBackend(c1)
	have, err := peer.HaveSummary(nil)
	require.NoError(t, err)

	_, msg, err := Generate(backend, PeerState{TheirHave: []HaveSummary{have}})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []Change{c2}, msg.Changes)
}

func TestGenerate_UsesDeclaredHeadsWhenHaveWithheld(t *testing.T) {
	c1 := mkChange("c1")
	c2 := mkChange("c2", hashID("c1"))
	c3 := mkChange("c3", hashID("c2"))
	backend := newFakeBackend(c1, c2, c3)

	// The peer holds c1, needs c3, and withheld its summary.
	state := PeerState{
		TheirHeads: []Hash{hashID("c1")},
		TheirNeed:  []Hash{hashID("c3")},
	}

	_, msg, err := Generate(backend, state)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []Change{c2, c3}, msg.Changes)
}

func TestGenerate_SuppressesRepeat(t *testing.T) {
	backend := newFakeBackend(mkChange("c1"))

	state, first, err := Generate(backend, FreshPeerState())
	require.NoError(t, err)
	require.NotNil(t, first)

	state, second, err := Generate(backend, state)
	require.NoError(t, err)
	assert.Nil(t, second)
	// Quiet, but not in sync
	assert.False(t, HeadsEqual(state.SharedHeads, backend.Heads()))

	// A new session forgets what was sent.
	_, third, err := Generate(backend, state.ForgetSent())
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestGenerate_DoesNotResendChanges(t *testing.T) {
	c1 := mkChange("c1")
	backend := newFakeBackend(c1)
	state := PeerState{TheirNeed: []Hash{hashID("c1")}, TheirHeads: []Hash{}}

	state, msg, err := Generate(backend, state)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []Change{c1}, msg.Changes)

	_, msg, err = Generate(backend, state)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestGenerate_PushesLocalChanges(t *testing.T) {
	base := newFakeBackend(mkChange("c1"))
	state := PeerState{SharedHeads: []Hash{hashID("c1")}}

	backend, local := base.commit("c2")

	next, msg, err := Generate(backend, state, local)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []Change{local}, msg.Changes)

	// Passing the same change again does not duplicate it.
	_, msg, err = Generate(backend, next, local)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestGenerate_DoesNotMutateInput(t *testing.T) {
	backend := newFakeBackend(mkChange("c1"))
	state := PeerState{TheirNeed: []Hash{hashID("c1")}, TheirHeads: []Hash{}}

	_, _, err := Generate(backend, state)
	require.NoError(t, err)
	assert.Nil(t, state.lastSent)
	assert.Nil(t, state.sentHashes)
}
