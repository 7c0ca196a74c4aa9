package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshPeerState(t *testing.T) {
	s := FreshPeerState()

	assert.Empty(t, s.SharedHeads)
	assert.Empty(t, s.OurNeed)
	assert.Empty(t, s.TheirNeed)
	assert.Empty(t, s.TheirHave)
	assert.Empty(t, s.UnappliedChanges)
	assert.True(t, s.IsFresh())
}

func TestPeerState_EqualIgnoresOrderAndBookkeeping(t *testing.T) {
	a, b := hashID("a"), hashID("b")

	s1 := PeerState{SharedHeads: []Hash{a, b}, OurNeed: []Hash{a}}
	s2 := PeerState{SharedHeads: []Hash{b, a}, OurNeed: []Hash{a}}
	s2.sentHashes = map[Hash]struct{}{a: {}}

	assert.True(t, s1.Equal(s2))

	s2.TheirNeed = []Hash{b}
	assert.False(t, s1.Equal(s2))
}

func TestPeerState_CloneIsIndependent(t *testing.T) {
	a, b := hashID("a"), hashID("b")

	orig := PeerState{
		SharedHeads:      []Hash{a},
		TheirHave:        []HaveSummary{{LastSync: []Hash{a}, Bloom: []byte{1, 2}}},
		UnappliedChanges: []Change{mkChange("x")},
	}
	cp := orig.clone()
	cp.SharedHeads[0] = b
	cp.TheirHave[0].LastSync[0] = b
	cp.TheirHave[0].Bloom[0] = 9

	assert.Equal(t, a, orig.SharedHeads[0])
	assert.Equal(t, a, orig.TheirHave[0].LastSync[0])
	assert.Equal(t, byte(1), orig.TheirHave[0].Bloom[0])
}

func TestPeerState_ForgetSent(t *testing.T) {
	a := hashID("a")

	s := PeerState{SharedHeads: []Hash{a}}
	s.lastSent = &announcement{heads: []Hash{a}}
	s.sentHashes = map[Hash]struct{}{a: {}}

	out := s.ForgetSent()
	assert.Nil(t, out.lastSent)
	assert.Nil(t, out.sentHashes)
	assert.True(t, out.Equal(s))
	assert.NotNil(t, s.lastSent, "input state must not change")
}

func TestEncodeDecodePeerState(t *testing.T) {
	a, b := sortedPair(hashID("a"), hashID("b"))

	s := PeerState{
		SharedHeads: []Hash{b, a},
		OurNeed:     []Hash{hashID("missing")},
		TheirHave:   []HaveSummary{{LastSync: []Hash{a}, Bloom: []byte{}}},
	}

	data, err := EncodePeerState(s)
	require.NoError(t, err)

	restored, err := DecodePeerState(data)
	require.NoError(t, err)

	assert.Equal(t, []Hash{a, b}, restored.SharedHeads)
	assert.True(t, restored.IsFresh(), "only shared heads survive a restart")
}

func TestDecodePeerState_Rejects(t *testing.T) {
	_, err := DecodePeerState([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodePeerState([]byte(`{"version":99,"sharedHeads":[]}`))
	assert.Error(t, err)
}
