package doc

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/sync"
)

func TestMissingDependencies(t *testing.T) {
	d := newTestDoc("alice")
	d, c1 := mustCommit(t, d, Set("a", "1"))
	d, c2 := mustCommit(t, d, Set("b", "2"))
	_, c3 := mustCommit(t, d, Set("c", "3"))

	empty := newTestDoc("bob")

	missing, err := empty.MissingDependencies([]sync.Change{c3}, []sync.Hash{HashOf(c3)})
	require.NoError(t, err)
	assert.Equal(t, []sync.Hash{HashOf(c2)}, missing)

	missing, err = empty.MissingDependencies([]sync.Change{c3, c2, c1}, []sync.Hash{HashOf(c3)})
	require.NoError(t, err)
	assert.Empty(t, missing)

	unknownHead := testHash("elsewhere")
	missing, err = empty.MissingDependencies(nil, []sync.Hash{unknownHead})
	require.NoError(t, err)
	assert.Equal(t, []sync.Hash{unknownHead}, missing)
}

func TestMissingDependencies_Undecodable(t *testing.T) {
	_, err := newTestDoc("bob").MissingDependencies([]sync.Change{sync.Change("junk")}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedMessage))
}

func TestApplyChanges_SkipsKnownAndOrdersBatch(t *testing.T) {
	d := newTestDoc("alice")
	d, c1 := mustCommit(t, d, Set("a", "1"))
	d, c2 := mustCommit(t, d, Set("a", "2"))

	other := newTestDoc("bob")
	other, p, err := other.ApplyChanges([]sync.Change{c2, c1, c1})
	require.NoError(t, err)

	patch := AsPatch(p)
	require.NotNil(t, patch)
	assert.Equal(t, []sync.Hash{HashOf(c1), HashOf(c2)}, patch.Applied)
	assert.Equal(t, []Diff{{Key: "a", Value: "2"}}, patch.Diffs)
	assert.Equal(t, d.Heads(), other.Heads())

	again, p, err := other.ApplyChanges([]sync.Change{c1, c2})
	require.NoError(t, err)
	assert.True(t, AsPatch(p).Empty())
	assert.Equal(t, other.Heads(), again.Heads())
}

func TestApplyChanges_MissingDependencyLeavesDocUntouched(t *testing.T) {
	d := newTestDoc("alice")
	d, _ = mustCommit(t, d, Set("a", "1"))
	_, c2 := mustCommit(t, d, Set("a", "2"))

	empty := newTestDoc("bob")
	out, p, err := empty.ApplyChanges([]sync.Change{c2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingDependency))
	assert.Nil(t, p)
	assert.Same(t, empty, out)
}

func TestHaveSummary_CoversChangesSinceHeads(t *testing.T) {
	d := newTestDoc("alice")
	d, c1 := mustCommit(t, d, Set("a", "1"))
	d, c2 := mustCommit(t, d, Set("b", "2"))

	have, err := d.HaveSummary([]sync.Hash{HashOf(c1)})
	require.NoError(t, err)
	assert.Equal(t, []sync.Hash{HashOf(c1)}, have.LastSync)

	f, err := DecodeBloomFilter(have.Bloom)
	require.NoError(t, err)
	assert.True(t, f.Contains(HashOf(c2)))

	all, err := d.HaveSummary(d.Heads())
	require.NoError(t, err)
	assert.Empty(t, all.Bloom)
}

func TestChangesToSend(t *testing.T) {
	d := newTestDoc("alice")
	d, c1 := mustCommit(t, d, Set("a", "1"))
	d, c2 := mustCommit(t, d, Set("b", "2"))
	d, c3 := mustCommit(t, d, Set("c", "3"))

	t.Run("only needs without summaries", func(t *testing.T) {
		out, err := d.ChangesToSend(nil, []sync.Hash{HashOf(c2)})
		require.NoError(t, err)
		assert.Equal(t, []sync.Change{c2}, out)
	})

	t.Run("changes the filter lacks plus dependents", func(t *testing.T) {
		// The peer holds c1 and reports c2 as recent; it is missing c3.
		peer, err := Load("bob", []sync.Change{c1, c2})
		require.NoError(t, err)
		have, err := peer.HaveSummary([]sync.Hash{HashOf(c1)})
		require.NoError(t, err)
		f, err := DecodeBloomFilter(have.Bloom)
		require.NoError(t, err)
		if f.Contains(HashOf(c3)) {
			t.Skip("c3 is a false positive in this filter")
		}

		out, err := d.ChangesToSend([]sync.HaveSummary{have}, nil)
		require.NoError(t, err)
		assert.Equal(t, []sync.Change{c3}, out)
	})

	t.Run("empty summary means send everything", func(t *testing.T) {
		reset := sync.HaveSummary{LastSync: []sync.Hash{}, Bloom: []byte{}}
		out, err := d.ChangesToSend([]sync.HaveSummary{reset}, nil)
		require.NoError(t, err)
		assert.Equal(t, []sync.Change{c1, c2, c3}, out)
	})

	t.Run("needed change before lastSync is included", func(t *testing.T) {
		have := sync.HaveSummary{LastSync: []sync.Hash{HashOf(c3)}, Bloom: []byte{}}
		out, err := d.ChangesToSend([]sync.HaveSummary{have}, []sync.Hash{HashOf(c1)})
		require.NoError(t, err)
		assert.Equal(t, []sync.Change{c1}, out)
	})

	t.Run("malformed bloom", func(t *testing.T) {
		have := sync.HaveSummary{LastSync: []sync.Hash{}, Bloom: []byte{1, 10, 0}}
		_, err := d.ChangesToSend([]sync.HaveSummary{have}, nil)
		require.Error(t, err)
	})
}

// syncDocs runs lock-step rounds between two documents until both go quiet.
func syncDocs(t *testing.T, a, b *Doc, as, bs sync.PeerState) (*Doc, *Doc, sync.PeerState, sync.PeerState) {
	t.Helper()
	for round := 1; round <= 16; round++ {
		var aMsg, bMsg *sync.Message
		var err error
		as, aMsg, err = sync.Generate(a, as)
		require.NoError(t, err)
		bs, bMsg, err = sync.Generate(b, bs)
		require.NoError(t, err)
		if aMsg == nil && bMsg == nil {
			return a, b, as, bs
		}
		if aMsg != nil {
			b, bs, _, err = sync.Receive(b, aMsg, bs)
			require.NoError(t, err)
		}
		if bMsg != nil {
			a, as, _, err = sync.Receive(a, bMsg, as)
			require.NoError(t, err)
		}
	}
	t.Fatal("documents did not converge")
	return a, b, as, bs
}

func TestSync_DocumentsConverge(t *testing.T) {
	alice, root := mustCommit(t, newTestDoc("alice"), Set("title", "draft"))
	bob, err := Load("bob", []sync.Change{root})
	require.NoError(t, err)
	bob = bob.WithClock(fixedClock)

	alice, _ = mustCommit(t, alice, Set("title", "final"))
	alice, _ = mustCommit(t, alice, Set("author", "alice"))
	bob, _ = mustCommit(t, bob, Set("tags", "sync"))
	bob, _ = mustCommit(t, bob, Delete("title"))

	alice, bob, as, bs := syncDocs(t, alice, bob, sync.FreshPeerState(), sync.FreshPeerState())

	assert.Equal(t, alice.Heads(), bob.Heads())
	assert.Equal(t, alice.Values(), bob.Values())
	assert.Equal(t, 5, alice.Len())

	// A second session starting from the returned states is silent.
	_, _, as2, bs2 := syncDocs(t, alice, bob, as, bs)
	assert.True(t, as2.IsFresh())
	assert.True(t, bs2.IsFresh())
}

func TestSync_RandomEditsConverge(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	keys := []string{"a", "b", "c", "d"}

	alice := newTestDoc("alice")
	bob := newTestDoc("bob")
	as, bs := sync.FreshPeerState(), sync.FreshPeerState()

	for session := 0; session < 10; session++ {
		for i, n := 0, rng.Intn(4); i < n; i++ {
			op := Set(keys[rng.Intn(len(keys))], fmt.Sprintf("alice-%d-%d", session, i))
			if rng.Intn(5) == 0 {
				op = Delete(keys[rng.Intn(len(keys))])
			}
			alice, _ = mustCommit(t, alice, op)
		}
		for i, n := 0, rng.Intn(4); i < n; i++ {
			bob, _ = mustCommit(t, bob, Set(keys[rng.Intn(len(keys))], fmt.Sprintf("bob-%d-%d", session, i)))
		}

		alice, bob, as, bs = syncDocs(t, alice, bob, as.ForgetSent(), bs.ForgetSent())
		require.Equal(t, alice.Heads(), bob.Heads(), "session %d", session)
		require.Equal(t, alice.Values(), bob.Values(), "session %d", session)
	}
}
