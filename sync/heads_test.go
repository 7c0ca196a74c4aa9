package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sortedPair(x, y Hash) (Hash, Hash) {
	if x.Compare(y) > 0 {
		return y, x
	}
	return x, y
}

func TestAdvanceHeads_NewHeadsAreShared(t *testing.T) {
	a, b := sortedPair(hashID("a"), hashID("b"))

	got := AdvanceHeads([]Hash{}, []Hash{b, a}, []Hash{})
	assert.Equal(t, []Hash{a, b}, got)
}

func TestAdvanceHeads_KeepsReconfirmedSharedHead(t *testing.T) {
	x, y := hashID("x"), hashID("y")

	// x was shared and local before and after; y just arrived.
	got := AdvanceHeads([]Hash{x}, []Hash{x, y}, []Hash{x})
	assert.ElementsMatch(t, []Hash{x, y}, got)
}

func TestAdvanceHeads_DropsSupersededHead(t *testing.T) {
	x, y := hashID("x"), hashID("y")

	// y replaced x as the only head.
	got := AdvanceHeads([]Hash{x}, []Hash{y}, []Hash{x})
	assert.Equal(t, []Hash{y}, got)
}

func TestAdvanceHeads_LocalOnlyHeadNotShared(t *testing.T) {
	local, incoming := hashID("local"), hashID("incoming")

	// local was ours alone; the peer never confirmed it.
	got := AdvanceHeads([]Hash{local}, []Hash{local, incoming}, []Hash{})
	assert.Equal(t, []Hash{incoming}, got)
}

func TestAdvanceHeads_NothingApplied(t *testing.T) {
	x := hashID("x")

	assert.Equal(t, []Hash{x}, AdvanceHeads([]Hash{x}, []Hash{x}, []Hash{x}))
	assert.Equal(t, []Hash{}, AdvanceHeads([]Hash{x}, []Hash{x}, nil))
}

func TestSortedUnique(t *testing.T) {
	a, b := sortedPair(hashID("a"), hashID("b"))

	assert.Equal(t, []Hash{a, b}, SortedUnique([]Hash{b, a, b, a}))
	assert.NotNil(t, SortedUnique(nil))
}

func TestHeadsEqual(t *testing.T) {
	a, b := hashID("a"), hashID("b")

	assert.True(t, HeadsEqual([]Hash{a, b}, []Hash{b, a}))
	assert.True(t, HeadsEqual(nil, []Hash{}))
	assert.False(t, HeadsEqual([]Hash{a}, []Hash{a, b}))
	assert.False(t, HeadsEqual([]Hash{a}, []Hash{b}))
}

func TestParseHash(t *testing.T) {
	h := hashID("change")

	parsed, err := ParseHash(h.String())
	assert.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Len(t, h.Short(), 8)

	_, err = ParseHash("abc")
	assert.Error(t, err)

	_, err = ParseHash("zz" + h.String()[2:])
	assert.Error(t, err)
}
