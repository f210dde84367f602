package fairqueue

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestMarkIsIdempotent(t *testing.T) {
	q := New()
	p := peer.ID("p1")
	q.Mark(p)
	q.Mark(p)
	require.Equal(t, 1, q.Len())
}

func TestNextMatchingFiltersByPredicate(t *testing.T) {
	q := New()
	a, b := peer.ID("a"), peer.ID("b")
	q.Mark(a)
	q.Mark(b)

	p, ok := q.NextMatching(func(p peer.ID) bool { return p == b })
	require.True(t, ok)
	require.Equal(t, b, p)

	_, ok = q.NextMatching(func(peer.ID) bool { return false })
	require.False(t, ok)
}

func TestServedDoesNotStarveOtherPeers(t *testing.T) {
	q := New()
	a, b := peer.ID("a"), peer.ID("b")
	q.Mark(a)
	q.Mark(b)

	always := func(peer.ID) bool { return true }

	first, ok := q.NextMatching(always)
	require.True(t, ok)
	q.Served(first)

	// Re-mark the served peer as having more pending work immediately.
	q.Mark(first)

	// The peer that was not served must now come first: no peer with
	// continuously non-empty pending work is starved indefinitely.
	second, ok := q.NextMatching(always)
	require.True(t, ok)
	require.NotEqual(t, first, second)
}

func TestForgetRemovesPeer(t *testing.T) {
	q := New()
	p := peer.ID("p1")
	q.Mark(p)
	q.Forget(p)
	require.Equal(t, 0, q.Len())
	_, ok := q.NextMatching(func(peer.ID) bool { return true })
	require.False(t, ok)
}
