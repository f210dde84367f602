package query

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func testCid(t *testing.T, s string) cid.Cid {
	t.Helper()
	h, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

func TestWantCompletesOnProcessBlock(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1, p2 := peer.ID("p1"), peer.ID("p2")

	id := m.Want(c, 5, []peer.ID{p1, p2})
	require.Equal(t, 1, m.Len())

	msg, completions := m.PollPeer(p1)
	require.Empty(t, completions)
	require.False(t, msg.Empty())

	unused, completions := m.ProcessBlock(p1, c)
	require.Len(t, completions, 1)
	require.Equal(t, id, completions[0].ID)
	require.Equal(t, KindWant, completions[0].Kind)
	require.Contains(t, unused, p2)
	// p1 is both the only already-contacted peer and the sender of the
	// block, so there is no other peer to notify: no follow-up Cancel.
	require.Equal(t, 0, m.Len())
}

func TestProcessBlockCreatesFollowUpCancelExcludingSender(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1, p2 := peer.ID("p1"), peer.ID("p2")

	m.Want(c, 5, []peer.ID{p1, p2})
	m.PollPeer(p1)
	m.PollPeer(p2)

	_, completions := m.ProcessBlock(p1, c)
	require.Len(t, completions, 1)

	// A follow-up Cancel should now exist targeting p2 only.
	found := false
	for id := range m.queries {
		cq, ok := m.queries[id].(*Cancel)
		if !ok {
			continue
		}
		found = true
		require.Contains(t, cq.Providers, p2)
		require.NotContains(t, cq.Providers, p1)
	}
	require.True(t, found, "expected a follow-up Cancel query")
}

func TestCancelRemovesWantAndPropagatesToSentPeers(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1, p2 := peer.ID("p1"), peer.ID("p2")

	m.Want(c, 5, []peer.ID{p1, p2})
	m.PollPeer(p1)
	m.PollPeer(p2)

	id, targets, ok := m.Cancel(c)
	require.True(t, ok)
	require.NotZero(t, id)
	require.Len(t, targets, 2)
	require.Contains(t, targets, p1)
	require.Contains(t, targets, p2)

	msg, _ := m.PollPeer(p1)
	e, found := msg.Wantlist().Get(c)
	require.True(t, found)
	require.Equal(t, "cancel", e.Type.String())
}

func TestCancelWithNoSentPeersCreatesNoCancelQuery(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1 := peer.ID("p1")

	m.Want(c, 5, []peer.ID{p1})
	_, _, ok := m.Cancel(c)
	require.False(t, ok, "a Want never attached to an outbound message has no Sent peers to notify")
	require.Equal(t, 0, m.Len())
}

func TestFindProvidersSaturatesEarly(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")

	peers := make([]peer.ID, 41)
	for i := range peers {
		peers[i] = peer.ID(string(rune('a' + i)))
	}
	id := m.FindProviders(c, 1, peers)
	// peers[40] is left unpolled so the candidate set never empties: the
	// query must complete through the saturation branch, not through the
	// candidates-exhausted branch that would fire on the first Have.
	for _, p := range peers[:40] {
		m.PollPeer(p)
	}

	var lastCompletions []Completion
	for i := 0; i < 40; i++ {
		lastCompletions = m.ProcessBlockPresence(peers[i], c, true, 40)
	}
	require.Len(t, lastCompletions, 1)
	require.Equal(t, id, lastCompletions[0].ID)
	require.Len(t, lastCompletions[0].Providers, 40)

	// The 41st Have produces nothing: the query is already gone.
	none := m.ProcessBlockPresence(peers[40], c, true, 40)
	require.Empty(t, none)
}

func TestFindProvidersCompletesWhenCandidatesExhausted(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1 := peer.ID("p1")

	m.FindProviders(c, 1, []peer.ID{p1})
	_, completions := m.PollPeer(p1)
	// No Have arrived; candidates are exhausted but no success recorded,
	// so the query is not yet complete. Once the only contacted peer is
	// gone as well, PollAll's terminal-failed check removes it.
	require.Empty(t, completions)
	m.Disconnected(p1)

	comp, ok := m.PollAll()
	require.True(t, ok)
	require.True(t, comp.Timeout)
	require.Equal(t, KindFindProviders, comp.Kind)
}

func TestDisconnectedForgetsSentPeerWithoutCompletingMultiCandidateQuery(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1, p2 := peer.ID("p1"), peer.ID("p2")

	m.Want(c, 1, []peer.ID{p1, p2})
	m.PollPeer(p1)
	m.PollPeer(p2)

	completions := m.Disconnected(p1)
	require.Empty(t, completions)
	completions = m.Disconnected(p2)
	require.Empty(t, completions)

	comp, ok := m.PollAll()
	require.True(t, ok)
	require.True(t, comp.Timeout)
	require.Equal(t, KindWant, comp.Kind)
}

func TestDisconnectedLeavesNewOneShotSendPendingForRedelivery(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1 := peer.ID("p1")

	m.Send(p1, c, []byte("data"))
	completions := m.Disconnected(p1)
	require.Empty(t, completions, "a mere disconnect must leave a New one-shot Send intact for later redelivery")
	require.Equal(t, 1, m.Len())

	// Once p1 is reachable again, the pending Send is still there to
	// attach.
	msg, completions := m.PollPeer(p1)
	require.Len(t, completions, 1)
	require.False(t, msg.Empty())
}

func TestDialFailureNotForgottenLeavesNewOneShotSendPending(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1 := peer.ID("p1")

	m.Send(p1, c, []byte("data"))
	completions := m.DialFailure(p1, false)
	require.Empty(t, completions, "a transient, resource-limited dial failure must not fail a retryable one-shot Send")
	require.Equal(t, 1, m.Len())
}

func TestDialFailureForgottenTimesOutNewOneShotSendImmediately(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1 := peer.ID("p1")

	id := m.Send(p1, c, []byte("data"))
	completions := m.DialFailure(p1, true)
	require.Len(t, completions, 1)
	require.Equal(t, id, completions[0].ID)
	require.True(t, completions[0].Timeout)
}

func TestPollPeerAttachesSendAndRemovesQuery(t *testing.T) {
	m := NewManager()
	c := testCid(t, "x")
	p1 := peer.ID("p1")

	m.Send(p1, c, []byte("payload"))
	msg, completions := m.PollPeer(p1)
	require.Len(t, completions, 1)
	require.Equal(t, KindSend, completions[0].Kind)
	require.Len(t, msg.Blocks(), 1)
	require.Equal(t, 0, m.Len())
}

func TestQueryIDNeverReusedWithinManagerLifetime(t *testing.T) {
	m := NewManager()
	seen := make(map[ID]bool)
	for i := 0; i < 100; i++ {
		id := m.Send(peer.ID("p"), testCid(t, "x"), nil)
		require.False(t, seen[id])
		seen[id] = true
		m.PollPeer(peer.ID("p"))
	}
}
