package bitswap

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestPeerTableAddPeerIdempotent(t *testing.T) {
	pt := NewPeerTable()
	p := peer.ID("P1")
	pt.AddPeer(p)
	pt.AddPeer(p)
	require.Len(t, pt.Peers(), 1)
	ps, ok := pt.Get(p)
	require.True(t, ok)
	require.Equal(t, Unknown, ps.Conn)
}

func TestPeerTableConnectionLifecycle(t *testing.T) {
	pt := NewPeerTable()
	p := peer.ID("P1")

	pt.ConnectionEstablished(p)
	ps, ok := pt.Get(p)
	require.True(t, ok)
	require.Equal(t, Connected, ps.Conn)

	pt.ConnectionClosed(p)
	ps, _ = pt.Get(p)
	require.Equal(t, Disconnected, ps.Conn)
}

func TestPeerTableDialFailureConnectionLimitKeepsPeer(t *testing.T) {
	pt := NewPeerTable()
	p := peer.ID("P1")
	pt.AddPeer(p)
	pt.MarkDialing(p)

	forgotten := pt.DialFailure(p, ConnectionLimit)
	require.False(t, forgotten)
	ps, ok := pt.Get(p)
	require.True(t, ok)
	require.Equal(t, Disconnected, ps.Conn)
}

func TestPeerTableDialFailureOtherForgetsPeer(t *testing.T) {
	pt := NewPeerTable()
	p := peer.ID("P1")
	pt.AddPeer(p)
	pt.MarkDialing(p)

	forgotten := pt.DialFailure(p, Other)
	require.True(t, forgotten)
	_, ok := pt.Get(p)
	require.False(t, ok)
}

func TestPeerTableConnectedOrUnknownIncludesUnknown(t *testing.T) {
	pt := NewPeerTable()
	known := peer.ID("known")
	connected := peer.ID("connected")
	disconnected := peer.ID("disconnected")
	dialing := peer.ID("dialing")

	pt.AddPeer(known)
	pt.ConnectionEstablished(connected)
	pt.AddPeer(disconnected)
	pt.ConnectionClosed(disconnected)
	pt.AddPeer(dialing)
	pt.MarkDialing(dialing)

	candidates := pt.ConnectedOrUnknownPeers()
	require.ElementsMatch(t, []peer.ID{known, connected}, candidates)
}

func TestPeerTableNeedsDial(t *testing.T) {
	pt := NewPeerTable()
	p := peer.ID("P1")
	require.False(t, pt.NeedsDial(p), "unknown-to-table peer is not dialable")

	pt.AddPeer(p)
	require.True(t, pt.NeedsDial(p))

	pt.MarkDialing(p)
	require.False(t, pt.NeedsDial(p))

	pt.DialFailure(p, ConnectionLimit)
	require.True(t, pt.NeedsDial(p))

	pt.ConnectionEstablished(p)
	require.False(t, pt.NeedsDial(p))
}
