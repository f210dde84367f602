package bitswap

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
)

var log = logging.Logger("bitswap")

// ConnState is the connection status the peer table tracks for a known
// peer, independent of anything the query manager knows about it.
type ConnState int

const (
	Unknown ConnState = iota
	Connected
	Disconnected
	Dialing
)

func (s ConnState) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Dialing:
		return "dialing"
	default:
		return "invalid"
	}
}

// PeerState is the per-peer record the peer table owns: connection status
// only. Wantlist/message content lives in the query registry, per the
// unification DESIGN.md records for the "duplicated responsibility" design
// note (query manager is the single source of truth for outbound wire
// content; the peer table is the single source of truth for reachability).
type PeerState struct {
	Conn ConnState
}

// PeerTable tracks connection lifecycle for every peer the core has been
// told about. It queues no events (Core does) and holds no reference to
// any query: see query.Manager.
type PeerTable struct {
	peers map[peer.ID]*PeerState
}

// NewPeerTable returns an empty peer table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[peer.ID]*PeerState)}
}

// AddPeer inserts a fresh Unknown peer state if p is not already known.
// Idempotent.
func (t *PeerTable) AddPeer(p peer.ID) *PeerState {
	ps, ok := t.peers[p]
	if !ok {
		ps = &PeerState{Conn: Unknown}
		t.peers[p] = ps
	}
	return ps
}

// Get returns the state of a known peer.
func (t *PeerTable) Get(p peer.ID) (*PeerState, bool) {
	ps, ok := t.peers[p]
	return ps, ok
}

// Forget removes p entirely from the table.
func (t *PeerTable) Forget(p peer.ID) {
	delete(t.peers, p)
}

// Peers returns every known peer id. Order is unspecified.
func (t *PeerTable) Peers() []peer.ID {
	out := make([]peer.ID, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p)
	}
	return out
}

// ConnectedPeers returns peers the table currently believes to be
// reachable: strictly Connected.
func (t *PeerTable) ConnectedPeers() []peer.ID {
	return t.peersWith(func(c ConnState) bool { return c == Connected })
}

// ConnectedOrUnknownPeers returns peers eligible as find_providers targets:
// a peer never dialed is still worth a want-have probe, since issuing the
// probe is itself what triggers the dial. Matches
// Bitswap::connected_peers() in the original source, which filters
// Connected | Unknown.
func (t *PeerTable) ConnectedOrUnknownPeers() []peer.ID {
	return t.peersWith(func(c ConnState) bool { return c == Connected || c == Unknown })
}

func (t *PeerTable) peersWith(pred func(ConnState) bool) []peer.ID {
	out := make([]peer.ID, 0)
	for p, ps := range t.peers {
		if pred(ps.Conn) {
			out = append(out, p)
		}
	}
	return out
}

// ConnectionEstablished marks p reachable. Any work the host has queued
// for p against the query registry becomes eligible for dispatch on the
// next poll.
func (t *PeerTable) ConnectionEstablished(p peer.ID) {
	ps := t.AddPeer(p)
	ps.Conn = Connected
	log.Debugw("connection established", "peer", p)
}

// ConnectionClosed marks p unreachable once no substream remains. Any
// pending query work targeting p is left untouched; it will be retried
// after a future re-dial.
func (t *PeerTable) ConnectionClosed(p peer.ID) {
	ps, ok := t.peers[p]
	if !ok {
		log.Warnw("connection closed for unknown peer", "peer", p)
		return
	}
	ps.Conn = Disconnected
	log.Debugw("connection closed", "peer", p)
}

// DialFailureKind classifies why a dial attempt failed.
type DialFailureKind int

const (
	// ConnectionLimit is a transient, resource-limit class of failure:
	// the peer remains known and eligible for a later dial.
	ConnectionLimit DialFailureKind = iota
	// Other is any non-transient dial failure: the peer is forgotten.
	Other
)

// DialFailure applies §4.1's dial-failure lifecycle rule, returning
// whether the peer was forgotten entirely (true) or kept as Disconnected
// (false).
func (t *PeerTable) DialFailure(p peer.ID, kind DialFailureKind) (forgotten bool) {
	ps, ok := t.peers[p]
	if !ok {
		return false
	}
	if kind == ConnectionLimit {
		ps.Conn = Disconnected
		log.Debugw("dial failed, connection limited", "peer", p)
		return false
	}
	delete(t.peers, p)
	log.Debugw("dial failed, forgetting peer", "peer", p)
	return true
}

// NeedsDial reports whether p is known, not already mid-dial, and eligible
// to have a Dial action issued for it.
func (t *PeerTable) NeedsDial(p peer.ID) bool {
	ps, ok := t.peers[p]
	if !ok {
		return false
	}
	return ps.Conn == Unknown || ps.Conn == Disconnected
}

// MarkDialing transitions p to Dialing so no further Dial is issued until
// inject_connection_established or inject_dial_failure resolves it.
func (t *PeerTable) MarkDialing(p peer.ID) {
	if ps, ok := t.peers[p]; ok {
		ps.Conn = Dialing
	}
}

