// Package network defines the transport-facing collaborator interfaces the
// core needs and does not implement itself: opening substreams, dialing
// peers, and encoding/decoding messages onto the wire are all out of scope
// for the core (SPEC_FULL.md §1), left here as interfaces a concrete
// adapter (libp2p.go) and an in-memory one (the sibling testnet package)
// both satisfy.
package network

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/message"
)

// Protocol identifiers this core's messages are carried over. Both must be
// supported by a conforming transport; substreams are one-shot, one
// message per substream.
const (
	ProtocolBitswap110 = protocol.ID("/ipfs/bitswap/1.1.0")
	ProtocolBitswap120 = protocol.ID("/ipfs/bitswap/1.2.0")
)

// Codec parses and serializes Bitswap messages onto a substream's bytes.
// This is the wire-format collaborator SPEC_FULL.md §1 keeps external to
// the core; a concrete codec (protobuf or otherwise) is supplied by the
// host, not implemented in this module.
type Codec interface {
	Encode(m *message.Message) ([]byte, error)
	Decode(b []byte) (*message.Message, error)
}

// Receiver is the upward half of the network collaborator: a transport
// adapter calls these as it observes the swarm, and the core's runloop (or
// the host directly) turns them into Core method calls.
type Receiver interface {
	ReceiveMessage(ctx context.Context, sender peer.ID, msg *message.Message)
	ReceiveError(err error)
	PeerConnected(p peer.ID)
	PeerDisconnected(p peer.ID)
}

// Network is the downward half: what a transport adapter must provide so
// the core's Dial/NotifyHandler actions can actually be carried out.
type Network interface {
	SendMessage(ctx context.Context, p peer.ID, msg *message.Message) error
	ConnectTo(ctx context.Context, p peer.ID) error
	SetDelegate(r Receiver)
}
