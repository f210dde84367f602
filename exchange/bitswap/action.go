package bitswap

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/message"
)

// Action is an outbound instruction for the transport collaborator to
// carry out. The core never performs either itself; poll only ever
// describes what should happen next.
type Action interface {
	isAction()
}

// Dial asks the transport to open a connection to Peer. Addrs, if non-nil,
// carries known multiaddr hints the transport may use instead of a fresh
// lookup.
type Dial struct {
	Peer  peer.ID
	Addrs []multiaddr.Multiaddr
}

func (Dial) isAction() {}

// NotifyHandler hands an assembled outbound message to the transport for
// delivery to Peer on any open substream. The core considers the message
// dispatched the instant it returns this action; it keeps no copy.
type NotifyHandler struct {
	Peer    peer.ID
	Message *message.Message
}

func (NotifyHandler) isAction() {}

// PollOutcome is what a single Poll call returns: exactly one of an
// upward Event or a downward Action, matching the libp2p NetworkBehaviour
// convention the original implementation follows (poll yields a single
// mixed enum of GenerateEvent/Dial/NotifyHandler rather than two separate
// streams).
type PollOutcome interface {
	isPollOutcome()
}

func (Dial) isPollOutcome()          {}
func (NotifyHandler) isPollOutcome() {}

// EmitEvent carries an upward Event through the same Poll channel as
// actions, in priority order ahead of them.
type EmitEvent struct {
	Event Event
}

func (EmitEvent) isPollOutcome() {}

