package network

import (
	"context"
	"io"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	inet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/message"
)

var log = logging.Logger("bitswap/network")

// maxMessageSize bounds how many bytes handleNewStream reads from one
// inbound substream, so a misbehaving peer cannot make it buffer an
// unbounded message. Bytes past the limit are not read; the prefix read so
// far is handed to the codec. It does not bound how long a substream stays
// open.
const maxMessageSize = 4 << 20

// libp2pNetwork adapts a libp2p host into a Network, the way the teacher's
// exchange/bitswap/network/ipfs_impl.go adapted the pre-libp2p p2p/host
// package. DHT-backed FindProvidersAsync/Provide are not carried forward:
// DHT-based provider discovery is an explicit Non-goal (SPEC_FULL.md §1),
// so this adapter only opens substreams and relays messages.
type libp2pNetwork struct {
	host     host.Host
	codec    Codec
	receiver Receiver
}

// NewLibp2pNetwork returns a Network backed by h, registering stream
// handlers for both supported Bitswap protocol versions and a connection
// notifiee that feeds peer lifecycle events to whatever Receiver is set via
// SetDelegate.
func NewLibp2pNetwork(h host.Host, codec Codec) Network {
	n := &libp2pNetwork{host: h, codec: codec}
	h.SetStreamHandler(ProtocolBitswap110, n.handleNewStream)
	h.SetStreamHandler(ProtocolBitswap120, n.handleNewStream)
	h.Network().Notify((*netNotifiee)(n))
	return n
}

func (n *libp2pNetwork) newStreamToPeer(ctx context.Context, p peer.ID) (inet.Stream, error) {
	if err := n.host.Connect(ctx, peer.AddrInfo{ID: p}); err != nil {
		return nil, err
	}
	return n.host.NewStream(ctx, p, ProtocolBitswap120, ProtocolBitswap110)
}

// SendMessage opens a fresh one-shot substream and writes a single encoded
// message to it, per SPEC_FULL.md §6: one message per substream.
func (n *libp2pNetwork) SendMessage(ctx context.Context, p peer.ID, msg *message.Message) error {
	s, err := n.newStreamToPeer(ctx, p)
	if err != nil {
		return err
	}
	defer s.Close()

	b, err := n.codec.Encode(msg)
	if err != nil {
		log.Debugw("encode failed", "peer", p, "error", err)
		return err
	}
	if _, err := s.Write(b); err != nil {
		log.Debugw("write failed", "peer", p, "error", err)
		return err
	}
	return s.CloseWrite()
}

func (n *libp2pNetwork) ConnectTo(ctx context.Context, p peer.ID) error {
	return n.host.Connect(ctx, peer.AddrInfo{ID: p})
}

func (n *libp2pNetwork) SetDelegate(r Receiver) {
	n.receiver = r
}

// handleNewStream reads exactly one message off an inbound substream and
// forwards it to the delegate receiver.
func (n *libp2pNetwork) handleNewStream(s inet.Stream) {
	defer s.Close()

	if n.receiver == nil {
		return
	}

	b, err := io.ReadAll(io.LimitReader(s, maxMessageSize))
	if err != nil {
		n.receiver.ReceiveError(err)
		log.Debugw("read failed", "peer", s.Conn().RemotePeer(), "error", err)
		return
	}

	msg, err := n.codec.Decode(b)
	if err != nil {
		n.receiver.ReceiveError(err)
		log.Debugw("decode failed", "peer", s.Conn().RemotePeer(), "error", err)
		return
	}

	p := s.Conn().RemotePeer()
	log.Debugw("received message", "peer", p)
	n.receiver.ReceiveMessage(context.Background(), p, msg)
}

// netNotifiee turns libp2p connection notifications into Receiver calls.
// Substream-level notifications are intentionally ignored: the core only
// cares whether a peer has any open connection at all (§4.1 connection
// lifecycle), not which substream carried it.
type netNotifiee libp2pNetwork

func (nn *netNotifiee) net() *libp2pNetwork { return (*libp2pNetwork)(nn) }

func (nn *netNotifiee) Connected(_ inet.Network, c inet.Conn) {
	if r := nn.net().receiver; r != nil {
		r.PeerConnected(c.RemotePeer())
	}
}

func (nn *netNotifiee) Disconnected(_ inet.Network, c inet.Conn) {
	if r := nn.net().receiver; r != nil {
		r.PeerDisconnected(c.RemotePeer())
	}
}

func (nn *netNotifiee) Listen(inet.Network, multiaddr.Multiaddr)      {}
func (nn *netNotifiee) ListenClose(inet.Network, multiaddr.Multiaddr) {}
