// Package testnet provides an in-memory network.Network for exercising the
// core without a real libp2p swarm, adapted from the teacher's
// exchange/bitswap/testnet/virtual.go. Messages are handed between peers
// as Go values, never serialized - the wire codec is an explicit
// collaborator concern this module does not implement (SPEC_FULL.md §1),
// and a real codec has nothing to prove here.
package testnet

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/message"
	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/network"
)

// ErrNoSuchPeer is returned by SendMessage/ConnectTo when the destination
// was never registered with the network via Adapter.
var ErrNoSuchPeer = errors.New("testnet: no such peer")

// maxConcurrentDeliveries bounds how many deliver calls may be in flight
// across the whole virtual network at once, the same number
// Config.MaxDialNegotiatedStreams defaults to for a single real connection -
// there is no real transport buffer here to exhaust, but an unbounded
// goroutine-per-message fan-out under a large multi-peer test scenario is
// still worth capping.
const maxConcurrentDeliveries = 64

// VirtualNetwork returns a fresh in-memory network. Every delivered
// message is delayed by latency before the receiver observes it,
// simulating asynchronous transport without any real I/O; pass 0 for
// immediate, synchronous-looking delivery.
func VirtualNetwork(latency time.Duration) *Network {
	n := &Network{
		clients: make(map[peer.ID]*client),
		latency: latency,
	}
	n.deliveries.SetLimit(maxConcurrentDeliveries)
	return n
}

// Network is the in-memory network.Network implementation. It is safe for
// concurrent use: message delivery happens on a bounded worker pool,
// mirroring the teacher's `go n.deliver(...)` but capped the way a real
// connection's outbound substream count is capped, since the core being
// tested is itself single-threaded and must observe inbound messages
// through its own Receiver methods rather than through shared memory
// races.
type Network struct {
	mu         sync.Mutex
	clients    map[peer.ID]*client
	latency    time.Duration
	deliveries errgroup.Group
}

// Adapter returns a network.Network scoped to local, registering it so
// other adapters on the same Network can reach it by peer id.
func (n *Network) Adapter(local peer.ID) network.Network {
	c := &client{local: local, net: n}
	n.mu.Lock()
	n.clients[local] = c
	n.mu.Unlock()
	return c
}

// HasPeer reports whether p has an adapter registered on this network.
func (n *Network) HasPeer(p peer.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.clients[p]
	return ok
}

func (n *Network) receiverFor(p peer.ID) (network.Receiver, bool) {
	n.mu.Lock()
	c, ok := n.clients[p]
	n.mu.Unlock()
	if !ok || c.receiver == nil {
		return nil, false
	}
	return c.receiver, true
}

func (n *Network) sendMessage(from, to peer.ID, msg *message.Message) error {
	r, ok := n.receiverFor(to)
	if !ok {
		return ErrNoSuchPeer
	}
	n.deliveries.Go(func() error {
		n.deliver(r, from, msg)
		return nil
	})
	return nil
}

func (n *Network) deliver(r network.Receiver, from peer.ID, msg *message.Message) {
	if n.latency > 0 {
		time.Sleep(n.latency)
	}
	r.ReceiveMessage(context.Background(), from, msg)
}

func (n *Network) connect(from, to peer.ID) error {
	n.mu.Lock()
	toClient, ok := n.clients[to]
	fromClient := n.clients[from]
	n.mu.Unlock()
	if !ok {
		return ErrNoSuchPeer
	}
	if toClient.receiver != nil {
		toClient.receiver.PeerConnected(from)
	}
	if fromClient != nil && fromClient.receiver != nil {
		fromClient.receiver.PeerConnected(to)
	}
	return nil
}

// client is one peer's view of the virtual network.
type client struct {
	local    peer.ID
	net      *Network
	receiver network.Receiver
}

func (c *client) SendMessage(_ context.Context, to peer.ID, msg *message.Message) error {
	return c.net.sendMessage(c.local, to, msg)
}

func (c *client) ConnectTo(_ context.Context, p peer.ID) error {
	return c.net.connect(c.local, p)
}

func (c *client) SetDelegate(r network.Receiver) {
	c.receiver = r
}
