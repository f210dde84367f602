// Package runloop wires a synchronous Core to a network.Network inside a
// managed goroutine tree, adapted from the teacher's
// exchange/bitswap/workers.go startWorkers/taskWorker pattern: one
// goprocess-managed worker drains Core.Poll in a loop and carries out
// whatever Action it returns, while the loop itself also implements
// network.Receiver so inbound network events feed straight back into the
// Core under the same lock startWorkers' single clientWorker goroutine
// gave the teacher's wantlist.
//
// This package is optional: SPEC_FULL.md's core is driven by whatever
// event loop the host already has (§5 "Suspension points"). runloop exists
// for hosts that would rather hand the whole thing to a managed goroutine
// tree than write their own.
package runloop

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"

	process "github.com/jbenet/goprocess"
	procctx "github.com/jbenet/goprocess/context"

	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap"
	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/message"
	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/network"
)

var log = logging.Logger("bitswap/runloop")

// EventHandler is called for every Event the Core emits, on the loop's own
// goroutine. Implementations must not block or call back into Loop.
type EventHandler func(bitswap.Event)

// Loop drives a Core against a network.Network. It is safe to construct
// once and Run once; Loop itself is the network.Receiver the Network
// collaborator notifies.
type Loop struct {
	mu   sync.Mutex
	core *bitswap.Core
	net  network.Network
	on   EventHandler

	wake chan struct{}
}

// New returns a Loop driving core over net. on is invoked for every Event
// Poll produces; pass nil to discard events (not recommended outside
// tests).
func New(core *bitswap.Core, net network.Network, on EventHandler) *Loop {
	l := &Loop{core: core, net: net, on: on, wake: make(chan struct{}, 1)}
	net.SetDelegate(l)
	return l
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run starts the poll worker under px, mirroring the teacher's
// px.Go(func(px process.Process) { ... }) single-worker client loop. The
// returned Process is closed when ctx is done.
func (l *Loop) Run(ctx context.Context) process.Process {
	px := procctx.WithContext(ctx)
	px.Go(func(px process.Process) {
		l.pollLoop(ctx)
	})
	return px
}

// pollLoop drains every available PollOutcome, carrying out actions and
// dispatching events, then blocks on wake or ctx.Done. A poll round that
// produces no work parks the goroutine instead of busy-spinning, matching
// the "suspension lives in the external event loop" contract of
// SPEC_FULL.md §5.
func (l *Loop) pollLoop(ctx context.Context) {
	defer log.Debug("poll loop shutting down")
	for {
		for l.drainOne(ctx) {
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) drainOne(ctx context.Context) bool {
	l.mu.Lock()
	outcome, ok := l.core.Poll()
	l.mu.Unlock()
	if !ok {
		return false
	}

	switch a := outcome.(type) {
	case bitswap.EmitEvent:
		if l.on != nil {
			l.on(a.Event)
		}
	case bitswap.Dial:
		p := a.Peer
		go l.dial(ctx, p)
	case bitswap.NotifyHandler:
		go l.send(ctx, a.Peer, a.Message)
	default:
		log.Errorw("unknown poll outcome", "type", outcome)
	}
	return true
}

func (l *Loop) dial(ctx context.Context, p peer.ID) {
	err := l.net.ConnectTo(ctx, p)
	l.mu.Lock()
	if err != nil {
		log.Debugw("dial failed", "peer", p, "error", err)
		l.core.InjectDialFailure(p, classifyDialError(err))
	} else {
		l.core.InjectConnectionEstablished(p)
	}
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) send(ctx context.Context, p peer.ID, msg *message.Message) {
	if err := l.net.SendMessage(ctx, p, msg); err != nil {
		log.Debugw("send failed", "peer", p, "error", errors.Wrap(err, "runloop"))
	}
	l.signal()
}

// classifyDialError maps a transport-level dial error onto the
// ConnectionLimit/Other distinction §4.1 needs. A concrete libp2p network
// adapter is expected to return an error implementing
// ResourceLimited() bool for swarm.ErrResourceLimited-class failures;
// anything else is Other.
func classifyDialError(err error) bitswap.DialFailureKind {
	var rl interface{ ResourceLimited() bool }
	if errors.As(err, &rl) && rl.ResourceLimited() {
		return bitswap.ConnectionLimit
	}
	return bitswap.Other
}

// --- network.Receiver ---

func (l *Loop) ReceiveMessage(ctx context.Context, sender peer.ID, msg *message.Message) {
	l.mu.Lock()
	l.core.InjectMessage(sender, msg)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) ReceiveError(err error) {
	log.Debugw("network error", "error", err)
}

func (l *Loop) PeerConnected(p peer.ID) {
	l.mu.Lock()
	l.core.InjectConnectionEstablished(p)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) PeerDisconnected(p peer.ID) {
	l.mu.Lock()
	l.core.InjectConnectionClosed(p)
	l.mu.Unlock()
	l.signal()
}
