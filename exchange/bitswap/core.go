// Package bitswap implements the synchronous core of a Bitswap exchange
// engine: given host calls describing what to want, find, send, or cancel,
// and host notifications describing connection lifecycle and inbound
// messages, it decides what to dial and what to send next, and reports
// query completions and inbound service requests back to the host via
// Poll. See SPEC_FULL.md for the full contract; this file is the Core type
// that composes the peer table and the query registry described there.
package bitswap

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/internal/fairqueue"
	imetrics "github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/internal/metrics"
	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/message"
	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/query"
)

// recentBlockCacheSize bounds the duplicate-block detector: larger than
// any realistic in-flight wantlist, small enough to stay cheap.
const recentBlockCacheSize = 4096

// Core composes the peer table (connection lifecycle, reachability) with
// the query registry (wantlist/message content, query lifecycle). Per the
// "duplicated responsibility" design note, the query registry is this
// core's single source of truth for what goes out on the wire; the peer
// table is its single source of truth for whether a given peer can be
// written to right now. Core is not safe for concurrent use: every method,
// including Poll, must be serialized by the host.
type Core struct {
	cfg Config

	peers   *PeerTable
	queries *query.Manager

	// dispatch tracks peers believed to have query content pending,
	// across both Connected and not-yet-connected peers, in weakly fair
	// order. Poll consults it first for ready Connected peers, then for
	// peers that need a Dial.
	dispatch *fairqueue.Queue

	events []Event

	metrics *imetrics.Set

	recentBlocks *lru.Cache[cid.Cid, struct{}]
}

// New constructs a Core with the given tunables and metrics scope. Pass
// imetrics.New(context.Background()) for a no-op metrics set in tests.
func New(cfg Config, ms *imetrics.Set) *Core {
	recent, err := lru.New[cid.Cid, struct{}](recentBlockCacheSize)
	if err != nil {
		// Only possible if recentBlockCacheSize <= 0, which it never is.
		panic(err)
	}
	return &Core{
		cfg:          cfg,
		peers:        NewPeerTable(),
		queries:      query.NewManager(),
		dispatch:     fairqueue.New(),
		metrics:      ms,
		recentBlocks: recent,
	}
}

func (c *Core) pushEvent(e Event) {
	c.events = append(c.events, e)
}

func setToSlice(s map[peer.ID]struct{}) []peer.ID {
	out := make([]peer.ID, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

// resultFor translates a query.Completion into the upward QueryResult it
// represents. Shared by PollPeer-originated completions (always success),
// ProcessBlockPresence-originated completions (always success),
// PollAll-originated completions (always Timeout) and
// DialFailure-originated completions (always Timeout).
func resultFor(comp query.Completion) QueryResult {
	switch comp.Kind {
	case query.KindSend:
		if comp.Timeout {
			return SendErr{Cid: comp.Cid, Err: query.ErrTimeout}
		}
		return SendOk{Cid: comp.Cid}
	case query.KindSendHave:
		if comp.Timeout {
			return SendHaveErr{Cid: comp.Cid, Err: query.ErrTimeout}
		}
		return SendHaveOk{Cid: comp.Cid}
	case query.KindCancel:
		if comp.Timeout {
			return CancelErr{Cid: comp.Cid, Err: query.ErrTimeout}
		}
		return CancelOk{Cid: comp.Cid}
	case query.KindFindProviders:
		if comp.Timeout {
			return FindProvidersErr{Cid: comp.Cid, Err: query.ErrTimeout}
		}
		return FindProvidersOk{Cid: comp.Cid, Providers: setToSlice(comp.Providers)}
	default: // query.KindWant, only reachable here via Timeout: success Want
		// completions are emitted by InjectMessage directly, since only it
		// has the sender/data a WantOk needs.
		return WantErr{Cid: comp.Cid, Err: query.ErrTimeout}
	}
}

func (c *Core) absorb(comps []query.Completion) {
	for _, comp := range comps {
		c.pushEvent(OutboundQueryCompleted{Result: resultFor(comp)})
	}
}

// markPending records that peers may now have query content to dispatch.
// Every host-facing operation that creates or updates a query calls this
// for every peer it targets. The follow-up Cancel queries InjectMessage
// creates through ProcessBlock are not marked: they are attached to the
// next message Poll dispatches to that peer for other work.
func (c *Core) markPending(peers ...peer.ID) {
	for _, p := range peers {
		c.peers.AddPeer(p)
		c.dispatch.Mark(p)
	}
}

// --- Host-facing operations (union of §4.1 and §4.2's operation lists) ---

// AddPeer registers p as known without implying any connection state
// change. Idempotent.
func (c *Core) AddPeer(p peer.ID) {
	c.peers.AddPeer(p)
}

// WantBlock fetches cid from any of providers.
func (c *Core) WantBlock(c2 cid.Cid, priority message.Priority, providers []peer.ID) query.ID {
	id := c.queries.Want(c2, int32(priority), providers)
	c.markPending(providers...)
	c.observeWantlistSize()
	return id
}

// FindProviders probes up to Config.MaxProvidersForFind connected (or
// never-yet-dialed) peers for cid.
func (c *Core) FindProviders(c2 cid.Cid, priority message.Priority) query.ID {
	candidates := c.peers.ConnectedOrUnknownPeers()
	if len(candidates) > c.cfg.MaxProvidersForFind {
		candidates = candidates[:c.cfg.MaxProvidersForFind]
	}
	id := c.queries.FindProviders(c2, int32(priority), candidates)
	c.markPending(candidates...)
	return id
}

// SendBlock delivers data for cid to peer, fire-and-forget.
func (c *Core) SendBlock(p peer.ID, c2 cid.Cid, data []byte) query.ID {
	id := c.queries.Send(p, c2, data)
	c.markPending(p)
	return id
}

// SendHaveBlock announces availability of cid to peer, fire-and-forget.
func (c *Core) SendHaveBlock(p peer.ID, c2 cid.Cid) query.ID {
	id := c.queries.SendHave(p, c2)
	c.markPending(p)
	return id
}

// CancelBlock withdraws every outstanding Want for cid, notifying on the
// wire every peer that had already been asked.
func (c *Core) CancelBlock(c2 cid.Cid) (query.ID, bool) {
	id, targets, ok := c.queries.Cancel(c2)
	if ok {
		c.markPending(setToSlice(targets)...)
	}
	c.observeWantlistSize()
	return id, ok
}

// CancelWantBlock withdraws every outstanding Want for cid locally, without
// notifying any peer: used when the fetch was satisfied from another
// source.
func (c *Core) CancelWantBlock(c2 cid.Cid) {
	c.queries.CancelWant(c2)
	c.observeWantlistSize()
}

// observeWantlistSize reports the current size of the query registry, the
// registry being the single source of truth for outbound wantlist content
// (see PeerState's doc comment on the "duplicated responsibility" design
// note). Not exact bytes-on-the-wire, but tracks the same shape as the
// go-ipfs wantmanager's wantlist_size gauge.
func (c *Core) observeWantlistSize() {
	c.metrics.WantlistSize.Set(float64(c.queries.Len()))
}

// --- Connection lifecycle ---

// InjectConnectionEstablished marks peer reachable.
func (c *Core) InjectConnectionEstablished(p peer.ID) {
	c.peers.ConnectionEstablished(p)
}

// InjectConnectionClosed marks peer unreachable; its pending query work is
// preserved for a future re-dial.
func (c *Core) InjectConnectionClosed(p peer.ID) {
	c.peers.ConnectionClosed(p)
	c.absorb(c.queries.Disconnected(p))
}

// InjectDialFailure applies the dial-failure lifecycle rule and forwards
// the failure to the query registry so Sent-tracking stays consistent.
func (c *Core) InjectDialFailure(p peer.ID, kind DialFailureKind) {
	forgotten := c.peers.DialFailure(p, kind)
	c.absorb(c.queries.DialFailure(p, forgotten))
	if forgotten {
		c.dispatch.Forget(p)
	}
}

// --- Inbound message handling (§4.1 "Inbound message handling") ---

// InjectMessage processes a Bitswap message that arrived from sender.
// Block payloads and Have presences are resolved against the query
// registry (completing Want/FindProviders queries); wantlist entries
// become InboundRequest events for the host to act on.
func (c *Core) InjectMessage(sender peer.ID, msg *message.Message) {
	c.peers.AddPeer(sender)

	for _, b := range msg.Blocks() {
		c.metrics.BytesReceived.Observe(float64(len(b.Data)))
		unused, completions := c.queries.ProcessBlock(sender, b.Cid)
		if len(completions) == 0 {
			if _, seen := c.recentBlocks.Get(b.Cid); seen {
				c.metrics.DuplicateBlocks.Inc()
			}
		}
		c.recentBlocks.Add(b.Cid, struct{}{})
		for range completions {
			c.pushEvent(OutboundQueryCompleted{Result: WantOk{Sender: sender, Cid: b.Cid, Data: b.Data}})
		}
		_ = unused // available to suppress further dials; no dial-suppression state kept in this core
	}

	for _, bp := range msg.Presences() {
		if !bp.IsHave() {
			continue // DontHave is parsed and otherwise ignored, per spec Non-goals
		}
		c.metrics.ProvidersFound.Inc()
		completions := c.queries.ProcessBlockPresence(sender, bp.Cid, true, c.cfg.FindProvidersSaturation)
		c.absorb(completions)
	}

	for _, e := range msg.Wantlist().Entries() {
		switch e.Type {
		case message.WantBlock:
			c.metrics.Requests.Inc()
			c.pushEvent(InboundRequestEvent{Request: WantRequest{Sender: sender, Cid: e.Cid, Priority: e.Priority}})
		case message.WantHave:
			c.metrics.Requests.Inc()
			c.pushEvent(InboundRequestEvent{Request: WantHaveRequest{Sender: sender, Cid: e.Cid, Priority: e.Priority}})
		case message.Cancel:
			c.metrics.Cancels.Inc()
			c.pushEvent(InboundRequestEvent{Request: CancelRequest{Sender: sender, Cid: e.Cid}})
		}
	}

	c.observeWantlistSize()
}

// --- Poll ---

// Poll returns the single next outcome in strict priority order: a queued
// upward event, then a query timeout, then an outbound message for a ready
// connected peer, then a dial for a peer with pending work that is not yet
// reachable. Returns (nil, false) when there is no work.
func (c *Core) Poll() (PollOutcome, bool) {
	if len(c.events) > 0 {
		e := c.events[0]
		c.events = c.events[1:]
		return EmitEvent{Event: e}, true
	}

	if comp, ok := c.queries.PollAll(); ok {
		return EmitEvent{Event: OutboundQueryCompleted{Result: resultFor(comp)}}, true
	}

	for {
		p, ok := c.dispatch.NextMatching(func(p peer.ID) bool {
			ps, known := c.peers.Get(p)
			return known && ps.Conn == Connected
		})
		if !ok {
			break
		}
		msg, completions := c.queries.PollPeer(p)
		if msg.Empty() {
			c.dispatch.Forget(p)
			continue
		}
		c.dispatch.Served(p)
		c.absorb(completions)
		c.observeBytesSent(msg)
		return NotifyHandler{Peer: p, Message: msg}, true
	}

	if p, ok := c.dispatch.NextMatching(c.peers.NeedsDial); ok {
		c.peers.MarkDialing(p)
		return Dial{Peer: p}, true
	}

	return nil, false
}

func (c *Core) observeBytesSent(msg *message.Message) {
	for _, b := range msg.Blocks() {
		c.metrics.BytesSent.Observe(float64(len(b.Data)))
	}
}

// PeerTable exposes the underlying peer table for diagnostics and tests.
func (c *Core) PeerTable() *PeerTable {
	return c.peers
}

// Queries exposes the underlying query registry for diagnostics and tests.
func (c *Core) Queries() *query.Manager {
	return c.queries
}
