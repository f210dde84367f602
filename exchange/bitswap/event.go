package bitswap

import (
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/message"
)

// Event is an upward notification from the core to its host, produced from
// the query registry's completions and from the wantlist entries of inbound
// messages. The host observes these by polling; the core never calls back
// into the host directly.
type Event interface {
	isEvent()
}

// OutboundQueryCompleted reports that a previously-started query reached a
// terminal state, exactly once per QueryId over the query's lifetime.
type OutboundQueryCompleted struct {
	Result QueryResult
}

func (OutboundQueryCompleted) isEvent() {}

// InboundRequestEvent reports that a remote peer's message contained an
// entry the host itself must act on (serve a block, serve a have, or
// forget a request it was serving).
type InboundRequestEvent struct {
	Request InboundRequest
}

func (InboundRequestEvent) isEvent() {}

// QueryResult is implemented by the ten terminal outcomes a query can
// produce: one Ok and one Err per query kind.
type QueryResult interface {
	isQueryResult()
}

// WantOk reports that a wanted block arrived from Sender.
type WantOk struct {
	Sender peer.ID
	Cid    cid.Cid
	Data   []byte
}

func (WantOk) isQueryResult() {}

// WantErr reports that no provider produced the block before candidates
// were exhausted.
type WantErr struct {
	Cid cid.Cid
	Err error
}

func (WantErr) isQueryResult() {}

// FindProvidersOk reports the set of peers that confirmed holding Cid.
type FindProvidersOk struct {
	Cid       cid.Cid
	Providers []peer.ID
}

func (FindProvidersOk) isQueryResult() {}

// FindProvidersErr reports that no peer confirmed holding Cid before
// candidates were exhausted.
type FindProvidersErr struct {
	Cid cid.Cid
	Err error
}

func (FindProvidersErr) isQueryResult() {}

// SendOk reports that a block payload was attached to an outbound message
// for its receiver. Delivery itself is not acknowledged.
type SendOk struct {
	Cid cid.Cid
}

func (SendOk) isQueryResult() {}

// SendErr reports that a block payload could never be attached because its
// receiver was never reachable.
type SendErr struct {
	Cid cid.Cid
	Err error
}

func (SendErr) isQueryResult() {}

// SendHaveOk reports that a Have announcement was attached to an outbound
// message for its receiver.
type SendHaveOk struct {
	Cid cid.Cid
}

func (SendHaveOk) isQueryResult() {}

// SendHaveErr reports that a Have announcement could never be attached
// because its receiver was never reachable.
type SendHaveErr struct {
	Cid cid.Cid
	Err error
}

func (SendHaveErr) isQueryResult() {}

// CancelOk reports that a cancel entry was attached to an outbound message
// for every provider it targeted.
type CancelOk struct {
	Cid cid.Cid
}

func (CancelOk) isQueryResult() {}

// CancelErr reports that a cancel could not be delivered to every targeted
// provider before they all became unreachable.
type CancelErr struct {
	Cid cid.Cid
	Err error
}

func (CancelErr) isQueryResult() {}

// InboundRequest is implemented by the three requests a remote peer's
// message can place on the host: it wants a block, it wants to know if we
// have one, or it is withdrawing an earlier request.
type InboundRequest interface {
	isInboundRequest()
}

// WantRequest asks the host to serve a block payload for Cid to Sender.
type WantRequest struct {
	Sender   peer.ID
	Cid      cid.Cid
	Priority message.Priority
}

func (WantRequest) isInboundRequest() {}

// WantHaveRequest asks the host to serve a Have/DontHave announcement for
// Cid to Sender.
type WantHaveRequest struct {
	Sender   peer.ID
	Cid      cid.Cid
	Priority message.Priority
}

func (WantHaveRequest) isInboundRequest() {}

// CancelRequest tells the host that Sender no longer wants Cid; any queued
// work to serve it to Sender should be dropped.
type CancelRequest struct {
	Sender peer.ID
	Cid    cid.Cid
}

func (CancelRequest) isInboundRequest() {}
