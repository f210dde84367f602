// Package query implements the registry of outstanding Bitswap queries: the
// "query manager" half of the core described in
// _examples/original_source/iroh-bitswap/src/query.rs. A Query is a
// host-initiated operation (want a block, find providers, cancel, send a
// block, announce a have) that is distributed across candidate peers,
// tracked until every candidate has either answered or been asked, and
// reported back exactly once via a completion result.
package query

import (
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ID names a query for its entire lifetime. Allocation wraps on overflow;
// the number of simultaneously in-flight queries is bounded in practice, so
// a wrapped id cannot collide with one still live.
type ID uint64

// ErrTimeout is the single error a query can terminate with: every
// candidate and every contacted peer is gone without a success being
// recorded. Mirrors query.rs's QueryError::Timeout.
var ErrTimeout = errors.New("bitswap: query timed out")

// State is New until the query is first attached to an outbound message for
// at least one peer, at which point it becomes Sent and tracks exactly
// which peers have been contacted.
type State struct {
	sent map[peer.ID]struct{}
}

// IsNew reports whether the query has never been attached to an outbound
// message.
func (s State) IsNew() bool {
	return s.sent == nil
}

// Sent reports the set of peers the query has been delivered to. Callers
// must not mutate the returned map.
func (s State) Sent() map[peer.ID]struct{} {
	return s.sent
}

func (s *State) markSent(p peer.ID) {
	if s.sent == nil {
		s.sent = make(map[peer.ID]struct{})
	}
	s.sent[p] = struct{}{}
}

func (s *State) forget(p peer.ID) {
	delete(s.sent, p)
}

// Query is implemented by every query variant. The marker method keeps the
// set of variants closed to this package, the same discipline the Rust
// source gets from `enum Query`.
type Query interface {
	isQuery()
	id() ID
}

type base struct {
	ID ID
}

func (b base) id() ID { return b.ID }

// Want fetches one CID from any of a set of candidate providers.
type Want struct {
	base
	Providers map[peer.ID]struct{}
	Cid       cid.Cid
	Priority  int32
	State     State
}

func (*Want) isQuery() {}

// FindProviders asks each of Peers whether it holds Cid, accumulating
// successful responders into Providers.
type FindProviders struct {
	base
	Cid       cid.Cid
	Peers     map[peer.ID]struct{}
	Providers map[peer.ID]struct{}
	Priority  int32
	State     State
}

func (*FindProviders) isQuery() {}

// Cancel notifies every peer in Providers that a previously-sent want is no
// longer needed.
type Cancel struct {
	base
	Providers map[peer.ID]struct{}
	Cid       cid.Cid
	State     State
}

func (*Cancel) isQuery() {}

// Send delivers a block payload to exactly one peer, fire-and-forget.
type Send struct {
	base
	Receiver peer.ID
	Cid      cid.Cid
	Data     []byte
	State    State
}

func (*Send) isQuery() {}

// SendHave announces availability of a CID to exactly one peer,
// fire-and-forget.
type SendHave struct {
	base
	Receiver peer.ID
	Cid      cid.Cid
	State    State
}

func (*SendHave) isQuery() {}

// containsUnusedCandidate reports whether p is still an unanswered
// candidate for q (and so belongs in q's next outbound message to p).
func containsUnusedCandidate(q Query, p peer.ID) bool {
	switch v := q.(type) {
	case *Want:
		_, ok := v.Providers[p]
		return ok
	case *FindProviders:
		_, ok := v.Peers[p]
		return ok
	case *Cancel:
		_, ok := v.Providers[p]
		return ok
	case *Send:
		return v.State.IsNew() && v.Receiver == p
	case *SendHave:
		return v.State.IsNew() && v.Receiver == p
	default:
		return false
	}
}
