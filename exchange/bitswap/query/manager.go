package query

import (
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipfs-shipyard/bitswap-core/exchange/bitswap/message"
)

var log = logging.Logger("bitswap/query")

// Kind identifies which Query variant a Completion refers to, since the
// registry has already removed the query by the time a Completion is
// reported.
type Kind int

const (
	KindWant Kind = iota
	KindFindProviders
	KindCancel
	KindSend
	KindSendHave
)

func (k Kind) String() string {
	switch k {
	case KindWant:
		return "want"
	case KindFindProviders:
		return "find-providers"
	case KindCancel:
		return "cancel"
	case KindSend:
		return "send"
	case KindSendHave:
		return "send-have"
	default:
		return "unknown"
	}
}

// Completion reports that a query left the registry. Providers is only
// populated for a successful KindFindProviders completion. Timeout is set
// by PollAll for a query whose candidate and sent sets are both exhausted
// without success, and by DialFailure for a New one-shot Send/SendHave
// whose receiver was forgotten.
type Completion struct {
	ID        ID
	Kind      Kind
	Cid       cid.Cid
	Providers map[peer.ID]struct{}
	Timeout   bool
}

// Manager is the registry of outstanding queries. It holds no reference to
// any peer's connection state or pending message - only peer identifiers -
// so that it can be driven entirely by its own operations plus the
// dispatch/inbound events the host feeds it. See query.rs's QueryManager.
type Manager struct {
	queries map[ID]Query
	nextID  ID
}

// NewManager returns an empty query registry.
func NewManager() *Manager {
	return &Manager{queries: make(map[ID]Query)}
}

func (m *Manager) allocate() ID {
	id := m.nextID
	m.nextID++ // wraps on overflow; bounded in-flight query count makes reuse safe
	return id
}

// Len reports the number of outstanding queries, for diagnostics and tests.
func (m *Manager) Len() int {
	return len(m.queries)
}

func toSet(ids []peer.ID) map[peer.ID]struct{} {
	s := make(map[peer.ID]struct{}, len(ids))
	for _, p := range ids {
		s[p] = struct{}{}
	}
	return s
}

// Want registers a fetch of cid from any of providers.
func (m *Manager) Want(c cid.Cid, priority int32, providers []peer.ID) ID {
	id := m.allocate()
	m.queries[id] = &Want{
		base:      base{ID: id},
		Providers: toSet(providers),
		Cid:       c,
		Priority:  priority,
	}
	log.Debugw("want registered", "id", id, "cid", c, "providers", len(providers))
	return id
}

// Send registers a one-shot delivery of data for cid to receiver.
func (m *Manager) Send(receiver peer.ID, c cid.Cid, data []byte) ID {
	id := m.allocate()
	m.queries[id] = &Send{base: base{ID: id}, Receiver: receiver, Cid: c, Data: data}
	return id
}

// SendHave registers a one-shot Have announcement of cid to receiver.
func (m *Manager) SendHave(receiver peer.ID, c cid.Cid) ID {
	id := m.allocate()
	m.queries[id] = &SendHave{base: base{ID: id}, Receiver: receiver, Cid: c}
	return id
}

// FindProviders registers a probe of peers for cid.
func (m *Manager) FindProviders(c cid.Cid, priority int32, peers []peer.ID) ID {
	id := m.allocate()
	m.queries[id] = &FindProviders{
		base:      base{ID: id},
		Cid:       c,
		Peers:     toSet(peers),
		Providers: make(map[peer.ID]struct{}),
		Priority:  priority,
	}
	log.Debugw("find-providers registered", "id", id, "cid", c, "peers", len(peers))
	return id
}

// Cancel removes every Want query for cid. If a removed query had already
// been sent to any peers, a new Cancel query targeting exactly those peers
// is created; its id and target set are returned.
func (m *Manager) Cancel(c cid.Cid) (ID, map[peer.ID]struct{}, bool) {
	union := make(map[peer.ID]struct{})
	for id, q := range m.queries {
		w, ok := q.(*Want)
		if !ok || w.Cid != c {
			continue
		}
		for p := range w.State.Sent() {
			union[p] = struct{}{}
		}
		delete(m.queries, id)
	}
	if len(union) == 0 {
		return 0, nil, false
	}
	id := m.allocate()
	m.queries[id] = &Cancel{base: base{ID: id}, Providers: union, Cid: c}
	log.Debugw("cancel registered", "id", id, "cid", c, "providers", len(union))
	return id, union, true
}

// CancelWant removes every Want query for cid without creating a wire-level
// Cancel: used when the fetch was satisfied from another source and no
// peer needs to be told to stop, because none had been sent anything worth
// retracting in the first place from the caller's point of view.
func (m *Manager) CancelWant(c cid.Cid) {
	for id, q := range m.queries {
		if w, ok := q.(*Want); ok && w.Cid == c {
			delete(m.queries, id)
		}
	}
}

// ProcessBlock removes every active Want whose CID matches c. For each
// removed query that had already been sent to peers, a follow-up Cancel
// targeting those peers minus sender is created (sender already knows we
// have the block so does not need telling). unusedProviders is the union of
// the still-uncontacted candidate sets of the removed queries, useful to
// the caller to suppress any dial that was only motivated by this want.
func (m *Manager) ProcessBlock(sender peer.ID, c cid.Cid) (unusedProviders map[peer.ID]struct{}, completions []Completion) {
	unusedProviders = make(map[peer.ID]struct{})
	for id, q := range m.queries {
		w, ok := q.(*Want)
		if !ok || w.Cid != c {
			continue
		}
		for p := range w.Providers {
			unusedProviders[p] = struct{}{}
		}
		delete(m.queries, id)
		completions = append(completions, Completion{ID: id, Kind: KindWant, Cid: c})

		targets := make(map[peer.ID]struct{})
		for p := range w.State.Sent() {
			if p != sender {
				targets[p] = struct{}{}
			}
		}
		if len(targets) > 0 {
			cid2 := m.allocate()
			m.queries[cid2] = &Cancel{base: base{ID: cid2}, Providers: targets, Cid: c}
			log.Debugw("follow-up cancel after block arrival", "id", cid2, "cid", c, "targets", len(targets))
		}
	}
	return unusedProviders, completions
}

// ProcessBlockPresence inserts peer into the accumulated providers set of
// every active FindProviders query matching c whose presence is Have,
// completing any query that has hit the saturation threshold or has no
// unpolled candidate peers left.
func (m *Manager) ProcessBlockPresence(p peer.ID, c cid.Cid, isHave bool, saturation int) []Completion {
	if !isHave {
		return nil
	}
	var completions []Completion
	for id, q := range m.queries {
		fp, ok := q.(*FindProviders)
		if !ok || fp.Cid != c {
			continue
		}
		fp.Providers[p] = struct{}{}
		if len(fp.Providers) >= saturation || len(fp.Peers) == 0 {
			delete(m.queries, id)
			completions = append(completions, Completion{
				ID: id, Kind: KindFindProviders, Cid: c, Providers: fp.Providers,
			})
		}
	}
	return completions
}

// Disconnected removes peer from every query's Sent set, per query.rs's
// disconnected(). It never deletes a query outright: a New one-shot
// Send/SendHave targeting peer is left exactly as it was, pending
// redelivery once peer is reachable again (spec.md §7: "[connection
// close] leaves pending messages intact for later redelivery").
func (m *Manager) Disconnected(p peer.ID) []Completion {
	m.forgetFromSent(p)
	return nil
}

// DialFailure applies the peer-churn rule of query.rs's dial_failure() to
// a failed dial. forgotten mirrors the PeerTable's classification of the
// failure (spec.md §4.1): when false (a transient, resource-limited
// failure) peer remains known and retryable, so this has exactly
// Disconnected's effect - no query is completed. When true (peer was
// evicted from the table entirely) a New one-shot Send/SendHave targeting
// exactly that peer can never be delivered, since no later redial will
// ever resolve it, so it is failed immediately; every other query just
// forgets peer from its Sent set like Disconnected.
func (m *Manager) DialFailure(p peer.ID, forgotten bool) []Completion {
	if !forgotten {
		m.forgetFromSent(p)
		return nil
	}

	var completions []Completion
	for id, q := range m.queries {
		switch v := q.(type) {
		case *Want:
			v.State.forget(p)
		case *FindProviders:
			v.State.forget(p)
		case *Cancel:
			v.State.forget(p)
		case *Send:
			if v.Receiver == p && v.State.IsNew() {
				delete(m.queries, id)
				completions = append(completions, Completion{ID: id, Kind: KindSend, Cid: v.Cid, Timeout: true})
				continue
			}
			v.State.forget(p)
		case *SendHave:
			if v.Receiver == p && v.State.IsNew() {
				delete(m.queries, id)
				completions = append(completions, Completion{ID: id, Kind: KindSendHave, Cid: v.Cid, Timeout: true})
				continue
			}
			v.State.forget(p)
		}
	}
	return completions
}

func (m *Manager) forgetFromSent(p peer.ID) {
	for _, q := range m.queries {
		switch v := q.(type) {
		case *Want:
			v.State.forget(p)
		case *FindProviders:
			v.State.forget(p)
		case *Cancel:
			v.State.forget(p)
		case *Send:
			v.State.forget(p)
		case *SendHave:
			v.State.forget(p)
		}
	}
}

// PollPeer aggregates every query that still has peer as an unused
// candidate into a single outbound message, marking peer as sent for each.
// Completions accumulated here cover the one-shot Send/SendHave queries
// that finish the instant they are attached, a Cancel query once its last
// provider has been attached, and a FindProviders query with at least one
// provider whose candidate set is exhausted by this very call.
func (m *Manager) PollPeer(p peer.ID) (*message.Message, []Completion) {
	msg := message.New()
	var completions []Completion
	attached := 0

	for id, q := range m.queries {
		if !containsUnusedCandidate(q, p) {
			continue
		}
		attached++
		switch v := q.(type) {
		case *Want:
			msg.AddWantBlock(v.Cid, message.Priority(v.Priority))
			delete(v.Providers, p)
			v.State.markSent(p)
		case *FindProviders:
			msg.AddWantHave(v.Cid, message.Priority(v.Priority))
			delete(v.Peers, p)
			v.State.markSent(p)
			if len(v.Peers) == 0 && len(v.Providers) > 0 {
				delete(m.queries, id)
				completions = append(completions, Completion{
					ID: id, Kind: KindFindProviders, Cid: v.Cid, Providers: v.Providers,
				})
			}
		case *Cancel:
			msg.AddCancel(v.Cid)
			delete(v.Providers, p)
			v.State.markSent(p)
			if len(v.Providers) == 0 {
				delete(m.queries, id)
				completions = append(completions, Completion{ID: id, Kind: KindCancel, Cid: v.Cid})
			}
		case *Send:
			msg.AddBlock(message.Block{Cid: v.Cid, Data: v.Data})
			v.State.markSent(p)
			delete(m.queries, id)
			completions = append(completions, Completion{ID: id, Kind: KindSend, Cid: v.Cid})
		case *SendHave:
			msg.AddPresence(message.HavePresence(v.Cid))
			v.State.markSent(p)
			delete(m.queries, id)
			completions = append(completions, Completion{ID: id, Kind: KindSendHave, Cid: v.Cid})
		}
	}

	if attached > 0 && msg.Empty() {
		log.Errorw("queries attached but outbound message empty", "peer", p, "attached", attached)
	}
	return msg, completions
}

// PollAll removes and returns one terminal-failed query, if any exist. A
// query is terminal-failed when its remaining candidate set and its sent
// set are both empty without a success having been recorded (a success
// removes the query immediately elsewhere, so any query still present in
// this state has none).
func (m *Manager) PollAll() (Completion, bool) {
	for id, q := range m.queries {
		if !isTerminalFailed(q) {
			continue
		}
		delete(m.queries, id)
		kind, c := kindAndCid(q)
		log.Debugw("query timed out", "id", id, "kind", kind, "cid", c)
		return Completion{ID: id, Kind: kind, Cid: c, Timeout: true}, true
	}
	return Completion{}, false
}

func isTerminalFailed(q Query) bool {
	switch v := q.(type) {
	case *Want:
		return len(v.Providers) == 0 && len(v.State.Sent()) == 0
	case *FindProviders:
		return len(v.Peers) == 0 && len(v.Providers) == 0 && len(v.State.Sent()) == 0
	case *Cancel:
		return len(v.Providers) == 0 && len(v.State.Sent()) == 0
	case *Send:
		return false // New with no candidate concept beyond Receiver; timed out by DialFailure when Receiver is forgotten
	case *SendHave:
		return false
	default:
		return false
	}
}

func kindAndCid(q Query) (Kind, cid.Cid) {
	switch v := q.(type) {
	case *Want:
		return KindWant, v.Cid
	case *FindProviders:
		return KindFindProviders, v.Cid
	case *Cancel:
		return KindCancel, v.Cid
	case *Send:
		return KindSend, v.Cid
	case *SendHave:
		return KindSendHave, v.Cid
	default:
		return KindWant, cid.Undef
	}
}
