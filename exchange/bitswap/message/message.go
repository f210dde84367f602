// Package message defines the shared data model carried between Bitswap
// peers: wantlist entries, block payloads and block-presence announcements.
// Encoding this model onto a wire (protobuf, in the real Bitswap protocols
// /ipfs/bitswap/1.1.0 and /ipfs/bitswap/1.2.0) is a collaborator concern and
// lives outside this package; Message is the value both sides agree on.
package message

import (
	"sort"

	"github.com/ipfs/go-cid"
)

// Priority is opaque to the core; it is only ever passed through to the
// wire format. Higher is more urgent.
type Priority int32

// MaxPriority is the highest priority value the protocol defines.
const MaxPriority = Priority(1<<31 - 1)

// WantType distinguishes the three kinds of wantlist entry.
type WantType int

const (
	WantBlock WantType = iota
	WantHave
	Cancel
)

func (t WantType) String() string {
	switch t {
	case WantBlock:
		return "want-block"
	case WantHave:
		return "want-have"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Entry is a single wantlist entry: a CID plus the kind of want and its
// priority.
type Entry struct {
	Cid      cid.Cid
	Type     WantType
	Priority Priority
}

// PresenceKind is the kind of block-presence announcement. Only Have drives
// core state transitions; DontHave is parsed and otherwise ignored, per
// spec.
type PresenceKind int

const (
	Have PresenceKind = iota
	DontHave
)

// BlockPresence announces (without transferring the block) whether the
// sender holds cid.
type BlockPresence struct {
	Cid  cid.Cid
	Kind PresenceKind
}

func (bp BlockPresence) IsHave() bool {
	return bp.Kind == Have
}

// HavePresence builds a Have announcement for cid.
func HavePresence(c cid.Cid) BlockPresence {
	return BlockPresence{Cid: c, Kind: Have}
}

// DontHavePresence builds a DontHave announcement for cid.
func DontHavePresence(c cid.Cid) BlockPresence {
	return BlockPresence{Cid: c, Kind: DontHave}
}

// Block pairs a CID with its payload. Data is treated as an immutable,
// cheaply-shareable byte buffer: callers must not mutate it after handing a
// Block to the message model, since the same Data may be enqueued into
// several peers' pending messages at once.
type Block struct {
	Cid  cid.Cid
	Data []byte
}

// Wantlist is a set of entries keyed by CID; a CID appears at most once,
// carrying the most recently set kind and priority.
type Wantlist struct {
	entries map[cid.Cid]Entry
}

func newWantlist() Wantlist {
	return Wantlist{entries: make(map[cid.Cid]Entry)}
}

func (w *Wantlist) set(e Entry) {
	if w.entries == nil {
		w.entries = make(map[cid.Cid]Entry)
	}
	w.entries[e.Cid] = e
}

func (w *Wantlist) remove(c cid.Cid) {
	delete(w.entries, c)
}

func (w Wantlist) Len() int {
	return len(w.entries)
}

// Entries returns every wantlist entry, stable order by CID string so test
// output and logs are deterministic.
func (w Wantlist) Entries() []Entry {
	out := make([]Entry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cid.KeyString() < out[j].Cid.KeyString() })
	return out
}

// Get returns the entry for cid if present.
func (w Wantlist) Get(c cid.Cid) (Entry, bool) {
	e, ok := w.entries[c]
	return e, ok
}

// Message is a bundle of a Wantlist, an ordered sequence of blocks and a set
// of block-presence announcements. A Message is empty iff all three are
// empty.
type Message struct {
	wantlist  Wantlist
	blocks    []Block
	presences []BlockPresence
}

// New returns an empty message.
func New() *Message {
	return &Message{wantlist: newWantlist()}
}

func (m *Message) Empty() bool {
	return m.wantlist.Len() == 0 && len(m.blocks) == 0 && len(m.presences) == 0
}

func (m *Message) Wantlist() *Wantlist {
	return &m.wantlist
}

func (m *Message) Blocks() []Block {
	return m.blocks
}

func (m *Message) Presences() []BlockPresence {
	return m.presences
}

// AddWantBlock records a want-block entry, overwriting any prior entry for
// the same CID.
func (m *Message) AddWantBlock(c cid.Cid, priority Priority) {
	m.wantlist.set(Entry{Cid: c, Type: WantBlock, Priority: priority})
}

// AddWantHave records a want-have entry, overwriting any prior entry for
// the same CID.
func (m *Message) AddWantHave(c cid.Cid, priority Priority) {
	m.wantlist.set(Entry{Cid: c, Type: WantHave, Priority: priority})
}

// AddCancel records a cancel entry, overwriting any prior entry for the
// same CID: a cancel supersedes a pending want in the same outbound
// message.
func (m *Message) AddCancel(c cid.Cid) {
	m.wantlist.set(Entry{Cid: c, Type: Cancel})
}

// RemoveWant drops any pending entry for cid regardless of kind.
func (m *Message) RemoveWant(c cid.Cid) {
	m.wantlist.remove(c)
}

// AddBlock appends a block payload.
func (m *Message) AddBlock(b Block) {
	m.blocks = append(m.blocks, b)
}

// AddPresence appends a block-presence announcement.
func (m *Message) AddPresence(bp BlockPresence) {
	m.presences = append(m.presences, bp)
}
