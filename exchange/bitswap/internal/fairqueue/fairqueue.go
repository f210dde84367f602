// Package fairqueue schedules which peer with pending outbound work gets
// served next. It is adapted from the go-ipfs Bitswap decision engine's
// per-peer task priority queue (exchange/bitswap/decision/peer_request_queue.go
// in the teacher repository): that queue ordered block-serving tasks by an
// active/requests counter per remote partner so no partner starves behind a
// chatty one. Here the "task" is simply "this peer has a pending message",
// and the same least-recently-served ordering gives the weak fairness the
// poll contract requires (no peer with continuously non-empty pending
// message is starved indefinitely).
package fairqueue

import (
	"container/heap"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Queue holds the set of peers currently believed to have pending outbound
// work, ordered so that the peer marked longest ago without having been
// served since is popped first.
type Queue struct {
	h     entryHeap
	index map[peer.ID]*entry
	seq   int
}

// New returns an empty fair queue.
func New() *Queue {
	return &Queue{index: make(map[peer.ID]*entry)}
}

type entry struct {
	id      peer.ID
	arrived int
	heapIdx int
}

// Mark records that p has pending work, if it is not already tracked.
// Marking a peer already in the queue is a no-op: a peer is either waiting
// its turn or it isn't, there is no priority to bump.
func (q *Queue) Mark(p peer.ID) {
	if _, ok := q.index[p]; ok {
		return
	}
	e := &entry{id: p, arrived: q.seq}
	q.seq++
	q.index[p] = e
	heap.Push(&q.h, e)
}

// Forget removes p from the queue, e.g. because it no longer has pending
// work or has disconnected.
func (q *Queue) Forget(p peer.ID) {
	e, ok := q.index[p]
	if !ok {
		return
	}
	heap.Remove(&q.h, e.heapIdx)
	delete(q.index, p)
}

// Len reports how many peers are currently tracked.
func (q *Queue) Len() int {
	return q.h.Len()
}

// NextMatching scans the queue in fairness order (earliest arrived first)
// and returns the first tracked peer for which pred
// returns true, without removing it. This lets a caller apply a readiness
// filter (e.g. "is currently connected") on top of the fairness order
// itself, since the queue has no notion of readiness. Returns false if no
// tracked peer matches.
func (q *Queue) NextMatching(pred func(peer.ID) bool) (peer.ID, bool) {
	best := -1
	for i, e := range q.h {
		if !pred(e.id) {
			continue
		}
		if best == -1 || q.h.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return "", false
	}
	return q.h[best].id, true
}

// Served must be called after a peer returned by NextMatching was actually
// handed a message; it removes the peer from the queue. If the caller
// Marks it again afterwards (there is more pending work for it), it is
// assigned a fresh, later arrival position, so it sorts behind every peer
// that was already waiting - no peer with continuously non-empty pending
// work can be served twice in a row while another peer waits.
func (q *Queue) Served(p peer.ID) {
	q.Forget(p)
}

// entryHeap orders entries by arrival order, oldest first, so that a peer
// waiting longest since it was last Marked (and not yet Served) is always
// preferred.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return h[i].arrived < h[j].arrived
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}
