package scheduler

import cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"

// Polarity selects which extreme of the VISIBLE/PREFETCH heaps sits at the
// root: eviction queues are min-heaps (least important at the root, to be
// evicted first); promotion queues are max-heaps (most important at the
// root, to be promoted first). Spec.md §4.2.
type Polarity int

const (
	// Eviction orders candidates least-important-first.
	Eviction Polarity = iota
	// Promotion orders candidates most-important-first.
	Promotion
)

// PriorityQueue is one instance of component B: a pair of pairing heaps
// (VISIBLE, PREFETCH) plus an LRU list (RECENT), all sharing one intrusive
// link index. Spec.md §4.2 and §4.4.
type PriorityQueue struct {
	name     string
	linkIdx  int
	polarity Polarity
	wins     rootWins

	visibleRoot  *Chunk
	prefetchRoot *Chunk
	recent       lru

	visibleLen, prefetchLen, recentLen int
}

// NewPriorityQueue constructs a queue of the given polarity, using the
// given intrusive link index (0 for the system-memory eviction queue, 1 for
// every other queue — spec.md §4.4).
func NewPriorityQueue(name string, linkIdx int, polarity Polarity) *PriorityQueue {
	wins := greaterWins
	if polarity == Eviction {
		wins = lessWins
	}
	return &PriorityQueue{name: name, linkIdx: linkIdx, polarity: polarity, wins: wins}
}

// Insert adds c to whichever sub-structure its current tier implies.
func (q *PriorityQueue) Insert(c *Chunk) {
	switch c.tier {
	case cm.TierVisible:
		q.visibleRoot = meld(q.visibleRoot, c, q.linkIdx, q.wins)
		q.visibleLen++
	case cm.TierPrefetch:
		q.prefetchRoot = meld(q.prefetchRoot, c, q.linkIdx, q.wins)
		q.prefetchLen++
	case cm.TierRecent:
		q.recent.pushFront(c, q.linkIdx)
		q.recentLen++
	}
}

// Delete removes c, which must currently be a member (using its current
// tier to find which sub-structure it's in).
func (q *PriorityQueue) Delete(c *Chunk) {
	switch c.tier {
	case cm.TierVisible:
		q.visibleRoot = remove(q.visibleRoot, c, q.linkIdx, q.wins)
		q.visibleLen--
	case cm.TierPrefetch:
		q.prefetchRoot = remove(q.prefetchRoot, c, q.linkIdx, q.wins)
		q.prefetchLen--
	case cm.TierRecent:
		q.recent.remove(c, q.linkIdx)
		q.recentLen--
	}
}

// Len returns the total number of chunks currently enqueued.
func (q *PriorityQueue) Len() int {
	return q.visibleLen + q.prefetchLen + q.recentLen
}

// peek returns the current best candidate without removing it, in the
// order implied by q's polarity (spec.md §4.2):
//
//	Eviction:  RECENT tail, then PREFETCH root, then VISIBLE root.
//	Promotion: VISIBLE root, then PREFETCH root, then RECENT head.
func (q *PriorityQueue) peek() *Chunk {
	if q.polarity == Eviction {
		if q.recent.tail != nil {
			return q.recent.tail
		}
		if q.prefetchRoot != nil {
			return q.prefetchRoot
		}
		return q.visibleRoot
	}
	if q.visibleRoot != nil {
		return q.visibleRoot
	}
	if q.prefetchRoot != nil {
		return q.prefetchRoot
	}
	return q.recent.head
}

// Iterator is the "destructive-looking lazy iterator" of spec.md §4.2:
// calling Next() returns the current best candidate without removing it.
// Candidates are only actually consumed when the caller evicts/promotes
// them (which removes them from the underlying queue via a state
// transition); callers must not call Next() again expecting progress
// unless the previous candidate was acted on.
type Iterator struct {
	q *PriorityQueue
}

// Next returns the next candidate in priority order, or nil if the queue is
// exhausted.
func (it Iterator) Next() *Chunk {
	if it.q == nil {
		return nil
	}
	return it.q.peek()
}

// Candidates returns a fresh iterator over q in priority order.
func (q *PriorityQueue) Candidates() Iterator {
	return Iterator{q: q}
}
