package scheduler

import "math"

var negInf = math.Inf(-1)

// rootWins reports whether a should remain the root of a meld against b.
// Eviction queues use a min-heap (smallest priority at the root, so the
// least-important chunk is evicted first); promotion queues use a max-heap
// (largest priority at the root, so the most-important waiting chunk is
// promoted first). Spec.md §4.2. On equal priority, lessWins lets the tree
// melded in later become the root, while greaterWins keeps the existing
// root, so equal-priority chunks are promoted in insertion order and the
// last one to arrive in an eviction heap is evicted first.
type rootWins func(a, b *Chunk) bool

func lessWins(a, b *Chunk) bool    { return a.priority < b.priority }
func greaterWins(a, b *Chunk) bool { return a.priority >= b.priority }

// meld combines two pairing-heap trees in O(1), using the link set at idx.
// The loser becomes the leftmost child of the winner.
func meld(a, b *Chunk, idx int, wins rootWins) *Chunk {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if !wins(a, b) {
		a, b = b, a
	}
	linkChild(a, b, idx)
	return a
}

// linkChild makes child the new leftmost child of parent. child.prev is set
// to parent, following the classic "prev is the parent when this node is
// the leftmost child, otherwise the left sibling" pairing-heap
// representation that lets remove() unlink a node in O(1) given only its
// own (child, next, prev) triple.
func linkChild(parent, child *Chunk, idx int) {
	child.links[idx].next = parent.links[idx].child
	if parent.links[idx].child != nil {
		parent.links[idx].child.links[idx].prev = child
	}
	parent.links[idx].child = child
	child.links[idx].prev = parent
}

// removeMin pops the root of the tree rooted at root, returning the new
// root (nil if root had no children). The children are combined with the
// standard two-pass (left-to-right pairwise meld, then right-to-left fold)
// algorithm, giving amortised O(log n) removal.
func removeMin(root *Chunk, idx int, wins rootWins) *Chunk {
	first := root.links[idx].child
	root.links[idx].child = nil
	root.links[idx].next = nil
	root.links[idx].prev = nil
	return mergePairs(first, idx, wins)
}

func mergePairs(first *Chunk, idx int, wins rootWins) *Chunk {
	if first == nil {
		return nil
	}
	if first.links[idx].next == nil {
		first.links[idx].prev = nil
		return first
	}
	a := first
	b := first.links[idx].next
	rest := b.links[idx].next

	a.links[idx].next = nil
	a.links[idx].prev = nil
	b.links[idx].next = nil
	b.links[idx].prev = nil
	if rest != nil {
		rest.links[idx].prev = nil
	}

	merged := meld(a, b, idx, wins)
	return meld(merged, mergePairs(rest, idx, wins), idx, wins)
}

// unlinkFromParent cuts node out of its parent's child list using only
// node's own (next, prev) pointers, per the representation documented on
// linkChild.
func unlinkFromParent(node *Chunk, idx int) {
	prev := node.links[idx].prev
	next := node.links[idx].next
	if prev != nil {
		if prev.links[idx].child == node {
			prev.links[idx].child = next
		} else {
			prev.links[idx].next = next
		}
	}
	if next != nil {
		next.links[idx].prev = prev
	}
	node.links[idx].next = nil
	node.links[idx].prev = nil
}

// remove cuts node out of the forest rooted at root and melds its combined
// children back into the remaining root, per spec.md §4.2's three pairing
// heap operations.
func remove(root, node *Chunk, idx int, wins rootWins) *Chunk {
	if node == root {
		return removeMin(root, idx, wins)
	}
	unlinkFromParent(node, idx)
	sub := removeMin(node, idx, wins)
	return meld(root, sub, idx, wins)
}
