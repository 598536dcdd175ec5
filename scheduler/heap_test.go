package scheduler

import "testing"

// newHeapChunk builds a bare Chunk carrying only a priority, for exercising
// the pairing heap in isolation from the rest of the chunk lifecycle.
func newHeapChunk(priority float64) *Chunk {
	return &Chunk{priority: priority}
}

func TestHeapMinOrdering(t *testing.T) {
	a := newHeapChunk(5)
	b := newHeapChunk(1)
	c := newHeapChunk(9)

	var root *Chunk
	root = meld(root, a, 0, lessWins)
	root = meld(root, b, 0, lessWins)
	root = meld(root, c, 0, lessWins)

	if root != b {
		t.Fatalf("expected min-heap root to be the lowest-priority chunk, got priority %v", root.priority)
	}
	root = removeMin(root, 0, lessWins)
	if root != a {
		t.Fatalf("expected next root to be priority 5, got %v", root.priority)
	}
}

func TestHeapMaxOrdering(t *testing.T) {
	a := newHeapChunk(5)
	b := newHeapChunk(1)
	c := newHeapChunk(9)

	var root *Chunk
	root = meld(root, a, 0, greaterWins)
	root = meld(root, b, 0, greaterWins)
	root = meld(root, c, 0, greaterWins)

	if root != c {
		t.Fatalf("expected max-heap root to be the highest-priority chunk, got priority %v", root.priority)
	}
}

// TestHeapEqualPriorityTiebreak pins down the meld tie-break behavior that
// spec.md §8 scenario 2 depends on: when two roots carry equal priority,
// meld's "!wins(a, b)" swap makes the most-recently-melded-in chunk the new
// root, so among equal-priority siblings the last one inserted is evicted
// first out of a min-heap.
func TestHeapEqualPriorityTiebreak(t *testing.T) {
	a := newHeapChunk(10)
	b := newHeapChunk(10)

	var root *Chunk
	root = meld(root, a, 0, lessWins)
	root = meld(root, b, 0, lessWins)
	if root != b {
		t.Fatalf("expected the later-inserted equal-priority chunk to become root, got %p want %p", root, b)
	}
}

func TestHeapRemoveArbitraryNode(t *testing.T) {
	a := newHeapChunk(5)
	b := newHeapChunk(1)
	c := newHeapChunk(9)
	d := newHeapChunk(3)

	var root *Chunk
	for _, ch := range []*Chunk{a, b, c, d} {
		root = meld(root, ch, 0, lessWins)
	}
	if root != b {
		t.Fatalf("expected root to be priority 1, got %v", root.priority)
	}

	root = remove(root, d, 0, lessWins)
	if root == d {
		t.Fatalf("removed node must not remain root")
	}
	// d was not the root; removing it should leave b as the root still.
	if root != b {
		t.Fatalf("expected root to remain priority 1 after removing an unrelated node, got %v", root.priority)
	}

	root = remove(root, root, 0, lessWins)
	if root != a {
		t.Fatalf("expected next-lowest remaining priority 5 after removing the root, got %v", root.priority)
	}
}
