package scheduler

// lru is an intrusive doubly-linked list sharing the same link index as the
// pairing heaps (child is unused). Most-recently-requested is at head, per
// Invariant I4; eviction walks from the tail.
type lru struct {
	head, tail *Chunk
}

func (l *lru) pushFront(c *Chunk, idx int) {
	c.links[idx].prev = nil
	c.links[idx].next = l.head
	if l.head != nil {
		l.head.links[idx].prev = c
	}
	l.head = c
	if l.tail == nil {
		l.tail = c
	}
}

func (l *lru) remove(c *Chunk, idx int) {
	prev := c.links[idx].prev
	next := c.links[idx].next
	if prev != nil {
		prev.links[idx].next = next
	} else {
		l.head = next
	}
	if next != nil {
		next.links[idx].prev = prev
	} else {
		l.tail = prev
	}
	c.links[idx].next = nil
	c.links[idx].prev = nil
}
