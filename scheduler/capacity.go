package scheduler

// Capacity is component C: a four-tuple (current_items, item_limit,
// current_size, size_limit) for one resource class. Spec.md §3 "Capacity
// counter".
type Capacity struct {
	name string

	currentItems int64
	itemLimit    int64
	currentSize  int64
	sizeLimit    int64
}

// NewCapacity constructs a Capacity with the given limits.
func NewCapacity(name string, itemLimit, sizeLimit int64) *Capacity {
	return &Capacity{name: name, itemLimit: itemLimit, sizeLimit: sizeLimit}
}

// AvailableItems returns item_limit - current_items.
func (c *Capacity) AvailableItems() int64 { return c.itemLimit - c.currentItems }

// AvailableSize returns size_limit - current_size.
func (c *Capacity) AvailableSize() int64 { return c.sizeLimit - c.currentSize }

// CurrentItems returns the live item count.
func (c *Capacity) CurrentItems() int64 { return c.currentItems }

// CurrentSize returns the live byte count.
func (c *Capacity) CurrentSize() int64 { return c.currentSize }

// Adjust applies a signed delta to both dimensions. Every call site must be
// bracketed (subtract old, mutate, add new) per Invariant I2 — adjust is
// intentionally a raw primitive with no bracketing of its own so that the
// bracketing discipline stays visible at the single call site that owns it
// (QueueManager.transition).
func (c *Capacity) Adjust(deltaItems, deltaSize int64) {
	c.currentItems += deltaItems
	c.currentSize += deltaSize
}

// SetLimits resizes the capacity at runtime (spec.md §3: "Both limits are
// externally watchable (the renderer may resize memory budgets at runtime,
// triggering a fresh scheduler tick)"). Returns true if either limit is
// lower than it was before the call, whatever the current usage, a signal
// callers use to force an immediate queue-manager tick so eviction can
// catch up.
func (c *Capacity) SetLimits(itemLimit, sizeLimit int64) (tightened bool) {
	tightened = itemLimit < c.itemLimit || sizeLimit < c.sizeLimit
	c.itemLimit = itemLimit
	c.sizeLimit = sizeLimit
	return tightened
}
