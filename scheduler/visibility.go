package scheduler

import "math"

// VisibilityAggregator is component H: it combines every render layer's
// visibility scalar for one chunk into a single effective value, by taking
// the maximum across contributors (spec.md §6.2). +Inf from any contributor
// means "currently visible, always schedule"; a finite value is a prefetch
// rank; -Inf (or no vote at all) means "ignored." The aggregator fires a
// change signal only when the combined value actually moves, mirroring
// worstIgnoredHealth's "only update if the new value changes the worst
// known value" discipline in uploadheapworsthealth.go, maximizing instead
// of worst-casing.
type VisibilityAggregator struct {
	contributions map[int]float64
	combined      float64
	onChange      func(float64)
}

// NewVisibilityAggregator returns an aggregator with no contributors voting,
// combined value -Inf ("ignored").
func NewVisibilityAggregator() *VisibilityAggregator {
	return &VisibilityAggregator{
		contributions: make(map[int]float64),
		combined:      math.Inf(-1),
	}
}

// OnChange registers the callback invoked whenever Set or Clear moves the
// combined value.
func (va *VisibilityAggregator) OnChange(fn func(float64)) {
	va.onChange = fn
}

// Set records contributor's visibility scalar and recombines. contributor is
// an opaque small integer (a layer's registration slot), not a pointer, so
// the aggregator stays comparable and allocation-free per vote.
func (va *VisibilityAggregator) Set(contributor int, value float64) float64 {
	old := va.combined
	va.contributions[contributor] = value
	va.recompute()
	va.fireIfChanged(old)
	return va.combined
}

// Clear removes contributor's vote entirely, distinct from voting -Inf: a
// contributor that has never voted and one that voted -Inf both count as
// "ignored" for the combined max, but Clear also drops the bookkeeping entry
// once a layer stops tracking a chunk altogether.
func (va *VisibilityAggregator) Clear(contributor int) {
	old := va.combined
	delete(va.contributions, contributor)
	va.recompute()
	va.fireIfChanged(old)
}

func (va *VisibilityAggregator) recompute() {
	best := math.Inf(-1)
	for _, v := range va.contributions {
		if v > best {
			best = v
		}
	}
	va.combined = best
}

func (va *VisibilityAggregator) fireIfChanged(old float64) {
	if va.combined != old && va.onChange != nil {
		va.onChange(va.combined)
	}
}

// Value returns the current combined visibility scalar without recomputing.
func (va *VisibilityAggregator) Value() float64 {
	return va.combined
}
