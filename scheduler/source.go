package scheduler

import (
	"gitlab.com/NebulousLabs/errors"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

const (
	numStates = int(cm.StateExpired) + 1
	numTiers  = int(cm.TierRecent) + 1
)

// SourceStats is the per-source statistics array of spec.md §3: counts and
// byte totals indexed by state × tier.
type SourceStats struct {
	Counts [numStates][numTiers]int64
	Bytes  [numStates][numTiers]int64
}

func (s *SourceStats) adjust(state cm.State, tier cm.Tier, bytes int64, sign int64) {
	s.Counts[int(state)][int(tier)] += sign
	s.Bytes[int(state)][int(tier)] += sign * bytes
}

// Source is component D: a chunk source owns a map of its own live chunks
// keyed by the datasource-specific key, plus a free-list of Chunk
// allocations for reuse. Its refcount tracks external holders only (e.g. a
// layer still referencing it), via Retain and Release; live chunks are not
// counted in it, and nothing frees the source when it reaches zero.
type Source struct {
	id          cm.SourceID
	chunkSource cm.ChunkSource
	qm          *QueueManager

	level int

	byKey    map[string]*Chunk
	freeList []*Chunk

	stats   SourceStats
	latency *LatencyTracker

	refcount int32
}

// NewSource registers a new chunk source with the queue manager that owns
// its capacities and queues.
func (qm *QueueManager) NewSource(id cm.SourceID, cs cm.ChunkSource) *Source {
	s := &Source{
		id:          id,
		chunkSource: cs,
		qm:          qm,
		level:       cs.Level(),
		byKey:       make(map[string]*Chunk),
		latency:     NewLatencyTracker(128),
	}
	qm.sources[id] = s
	return s
}

// ID returns the source's id.
func (s *Source) ID() cm.SourceID { return s.id }

// Level returns the source's source-queue-level (spec.md §4.3).
func (s *Source) Level() int { return s.level }

// Stats returns a snapshot of the source's per-state/tier statistics.
func (s *Source) Stats() SourceStats { return s.stats }

// LatencyStats returns the rolling mean/stddev of this source's recent
// download latencies (spec.md §6.5 supplement; see scheduler/stats.go).
func (s *Source) LatencyStats() (mean, stddev float64, err error) {
	return s.latency.MeanStdDev()
}

// Retain increments the external-holder refcount.
func (s *Source) Retain() { s.refcount++ }

// Release decrements the external-holder refcount.
func (s *Source) Release() { s.refcount-- }

// Lookup returns the live chunk for key, if one has been created.
func (s *Source) Lookup(key []byte) (*Chunk, bool) {
	c, ok := s.byKey[string(key)]
	return c, ok
}

// GetOrCreate returns the live chunk for key, allocating one (reusing a
// free-list entry if available) in state NEW if none exists yet.
// downloadSlotCost must be >= 1 (spec.md §3).
func (s *Source) GetOrCreate(key []byte, flags ChunkFlags, downloadSlotCost int) *Chunk {
	if c, ok := s.byKey[string(key)]; ok {
		return c
	}
	var c *Chunk
	if n := len(s.freeList); n > 0 {
		c = s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
	} else {
		c = &Chunk{}
	}
	id := NewChunkID(s.id, key)
	c.reset(s, id, append([]byte(nil), key...), flags, downloadSlotCost)
	s.byKey[string(key)] = c
	return c
}

// free removes c from the source's map and returns its allocation to the
// free-list (spec.md §3 lifecycle step 7). Called only by the queue manager
// once a QUEUED chunk's tier has dropped to RECENT.
func (s *Source) free(c *Chunk) {
	delete(s.byKey, string(c.Key))
	s.freeList = append(s.freeList, c)
}

// Invalidate transitions every live chunk of this source back to QUEUED
// (spec.md §4.6 "source-cache invalidation"): cancelling in-flight
// downloads, freeing GPU/worker memory, clearing FAILED records. Re-download
// follows naturally on the next scheduler tick, per priority.
func (s *Source) Invalidate() error {
	var errs error
	for _, c := range s.byKey {
		switch c.state {
		case cm.StateQueued:
			// Already QUEUED; nothing to do.
		case cm.StateDownloading:
			if c.cancel != nil {
				c.cancel.Cancel()
			}
			c.cancel = nil
			s.qm.transition(c, cm.StateQueued)
		case cm.StateGPUMemory:
			s.qm.transition(c, cm.StateSystemMemory)
			s.qm.transition(c, cm.StateQueued)
		case cm.StateSystemMemory, cm.StateSystemMemoryWorker:
			s.qm.transition(c, cm.StateQueued)
		case cm.StateFailed:
			c.err = nil
			s.qm.transition(c, cm.StateQueued)
		case cm.StateNew, cm.StateExpired:
			// Nothing resident to invalidate.
		default:
			errs = errors.Compose(errs, errors.New("unexpected state during invalidation"))
		}
	}
	s.qm.ScheduleUpdate()
	return errs
}
