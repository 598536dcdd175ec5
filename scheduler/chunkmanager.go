package scheduler

import (
	"math"

	"gitlab.com/NebulousLabs/log"

	"gitlab.com/skynetlabs/voxelsched/build"
	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// ChunkManager is component F: the main-context half of the scheduler. It
// receives priority requests from render layers once per frame, batches
// them into the per-frame new/existing tier collections of spec.md §4.5,
// and at end-of-frame diffs new-tier against existing-tier membership
// before forwarding a single coalesced update to the QueueManager.
//
// ChunkManager lives in the same package as QueueManager (rather than its
// own package) because, unlike the real neuroglancer frontend/backend
// split, voxelsched runs main and worker as cooperating goroutines in one
// process by default (see transport.InProcess); the two-phase staged-field
// dance on Chunk itself is what keeps the main/worker boundary meaningful
// even though no IPC hop is mandatory for the common single-process case.
type ChunkManager struct {
	staticLog *log.Logger
	qm        *QueueManager

	// existingTierChunks[0] is VISIBLE, [1] is PREFETCH (spec.md §4.5:
	// "existing_tier_chunks[tier]: chunks whose current effective tier
	// equals tier (VISIBLE or PREFETCH)"). RECENT is never tracked here.
	existingTierChunks [2]map[*Chunk]struct{}
	newTierChunks      map[*Chunk]struct{}

	layers      map[*Layer]struct{}
	layerChunks map[*Layer]map[*Chunk]cm.Tier
}

// NewChunkManager constructs a ChunkManager driving the given QueueManager.
func NewChunkManager(qm *QueueManager, logger *log.Logger) *ChunkManager {
	return &ChunkManager{
		staticLog: logger,
		qm:        qm,
		existingTierChunks: [2]map[*Chunk]struct{}{
			make(map[*Chunk]struct{}),
			make(map[*Chunk]struct{}),
		},
		newTierChunks: make(map[*Chunk]struct{}),
		layers:        make(map[*Layer]struct{}),
		layerChunks:   make(map[*Layer]map[*Chunk]cm.Tier),
	}
}

// BeginFrame advances the shared epoch and returns the new generation,
// letting a layer's request-chunks callback stamp chunks it has already
// visited this frame (spec.md §9 "Global generation counter").
func (cmg *ChunkManager) BeginFrame() int64 {
	for l := range cmg.layers {
		l.beginFrame()
		cmg.layerChunks[l] = make(map[*Chunk]cm.Tier)
	}
	return cmg.qm.epoch.Advance()
}

// RegisterLayer adds layer to the set tracked for per-layer progress
// counters (spec.md §6.5) and throttled reporting.
func (cmg *ChunkManager) RegisterLayer(l *Layer) {
	cmg.layers[l] = struct{}{}
	cmg.layerChunks[l] = make(map[*Chunk]cm.Tier)
}

// UnregisterLayer drops layer from progress tracking.
func (cmg *ChunkManager) UnregisterLayer(l *Layer) {
	delete(cmg.layers, l)
	delete(cmg.layerChunks, l)
}

// Layers returns a snapshot slice of every currently-registered layer, for
// debug/introspection routes (api package) that need to enumerate layers
// rather than hold on to the handle returned at registration time.
func (cmg *ChunkManager) Layers() []*Layer {
	out := make([]*Layer, 0, len(cmg.layers))
	for l := range cmg.layers {
		out = append(out, l)
	}
	return out
}

// QueueManager returns the QueueManager this ChunkManager drives, for
// callers (api package) that need access to both halves of the scheduler
// from a single handle.
func (cmg *ChunkManager) QueueManager() *QueueManager {
	return cmg.qm
}

func tierIndex(tier cm.Tier) int {
	switch tier {
	case cm.TierVisible:
		return 0
	case cm.TierPrefetch:
		return 1
	default:
		return -1
	}
}

// RequestChunk is the entry point a render layer's request-chunks callback
// invokes once per visible/prefetched chunk per frame (spec.md §2, §4.5).
// tier must not be RECENT and priority must be finite; either violation is
// a programmer error (spec.md §7) and fails fast via build.Critical.
func (cmg *ChunkManager) RequestChunk(layer *Layer, source *Source, key []byte, flags ChunkFlags, downloadSlotCost int, tier cm.Tier, priority float64) *Chunk {
	if tier == cm.TierRecent || math.IsNaN(priority) || math.IsInf(priority, 0) {
		build.Critical(cm.ErrInvalidPriority.Error(), "tier", tier, "priority", priority)
		return nil
	}
	chunk := source.GetOrCreate(key, flags, downloadSlotCost)

	if chunk.stagedTier == cm.TierRecent {
		cmg.newTierChunks[chunk] = struct{}{}
	}
	if betterTierPriority(tier, priority, chunk.stagedTier, chunk.stagedPriority) {
		chunk.stagedTier = tier
		chunk.stagedPriority = priority
	}
	chunk.stagedEpoch = cmg.qm.epoch.Current()

	if layer != nil {
		layer.noteNeeded(tier)
		cmg.layerChunks[layer][chunk] = tier
	}
	return chunk
}

// betterTierPriority implements §4.5's "raise the staged (tier, priority) by
// the max rule: smaller tier number wins; within same tier, larger priority
// wins."
func betterTierPriority(tier cm.Tier, priority float64, curTier cm.Tier, curPriority float64) bool {
	if tier < curTier {
		return true
	}
	return tier == curTier && priority > curPriority
}

// UpdateQueueState is the end-of-frame driver of spec.md §4.5. For each
// tier given (ordinarily {VISIBLE, PREFETCH}), it demotes any chunk whose
// staged tier is still RECENT (meaning no layer requested it this frame),
// then applies every chunk touched by RequestChunk since the last call,
// and finally schedules a queue-manager tick.
func (cmg *ChunkManager) UpdateQueueState(tiers []cm.Tier) {
	for _, tier := range tiers {
		idx := tierIndex(tier)
		if idx < 0 {
			continue
		}
		for chunk := range cmg.existingTierChunks[idx] {
			if chunk.stagedTier == cm.TierRecent {
				cmg.performChunkPriorityUpdate(chunk)
			}
		}
		cmg.existingTierChunks[idx] = make(map[*Chunk]struct{})
	}

	for chunk := range cmg.newTierChunks {
		cmg.performChunkPriorityUpdate(chunk)
		if idx := tierIndex(chunk.tier); idx >= 0 {
			cmg.existingTierChunks[idx][chunk] = struct{}{}
		}
	}
	cmg.newTierChunks = make(map[*Chunk]struct{})

	cmg.updateLayerAvailability()
	cmg.qm.ScheduleUpdate()
}

// performChunkPriorityUpdate applies chunk's staged tier/priority to its
// current fields and re-threads it through whichever queues its new
// (state, tier) imply (spec.md §4.5).
func (cmg *ChunkManager) performChunkPriorityUpdate(c *Chunk) {
	if c.stagedTier == c.tier && c.stagedPriority == c.priority {
		c.stagedTier = cm.TierRecent
		c.stagedPriority = 0
		return
	}
	newTier, newPriority := c.stagedTier, c.stagedPriority
	c.stagedTier = cm.TierRecent
	c.stagedPriority = 0

	if c.state == cm.StateNew {
		c.tier, c.priority = newTier, newPriority
		cmg.qm.transition(c, cm.StateQueued)
		return
	}
	cmg.qm.retier(c, newTier, newPriority)
	if c.tier == cm.TierRecent && c.state == cm.StateQueued {
		cmg.qm.destroyChunk(c)
	}
}

// updateLayerAvailability recomputes each registered layer's "available"
// counters (spec.md §6.5) from its currently-requested chunk set: a chunk
// counts as available once it has reached GPU_MEMORY, the state a layer's
// own render pass can actually sample from.
func (cmg *ChunkManager) updateLayerAvailability() {
	for layer, chunks := range cmg.layerChunks {
		var visAvail, prefAvail int64
		for chunk, tier := range chunks {
			if chunk.state != cm.StateGPUMemory {
				continue
			}
			switch tier {
			case cm.TierVisible:
				visAvail++
			case cm.TierPrefetch:
				prefAvail++
			}
		}
		layer.setAvailable(visAvail, prefAvail)
	}
}
