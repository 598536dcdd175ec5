package scheduler

import (
	"testing"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// TestRequestChunkTakesBestTierPriority exercises spec.md §4.5's "raise the
// staged (tier, priority) by the max rule" within a single frame: two calls
// for the same chunk should leave the smaller tier number (VISIBLE beats
// PREFETCH) staged, and a later call at the same tier only wins on a higher
// priority.
func TestRequestChunkTakesBestTierPriority(t *testing.T) {
	qm, cmg, _, src := newTestScheduler(t)
	_ = qm

	c1 := cmg.RequestChunk(nil, src, []byte("x"), ChunkFlags{}, 1, cm.TierPrefetch, 50)
	if c1.stagedTier != cm.TierPrefetch || c1.stagedPriority != 50 {
		t.Fatalf("expected staged (PREFETCH, 50), got (%v, %v)", c1.stagedTier, c1.stagedPriority)
	}
	c2 := cmg.RequestChunk(nil, src, []byte("x"), ChunkFlags{}, 1, cm.TierVisible, 1)
	if c2 != c1 {
		t.Fatalf("expected the same chunk to be returned for the same key")
	}
	if c1.stagedTier != cm.TierVisible || c1.stagedPriority != 1 {
		t.Fatalf("expected VISIBLE to win over PREFETCH regardless of priority, got (%v, %v)", c1.stagedTier, c1.stagedPriority)
	}

	cmg.RequestChunk(nil, src, []byte("x"), ChunkFlags{}, 1, cm.TierVisible, 0.5)
	if c1.stagedPriority != 1 {
		t.Fatalf("expected a lower priority at the same tier not to win, got %v", c1.stagedPriority)
	}
	cmg.RequestChunk(nil, src, []byte("x"), ChunkFlags{}, 1, cm.TierVisible, 9)
	if c1.stagedPriority != 9 {
		t.Fatalf("expected a higher priority at the same tier to win, got %v", c1.stagedPriority)
	}
}

// TestLayerAvailabilityTracksGPUResidency is spec.md §6.5: a layer's
// available counters only count chunks that have actually reached
// GPU_MEMORY, not merely requested or downloading ones.
func TestLayerAvailabilityTracksGPUResidency(t *testing.T) {
	qm, cmg, fs, src := newTestScheduler(t)
	layer := NewLayer("test-layer")
	cmg.RegisterLayer(layer)

	cmg.BeginFrame()
	a := cmg.RequestChunk(layer, src, []byte("a"), ChunkFlags{RequestedToFrontend: true}, 1, cm.TierVisible, 1)
	b := cmg.RequestChunk(layer, src, []byte("b"), ChunkFlags{RequestedToFrontend: true}, 1, cm.TierVisible, 2)
	cmg.UpdateQueueState([]cm.Tier{cm.TierVisible, cm.TierPrefetch})

	counters := layer.Counters()
	if counters.VisibleChunksNeeded != 2 {
		t.Fatalf("expected 2 needed visible chunks, got %d", counters.VisibleChunksNeeded)
	}
	if counters.VisibleChunksAvailable != 0 {
		t.Fatalf("expected 0 available before any download completes, got %d", counters.VisibleChunksAvailable)
	}

	qm.Process()
	resolveAndDrain(t, qm, fs, a, 50, 80)
	resolveAndDrain(t, qm, fs, b, 50, 80)
	qm.Process()

	cmg.BeginFrame()
	cmg.RequestChunk(layer, src, []byte("a"), ChunkFlags{RequestedToFrontend: true}, 1, cm.TierVisible, 1)
	cmg.RequestChunk(layer, src, []byte("b"), ChunkFlags{RequestedToFrontend: true}, 1, cm.TierVisible, 2)
	cmg.UpdateQueueState([]cm.Tier{cm.TierVisible, cm.TierPrefetch})

	counters = layer.Counters()
	if counters.VisibleChunksAvailable != 2 {
		t.Fatalf("expected 2 available visible chunks once both reach GPU_MEMORY, got %d", counters.VisibleChunksAvailable)
	}
}
