package scheduler

import (
	"testing"

	"gitlab.com/NebulousLabs/errors"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

var errSimulatedDownloadFailure = errors.New("simulated download failure")

// newTestScheduler wires a QueueManager, one fakeSource at level 0, and a
// ChunkManager driving it, using defaultBudgets (spec.md §8 scenario 1's
// stated budgets: gpu_items=2, gpu_bytes=200, sys_items=4, sys_bytes=400,
// dl_slots=2).
func newTestScheduler(t *testing.T) (*QueueManager, *ChunkManager, *fakeSource, *Source) {
	t.Helper()
	logger := testLogger(t)
	qm := NewQueueManager(defaultBudgets(), logger)
	cmg := NewChunkManager(qm, logger)
	qm.OnMainUpdate(func(cm.ChunkUpdate) {})
	fs := newFakeSource(0)
	src := qm.NewSource(cm.SourceID(1), fs)
	return qm, cmg, fs, src
}

// requestAndUpdate issues one frame's worth of requests (each a
// (key, tier, priority) triple) and drives the two-phase update.
func requestAndUpdate(cmg *ChunkManager, src *Source, reqs [][3]interface{}) []*Chunk {
	cmg.BeginFrame()
	chunks := make([]*Chunk, len(reqs))
	for i, r := range reqs {
		key := r[0].(string)
		tier := r[1].(cm.Tier)
		priority := r[2].(float64)
		chunks[i] = cmg.RequestChunk(nil, src, []byte(key), ChunkFlags{RequestedToFrontend: true}, 1, tier, priority)
	}
	cmg.UpdateQueueState([]cm.Tier{cm.TierVisible, cm.TierPrefetch})
	return chunks
}

func resolveAndDrain(t *testing.T, qm *QueueManager, fs *fakeSource, c *Chunk, sysBytes, gpuBytes uint64) {
	t.Helper()
	fs.resolve(c.ID, sysBytes, gpuBytes)
	drainCompletion(t, qm)
}

// TestScenarioPromotionWithinBudget is spec.md §8 scenario 1.
func TestScenarioPromotionWithinBudget(t *testing.T) {
	qm, cmg, fs, src := newTestScheduler(t)

	chunks := requestAndUpdate(cmg, src, [][3]interface{}{
		{"A", cm.TierVisible, 10.0},
		{"B", cm.TierVisible, 10.0},
	})
	a, b := chunks[0], chunks[1]

	qm.Process()
	if a.State() != cm.StateDownloading || b.State() != cm.StateDownloading {
		t.Fatalf("expected both chunks DOWNLOADING, got A=%v B=%v", a.State(), b.State())
	}

	resolveAndDrain(t, qm, fs, a, 50, 80)
	resolveAndDrain(t, qm, fs, b, 50, 80)
	if a.State() != cm.StateSystemMemory || b.State() != cm.StateSystemMemory {
		t.Fatalf("expected both chunks SYSTEM_MEMORY after download, got A=%v B=%v", a.State(), b.State())
	}

	qm.Process()
	if a.State() != cm.StateGPUMemory || b.State() != cm.StateGPUMemory {
		t.Fatalf("expected both chunks GPU_MEMORY, got A=%v B=%v", a.State(), b.State())
	}
	if got, want := qm.gpuCapacity.CurrentItems(), int64(2); got != want {
		t.Fatalf("gpu current items = %d, want %d", got, want)
	}
	if got, want := qm.gpuCapacity.CurrentSize(), int64(160); got != want {
		t.Fatalf("gpu current size = %d, want %d", got, want)
	}
}

// scenario1State is a small helper building exactly the terminal state of
// scenario 1, for scenarios 2-4 which continue from it.
func scenario1State(t *testing.T) (*QueueManager, *ChunkManager, *fakeSource, *Source, *Chunk, *Chunk) {
	t.Helper()
	qm, cmg, fs, src := newTestScheduler(t)
	chunks := requestAndUpdate(cmg, src, [][3]interface{}{
		{"A", cm.TierVisible, 10.0},
		{"B", cm.TierVisible, 10.0},
	})
	a, b := chunks[0], chunks[1]
	qm.Process()
	resolveAndDrain(t, qm, fs, a, 50, 80)
	resolveAndDrain(t, qm, fs, b, 50, 80)
	qm.Process()
	if a.State() != cm.StateGPUMemory || b.State() != cm.StateGPUMemory {
		t.Fatalf("setup: expected A, B GPU_MEMORY, got A=%v B=%v", a.State(), b.State())
	}
	return qm, cmg, fs, src, a, b
}

// TestScenarioEvictionTriggersPromotion is spec.md §8 scenario 2. A and B
// are re-requested at their original (tier, priority) every frame, matching
// how a real render layer re-asserts its current working set; B was melded
// into the GPU eviction heap after A (scenario 1's insertion order), so
// equal-priority ties break toward evicting the most-recently-inserted root
// first -- exactly the single eviction the scenario calls for.
func TestScenarioEvictionTriggersPromotion(t *testing.T) {
	qm, cmg, fs, src, a, b := scenario1State(t)

	chunks := requestAndUpdate(cmg, src, [][3]interface{}{
		{"A", cm.TierVisible, 10.0},
		{"B", cm.TierVisible, 10.0},
		{"C", cm.TierVisible, 20.0},
	})
	c := chunks[2]

	qm.Process() // promotes C to DOWNLOADING; nothing reaches GPU yet
	if c.State() != cm.StateDownloading {
		t.Fatalf("expected C DOWNLOADING, got %v", c.State())
	}
	resolveAndDrain(t, qm, fs, c, 50, 80)
	if c.State() != cm.StateSystemMemory {
		t.Fatalf("expected C SYSTEM_MEMORY, got %v", c.State())
	}

	qm.Process() // GPU promotion pass: evicts B, promotes C
	if b.State() != cm.StateSystemMemory {
		t.Fatalf("expected B evicted to SYSTEM_MEMORY, got %v", b.State())
	}
	if a.State() != cm.StateGPUMemory {
		t.Fatalf("expected A to remain GPU_MEMORY, got %v", a.State())
	}
	if c.State() != cm.StateGPUMemory {
		t.Fatalf("expected C promoted to GPU_MEMORY, got %v", c.State())
	}
}

// TestScenarioNoOpEvictionAttempt is spec.md §8 scenario 3: a PREFETCH
// promotion candidate may never evict a VISIBLE chunk, even at a much
// higher raw priority number, because tier strictly outranks priority.
func TestScenarioNoOpEvictionAttempt(t *testing.T) {
	qm, cmg, fs, src, a, b := scenario1State(t)

	chunks := requestAndUpdate(cmg, src, [][3]interface{}{
		{"A", cm.TierVisible, 10.0},
		{"B", cm.TierVisible, 10.0},
		{"D", cm.TierPrefetch, 100.0},
	})
	d := chunks[2]

	qm.Process()
	if d.State() != cm.StateDownloading {
		t.Fatalf("expected D DOWNLOADING, got %v", d.State())
	}
	resolveAndDrain(t, qm, fs, d, 50, 80)
	if d.State() != cm.StateSystemMemory {
		t.Fatalf("expected D SYSTEM_MEMORY, got %v", d.State())
	}

	qm.Process()
	if d.State() != cm.StateSystemMemory {
		t.Fatalf("expected D to remain SYSTEM_MEMORY (no GPU room), got %v", d.State())
	}
	if a.State() != cm.StateGPUMemory || b.State() != cm.StateGPUMemory {
		t.Fatalf("expected A, B to remain GPU_MEMORY, got A=%v B=%v", a.State(), b.State())
	}
}

// TestScenarioRecentDecay is spec.md §8 scenario 4.
func TestScenarioRecentDecay(t *testing.T) {
	qm, cmg, fs, src := newTestScheduler(t)
	chunks := requestAndUpdate(cmg, src, [][3]interface{}{{"A", cm.TierVisible, 5.0}})
	a := chunks[0]
	qm.Process()
	resolveAndDrain(t, qm, fs, a, 50, 80)
	qm.Process()
	if a.State() != cm.StateGPUMemory {
		t.Fatalf("setup: expected A GPU_MEMORY, got %v", a.State())
	}

	// Next frame: nobody requests A.
	requestAndUpdate(cmg, src, nil)
	if a.Tier() != cm.TierRecent {
		t.Fatalf("expected A's tier to decay to RECENT, got %v", a.Tier())
	}
	if a.State() != cm.StateGPUMemory {
		t.Fatalf("expected A to remain GPU_MEMORY until evicted, got %v", a.State())
	}
	if got := qm.gpuCapacity.CurrentSize(); got != 80 {
		t.Fatalf("expected A's GPU bytes still charged, got %d", got)
	}
}

// TestScenarioCancelMidDownload is spec.md §8 scenario 5.
func TestScenarioCancelMidDownload(t *testing.T) {
	logger := testLogger(t)
	budgets := defaultBudgets()
	budgets.DownloadItemLimit = 1
	qm := NewQueueManager(budgets, logger)
	cmg := NewChunkManager(qm, logger)
	qm.OnMainUpdate(func(cm.ChunkUpdate) {})
	fs := newFakeSource(0)
	src := qm.NewSource(cm.SourceID(1), fs)

	chunks := requestAndUpdate(cmg, src, [][3]interface{}{{"A", cm.TierVisible, 1.0}})
	a := chunks[0]
	qm.Process()
	if a.State() != cm.StateDownloading {
		t.Fatalf("expected A DOWNLOADING, got %v", a.State())
	}
	aToken := a.cancel

	chunks = requestAndUpdate(cmg, src, [][3]interface{}{
		{"A", cm.TierVisible, 1.0},
		{"B", cm.TierVisible, 1000.0},
	})
	b := chunks[1]

	qm.Process()
	if a.State() != cm.StateQueued {
		t.Fatalf("expected A cancelled back to QUEUED, got %v", a.State())
	}
	if !aToken.Cancelled() {
		t.Fatalf("expected A's original token to have fired")
	}
	if b.State() != cm.StateDownloading {
		t.Fatalf("expected B promoted to DOWNLOADING, got %v", b.State())
	}

	// A's stale download now settles; it must be discarded (P7).
	fs.resolve(a.ID, 999, 999)
	drainCompletion(t, qm)
	if a.State() != cm.StateQueued {
		t.Fatalf("expected A's stale completion to be a no-op, got state %v", a.State())
	}
	if a.SystemMemoryBytes() != 0 {
		t.Fatalf("expected A's stale completion not to write byte fields, got %d", a.SystemMemoryBytes())
	}
}

// TestScenarioSourceInvalidation is spec.md §8 scenario 6.
func TestScenarioSourceInvalidation(t *testing.T) {
	qm, cmg, fs, src := newTestScheduler(t)

	chunks := requestAndUpdate(cmg, src, [][3]interface{}{
		{"A", cm.TierVisible, 10.0},
		{"B", cm.TierVisible, 9.0},
		{"C", cm.TierVisible, 8.0},
		{"D", cm.TierVisible, 7.0},
	})
	a, b, c, d := chunks[0], chunks[1], chunks[2], chunks[3]

	qm.Process() // all four start DOWNLOADING eventually; budgets allow only 2 slots at once
	resolveAndDrain(t, qm, fs, a, 50, 80)
	qm.Process()
	resolveAndDrain(t, qm, fs, b, 50, 80)
	qm.Process() // promotes B to GPU_MEMORY (A got there on the previous tick) and starts D's download
	fs.fail(c.ID, errSimulatedDownloadFailure)
	drainCompletion(t, qm)
	if c.State() != cm.StateFailed {
		t.Fatalf("expected C FAILED, got %v", c.State())
	}

	if err := src.Invalidate(); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}
	for _, ch := range []*Chunk{a, b, c, d} {
		if ch.State() != cm.StateQueued {
			t.Fatalf("expected chunk %x QUEUED after invalidation, got %v", ch.ID[:4], ch.State())
		}
	}
	if got := qm.gpuCapacity.CurrentItems(); got != 0 {
		t.Fatalf("expected GPU capacity fully released after invalidation, got %d items", got)
	}
	if got := qm.systemMemoryCapacity.CurrentItems(); got != 0 {
		t.Fatalf("expected system memory capacity fully released after invalidation, got %d items", got)
	}

	qm.Process()
	pending := fs.pendingCount()
	if pending == 0 {
		t.Fatalf("expected re-download to start after invalidation")
	}
}
