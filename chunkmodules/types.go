// Package chunkmodules holds the types and interfaces shared between the
// scheduler, the cross-context transport, and external collaborators
// (datasources, render layers). It plays the role the teacher's top-level
// `modules` package plays for modules/renter: one import everybody else
// depends on, nobody depends back on.
package chunkmodules

import "math"

// State is a chunk's position in the lifecycle of spec.md §4.1.
type State int

const (
	// StateNew is the initial state of a freshly allocated chunk. Not yet in
	// any queue.
	StateNew State = iota
	// StateQueued means capacity has been charged and the chunk awaits a
	// download or GPU-upload slot.
	StateQueued
	// StateDownloading means a download slot has been granted and a fetch is
	// in flight.
	StateDownloading
	// StateFailed means the download or decode step returned an error.
	StateFailed
	// StateSystemMemoryWorker means decoded bytes are buffered in worker
	// memory, not yet handed off to the main context.
	StateSystemMemoryWorker
	// StateSystemMemory means the chunk is resident in main-context worker
	// memory.
	StateSystemMemory
	// StateGPUMemory means the chunk has been uploaded to GPU memory.
	StateGPUMemory
	// StateExpired means the chunk was evicted from worker memory and its
	// bytes are gone; the Chunk struct itself may still be reachable briefly
	// for bookkeeping.
	StateExpired
)

// String renders a State for log lines and test failure messages.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateQueued:
		return "QUEUED"
	case StateDownloading:
		return "DOWNLOADING"
	case StateFailed:
		return "FAILED"
	case StateSystemMemoryWorker:
		return "SYSTEM_MEMORY_WORKER"
	case StateSystemMemory:
		return "SYSTEM_MEMORY"
	case StateGPUMemory:
		return "GPU_MEMORY"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN_STATE"
	}
}

// Tier is the coarse priority class of spec.md §3. Tiers are totally
// ordered; smaller numeric rank means higher priority.
type Tier int

const (
	// TierVisible is the highest priority tier: the chunk is part of the
	// current frame and must always be scheduled.
	TierVisible Tier = iota
	// TierPrefetch is a finite-rank, opportunistic priority.
	TierPrefetch
	// TierRecent is the lowest tier: not currently requested, kept only so
	// re-requesting is free. Ordered by recency, not priority.
	TierRecent
)

func (t Tier) String() string {
	switch t {
	case TierVisible:
		return "VISIBLE"
	case TierPrefetch:
		return "PREFETCH"
	case TierRecent:
		return "RECENT"
	default:
		return "UNKNOWN_TIER"
	}
}

// VisibilityToTierPriority converts an aggregated visibility scalar (§6.2:
// +Inf means always-visible, a finite value is a prefetch rank, -Inf means
// ignored) into a Tier, pairing it with the caller-supplied finite
// withinTierRank (e.g. inverse distance-to-camera) used to order chunks
// within the VISIBLE tier, since the aggregator's own scalar collapses to a
// single sentinel for "visible" and carries no ordering information of its
// own. Returns ok=false when the contributor's scalar is -Inf, meaning the
// chunk should not be requested at all this frame.
func VisibilityToTierPriority(visibility, withinTierRank float64) (tier Tier, priority float64, ok bool) {
	switch {
	case math.IsInf(visibility, 1):
		return TierVisible, withinTierRank, true
	case math.IsInf(visibility, -1):
		return TierRecent, 0, false
	default:
		return TierPrefetch, visibility, true
	}
}

// SourceID identifies a chunk source (one remote datasource instance).
type SourceID uint64

// ChunkID identifies one chunk within its source, derived from the source's
// own key type by NewChunkID (see scheduler/chunk.go). It exists so queues
// and maps can key on a small fixed-width value instead of an arbitrary key
// type.
type ChunkID [32]byte
