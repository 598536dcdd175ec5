// Package scheduler implements the multi-resource chunk scheduler: the
// per-chunk state machine, the priority queues and capacity counters that
// gate it, the two-phase priority-recomputation protocol, and the
// capacity-aware promotion/eviction algorithm. This is the "hard
// engineering" component named in spec.md §1; everything in the sibling
// packages (transport, datasource, api, cmd) is ordinary glue around it.
package scheduler

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// link holds one of the two intrusive (child, next, prev) triples a Chunk
// carries, per spec.md §3 and §9 "Intrusive heap/list with two link sets."
// Index 0 is reserved for the system-memory eviction queue; index 1 is
// shared by every other queue a chunk can ever belong to, because no chunk
// is simultaneously a member of two index-1 queues (spec.md §4.4 proof by
// inspection).
type link struct {
	child, next, prev *Chunk
}

// ChunkFlags are the per-chunk booleans of spec.md §3.
type ChunkFlags struct {
	// BackendOnly chunks are never promoted to the GPU (e.g. chunks used
	// only to compute other chunks).
	BackendOnly bool
	// Computational chunks consume compute_capacity instead of a
	// source-level download_capacity while being produced.
	Computational bool
	// RequestedToFrontend is set once a render layer has actually asked
	// for this chunk (as opposed to it merely existing as another chunk's
	// dependency).
	RequestedToFrontend bool
}

// Chunk is one fixed-granularity unit of loadable data, identified by
// (source, key). It carries its own intrusive queue links so the priority
// queues of component B never allocate wrapper nodes.
type Chunk struct {
	ID  cm.ChunkID
	Key []byte

	source *Source

	state cm.State
	tier  cm.Tier
	// priority is meaningless while tier == TierRecent; RECENT membership
	// is tracked purely by LRU position (spec.md §3 "Priority tiers").
	priority float64

	stagedTier     cm.Tier
	stagedPriority float64
	// stagedEpoch is the generation (Epoch.Current) at which stagedTier and
	// stagedPriority were last written. A chunk whose stagedEpoch lags the
	// current generation was not requested this frame (spec.md §4.5).
	stagedEpoch int64

	systemMemoryBytes uint64
	gpuMemoryBytes    uint64
	downloadSlotCost  int

	flags ChunkFlags

	err error

	// cancel is non-nil if and only if state == StateDownloading
	// (Invariant I3).
	cancel cm.CancellationToken

	// payload holds the decoded bytes between a successful download and
	// their handoff to GPU memory (spec.md §6.3's transferable buffer).
	payload []byte

	links [2]link
}

// NewChunkID hashes a (source, key) pair into a fixed-width identifier, the
// role crypto.HashBytes plays for Sia identifiers in the teacher repo.
func NewChunkID(source cm.SourceID, key []byte) cm.ChunkID {
	h, _ := blake2b.New256(nil)
	var sourceBuf [8]byte
	binary.LittleEndian.PutUint64(sourceBuf[:], uint64(source))
	h.Write(sourceBuf[:])
	h.Write(key)
	var id cm.ChunkID
	copy(id[:], h.Sum(nil))
	return id
}

// State returns the chunk's current lifecycle state.
func (c *Chunk) State() cm.State { return c.state }

// Tier returns the chunk's current effective priority tier.
func (c *Chunk) Tier() cm.Tier { return c.tier }

// Priority returns the chunk's current priority scalar (meaningless when
// Tier() == TierRecent).
func (c *Chunk) Priority() float64 { return c.priority }

// Err returns the error payload attached when State() == StateFailed.
func (c *Chunk) Err() error { return c.err }

// SystemMemoryBytes returns the worker-memory footprint reported by the
// datasource on successful download.
func (c *Chunk) SystemMemoryBytes() uint64 { return c.systemMemoryBytes }

// GPUMemoryBytes returns the GPU-memory footprint reported by the
// datasource on successful download.
func (c *Chunk) GPUMemoryBytes() uint64 { return c.gpuMemoryBytes }

// Flags returns the chunk's immutable scheduling flags.
func (c *Chunk) Flags() ChunkFlags { return c.flags }

// SourceID returns the id of the source this chunk belongs to.
func (c *Chunk) SourceID() cm.SourceID { return c.source.id }

func (c *Chunk) reset(source *Source, id cm.ChunkID, key []byte, flags ChunkFlags, downloadSlotCost int) {
	c.source = source
	c.ID = id
	c.Key = key
	c.flags = flags
	c.downloadSlotCost = downloadSlotCost
	if c.downloadSlotCost < 1 {
		c.downloadSlotCost = 1
	}
	c.state = cm.StateNew
	c.tier = cm.TierRecent
	c.priority = negInf
	c.stagedTier = cm.TierRecent
	c.stagedPriority = 0
	c.stagedEpoch = 0
	c.systemMemoryBytes = 0
	c.gpuMemoryBytes = 0
	c.err = nil
	c.cancel = nil
	c.payload = nil
	c.links = [2]link{}
}
