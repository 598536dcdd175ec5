package chunkmodules

import "gitlab.com/NebulousLabs/encoding"

// UpdateKind discriminates the tagged union carried by a ChunkUpdate message
// (spec.md §6.3, §9 "Reflection & dynamic option bags": "define an explicit
// tagged-union per message kind ... never leak free-form option dictionaries
// into core types").
type UpdateKind uint8

const (
	// UpdateSystemMemory reports that a chunk has become resident in
	// main-context worker memory (state SYSTEM_MEMORY).
	UpdateSystemMemory UpdateKind = iota
	// UpdateGPUMemory reports GPU residency. The first time a given chunk
	// transitions from worker memory to the GPU, Buffer carries the
	// serialized payload as a transferable.
	UpdateGPUMemory
	// UpdateExpired reports that a chunk's worker-side memory was freed.
	UpdateExpired
)

// ChunkUpdate is the worker→main control message of spec.md §6.3. Buffer is
// only populated for the first UpdateGPUMemory transition of a given chunk
// (previously SYSTEM_MEMORY_WORKER); subsequent updates for the same chunk
// carry no payload because the main context already holds the bytes.
type ChunkUpdate struct {
	SourceID SourceID
	ChunkID  ChunkID
	Kind     UpdateKind
	Buffer   []byte
}

// MarshalSia implements encoding.Marshaler using the wire format the rest of
// the pack's Sia-derived stack already speaks, so ChunkUpdate can travel
// across the transport package's siamux-backed binding unchanged.
func (u ChunkUpdate) MarshalSia() []byte {
	return encoding.Marshal(u)
}

// UnmarshalSia implements encoding.Unmarshaler.
func (u *ChunkUpdate) UnmarshalSia(b []byte) int {
	if err := encoding.Unmarshal(b, u); err != nil {
		return 0
	}
	return len(b)
}

// RetrieveRequest is the main→worker request of spec.md §6.4: fetch the raw
// bytes of a chunk currently in SYSTEM_MEMORY_WORKER. Used by auxiliary
// consumers outside the render path (e.g. "save chunk to disk" tooling),
// never by the GPU-upload path itself.
type RetrieveRequest struct {
	RequestID uint64
	SourceID  SourceID
	ChunkID   ChunkID
}

// RetrieveResponse correlates back to a RetrieveRequest by RequestID. Err is
// non-empty when the chunk was no longer in SYSTEM_MEMORY_WORKER by the time
// the worker context serviced the request (e.g. it was evicted or promoted
// in the interim).
type RetrieveResponse struct {
	RequestID uint64
	Payload   []byte
	Err       string
}
