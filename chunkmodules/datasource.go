package chunkmodules

import "context"

// CancellationToken is a one-shot source with an add-listener API, used to
// cancel an in-flight Download (spec.md §5 "Cancellation"). Only the token
// stored on the chunk at cancellation time is honored; a Download whose
// token has since been replaced (the chunk was re-queued and restarted) must
// have its eventual resolution discarded by the caller via an identity
// check, not by the token itself.
type CancellationToken interface {
	// Cancel fires the token. Safe to call more than once (spec.md
	// Invariant/Property P7): the second call is a no-op.
	Cancel()
	// Cancelled reports whether Cancel has been called.
	Cancelled() bool
	// Done returns a channel closed when Cancel is called, for use in
	// select statements inside Download implementations.
	Done() <-chan struct{}
}

// NewCancellationToken returns a fresh, live token.
func NewCancellationToken() CancellationToken {
	return &cancellationToken{done: make(chan struct{})}
}

type cancellationToken struct {
	done      chan struct{}
	cancelled bool
}

func (t *cancellationToken) Cancel() {
	if t.cancelled {
		return
	}
	t.cancelled = true
	close(t.done)
}

func (t *cancellationToken) Cancelled() bool {
	return t.cancelled
}

func (t *cancellationToken) Done() <-chan struct{} {
	return t.done
}

// DownloadHandle is everything a ChunkSource needs to know to service one
// chunk's download request (spec.md §6.1).
type DownloadHandle struct {
	SourceID SourceID
	ChunkID  ChunkID
	// Key is the source-specific lookup key for this chunk (a byte-encoded
	// coordinate, shard index, etc). Opaque to the scheduler.
	Key []byte
}

// DownloadResult is what a successful Download must report back so the
// scheduler can charge the right capacities and hand the chunk off. The
// source must populate SystemMemoryBytes (and GPUMemoryBytes if the chunk
// will ever be promoted to the GPU) and stash the decoded payload somewhere
// Serialize can later reach it.
type DownloadResult struct {
	SystemMemoryBytes uint64
	GPUMemoryBytes    uint64
	// Payload is the decoded bytes, retained by the source until handed off
	// via Chunk.update (§6.3) or requested via Chunk.retrieve (§6.4).
	Payload []byte
}

// ChunkSource is the one operation the scheduler consumes from datasources
// (spec.md §6.1). Implementations must honor ctx/cancel: when the
// cancellation fires, abort network I/O and return promptly. The scheduler
// discards the result of a cancelled Download by token-identity check, so
// returning an error after cancellation is harmless but should still be
// prompt.
type ChunkSource interface {
	// Download fetches and decodes one chunk. On success it returns a
	// DownloadResult; on failure (transport or decode error) it returns a
	// non-nil error, which the scheduler converts into StateFailed.
	Download(ctx context.Context, handle DownloadHandle, cancel CancellationToken) (DownloadResult, error)

	// Level is this source's source-queue-level (spec.md §4.3
	// "Source-queue-levels"): a source whose Download itself requests
	// chunks from another source must report a strictly greater level than
	// that source, so the two never contend for the same download-slot
	// budget.
	Level() int
}
