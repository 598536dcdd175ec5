package chunkmodules

import "gitlab.com/NebulousLabs/errors"

// Sentinel errors for the scheduler and its collaborators, declared at
// package scope the way modules/renter/downloadheap.go declares
// errDownloadRenterClosed and friends.
var (
	// ErrSchedulerClosed is returned by operations invoked after the
	// scheduler's threadgroup has been stopped.
	ErrSchedulerClosed = errors.New("scheduler is shutting down")

	// ErrChunkNotFound is returned when a source is asked to look up a key
	// it does not have a live chunk for.
	ErrChunkNotFound = errors.New("no chunk exists for the given key")

	// ErrNotEnqueued describes a queue Delete made against a chunk the queue
	// does not currently contain, an invariant violation (build.Critical).
	// PriorityQueue.Delete does not check membership and returns no error.
	ErrNotEnqueued = errors.New("chunk is not present in the expected queue")

	// ErrCancelled marks a download future whose result must be discarded
	// because the chunk's cancellation token no longer matches the live
	// token (spec.md §4.6, §5 "Cancellation").
	ErrCancelled = errors.New("download was cancelled")

	// ErrCapacityExhausted is not propagated as a user-visible error (spec.md
	// §7 classifies it as "not an error"); it exists so internal callers can
	// distinguish "no room yet" from a genuine failure when composing
	// control flow.
	ErrCapacityExhausted = errors.New("no evictable capacity available for this promotion")

	// ErrInvalidPriority is the message used by build.Critical when
	// RequestChunk receives a non-finite priority or a RECENT tier request,
	// both of which spec.md §4.5 classifies as programmer error.
	ErrInvalidPriority = errors.New("priority must be finite and tier must not be RECENT")

	// ErrUnknownSource is reported by the api package's /sources/:id/stats
	// route when no source was registered with that SourceID via
	// QueueManager.NewSource.
	ErrUnknownSource = errors.New("no source registered with this id")
)
