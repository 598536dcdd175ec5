// Package transport implements component G: the cross-context channel
// connecting the main context's ChunkManager to the worker context's
// QueueManager. Messages are delivered strictly in order per direction
// (spec.md §5 "Ordering guarantees"); buffers attached to a ChunkUpdate
// travel as Go slices, which Go already treats as a move of the backing
// array's ownership by convention once sent, mirroring the source
// language's "transferable" semantics closely enough that no further
// copying step is needed on either side.
package transport

import (
	"gitlab.com/NebulousLabs/errors"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// ErrTransportClosed is returned by Send once Close has been called.
var ErrTransportClosed = errors.New("transport is closed")

// Message is the envelope every cross-context communication travels in.
// Exactly one field is meaningful per message; this mirrors spec.md §9's
// "define an explicit tagged-union per message kind" resolution rather than
// the source language's free-form option dictionaries.
type Message struct {
	ChunkUpdate       *cm.ChunkUpdate
	RetrieveRequest   *cm.RetrieveRequest
	RetrieveResponse  *cm.RetrieveResponse
}

// Transport is the interface the scheduler's cross-context handoff is
// written against. InProcess (this package) is the default binding for
// main/worker running as goroutines sharing an address space; SiaMux (this
// package) binds main/worker as two separate OS processes.
type Transport interface {
	// Send enqueues msg for delivery to the peer. Returns ErrTransportClosed
	// if the transport has been closed.
	Send(msg Message) error
	// Recv returns the channel of messages arriving from the peer. Whether
	// Close closes this channel depends on the implementation: SiaMux closes
	// it when its pump loop exits; InProcess never closes it.
	Recv() <-chan Message
	// Close shuts the transport down; Send after Close returns
	// ErrTransportClosed.
	Close() error
}
