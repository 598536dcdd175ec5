package datasource

import (
	"context"

	"github.com/klauspost/reedsolomon"

	"gitlab.com/NebulousLabs/errors"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// ComputeSource models the "computational" chunk flag of spec.md §3/§4.3:
// instead of fetching bytes over the network, producing one of its chunks
// means erasure-coded reconstruction from a set of data/parity shards,
// real CPU-bound work that competes for compute_capacity rather than a
// source-level download_capacity. Grounded on the teacher's use of
// reedsolomon throughout modules/renter's erasure coding.
type ComputeSource struct {
	staticLevel      int
	staticEnc        reedsolomon.Encoder
	staticShards     [][]byte
	staticSize       int
	staticDataShards int
}

// NewComputeSource constructs a ComputeSource whose chunks are produced by
// reconstructing a dataShards+parityShards Reed-Solomon scheme over shards
// of shardSize bytes each. level is this source's source-queue-level
// (spec.md §4.3); it must be strictly greater than the level of whatever
// source ComputeSource's shards were originally downloaded from, since
// producing one of its chunks may itself need to fetch missing shards from
// that dependency (not modeled here — shards are assumed already present).
func NewComputeSource(level, dataShards, parityShards, shardSize int) (*ComputeSource, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, errors.AddContext(err, "failed to construct reed-solomon encoder")
	}
	shards := make([][]byte, dataShards+parityShards)
	for i := range shards {
		shards[i] = make([]byte, shardSize)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, errors.AddContext(err, "failed to encode initial shard set")
	}
	return &ComputeSource{staticLevel: level, staticEnc: enc, staticShards: shards, staticSize: shardSize, staticDataShards: dataShards}, nil
}

// Level implements chunkmodules.ChunkSource.
func (cs *ComputeSource) Level() int { return cs.staticLevel }

// Download implements chunkmodules.ChunkSource. It simulates losing every
// shard except the first dataShards-worth, then reconstructing, so that
// the reedsolomon.Reconstruct pass (the actual CPU work being modeled) runs
// on every call. The first byte of the handle's ChunkID selects which
// shard's position in the set is treated as the chunk of interest; the Key
// is not used, since this is a simulation rather than a real per-chunk
// erasure scheme.
func (cs *ComputeSource) Download(ctx context.Context, handle cm.DownloadHandle, cancel cm.CancellationToken) (cm.DownloadResult, error) {
	select {
	case <-ctx.Done():
		return cm.DownloadResult{}, ctx.Err()
	case <-cancel.Done():
		return cm.DownloadResult{}, errors.New("compute chunk cancelled")
	default:
	}

	working := make([][]byte, len(cs.staticShards))
	for i, shard := range cs.staticShards {
		if i < cs.staticDataShards {
			working[i] = append([]byte(nil), shard...)
		}
	}
	if err := cs.staticEnc.Reconstruct(working); err != nil {
		return cm.DownloadResult{}, errors.AddContext(err, "reed-solomon reconstruction failed")
	}

	idx := int(handle.ChunkID[0]) % len(working)
	payload := working[idx]
	return cm.DownloadResult{
		SystemMemoryBytes: uint64(len(payload)),
		Payload:           payload,
	}, nil
}
