// Package datasource holds example implementations of the one interface
// the scheduler consumes from datasources (chunkmodules.ChunkSource),
// demonstrating the §6.1 contract under realistic transport limits.
// voxelsched's own remote-protocol client (HTTP range requests, sharded
// index formats, Draco decoding) is explicitly out of scope per spec.md
// §1; these sources simulate the shape of that work instead of
// implementing it for real.
package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/fastrand"
	"gitlab.com/NebulousLabs/ratelimit"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// HTTPSource simulates a remote-protocol datasource (spec.md §6.1): fetching
// one chunk costs a ratelimit-throttled number of bytes and a jittered
// latency, then either succeeds with decoded bytes sized by ChunkSizer or
// fails with a transport error. Grounded on skyfileDataSource's
// context+cancellation-aware fetch shape in skyfiledatasource.go.
type HTTPSource struct {
	staticLevel     int
	staticLimiter   *ratelimit.RateLimit
	staticChunkSize uint64
	staticGPUSize   uint64
	staticLatency   time.Duration
	staticJitter    time.Duration
	staticFailRate  uint64 // out of 1000, see shouldFail

	atomicClosed uint64
	stopChan     chan struct{}
}

// NewHTTPSource constructs an HTTPSource at the given source-queue-level
// (spec.md §4.3), throttled to maxBytesPerSecond, simulating chunks of
// chunkSize worker-memory bytes (and gpuSize GPU-memory bytes once
// promoted), a base fetch latency plus up to jitter of random skew, and a
// failRatePerMille chance (0-1000) of the simulated fetch failing.
func NewHTTPSource(level int, maxBytesPerSecond, chunkSize, gpuSize uint64, latency, jitter time.Duration, failRatePerMille uint64) *HTTPSource {
	return &HTTPSource{
		staticLevel:     level,
		staticLimiter:   ratelimit.NewRateLimit(int64(maxBytesPerSecond), int64(maxBytesPerSecond), 0),
		staticChunkSize: chunkSize,
		staticGPUSize:   gpuSize,
		staticLatency:   latency,
		staticJitter:    jitter,
		staticFailRate:  failRatePerMille,
		stopChan:        make(chan struct{}),
	}
}

// Level implements chunkmodules.ChunkSource.
func (hs *HTTPSource) Level() int { return hs.staticLevel }

// Close marks the source closed; in-flight Downloads already past their
// ratelimit wait are allowed to finish, matching SilentClose's
// "cancel the context, let in-flight work observe it" discipline in
// skyfiledatasource.go.
func (hs *HTTPSource) Close() {
	if atomic.CompareAndSwapUint64(&hs.atomicClosed, 0, 1) {
		close(hs.stopChan)
	}
}

func (hs *HTTPSource) closed() bool {
	return atomic.LoadUint64(&hs.atomicClosed) == 1
}

// Download implements chunkmodules.ChunkSource: it waits out a simulated
// jittered network latency (abortable via cancel/ctx), throttles the
// simulated transfer through staticLimiter, and reports a DownloadResult
// sized per the source's configured chunk/GPU byte counts.
func (hs *HTTPSource) Download(ctx context.Context, handle cm.DownloadHandle, cancel cm.CancellationToken) (cm.DownloadResult, error) {
	if hs.closed() {
		return cm.DownloadResult{}, errors.New("datasource is closed")
	}

	delay := hs.staticLatency
	if hs.staticJitter > 0 {
		delay += time.Duration(fastrand.Intn(int(hs.staticJitter)))
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return cm.DownloadResult{}, ctx.Err()
	case <-cancel.Done():
		return cm.DownloadResult{}, errors.New("download cancelled during simulated latency")
	}

	if hs.shouldFail() {
		return cm.DownloadResult{}, fmt.Errorf("simulated transport error fetching chunk %x", handle.ChunkID[:4])
	}

	raw := make([]byte, hs.staticChunkSize)
	fastrand.Read(raw)
	limited := ratelimit.NewRLReadWriter(readWriter{bytes.NewReader(raw)}, hs.staticLimiter, hs.stopChan)

	buf := make([]byte, hs.staticChunkSize)
	n, err := io.ReadFull(limited, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return cm.DownloadResult{}, errors.AddContext(err, "rate-limited read failed")
	}

	return cm.DownloadResult{
		SystemMemoryBytes: uint64(n),
		GPUMemoryBytes:    hs.staticGPUSize,
		Payload:           buf[:n],
	}, nil
}

// readWriter adapts a plain io.Reader (a bytes.Reader over the simulated
// chunk payload) to the io.ReadWriter NewRLReadWriter requires; Write is
// never called on a download-only source.
type readWriter struct {
	*bytes.Reader
}

func (readWriter) Write(p []byte) (int, error) {
	return 0, errors.New("httpsource is read-only")
}

// shouldFail rolls the configured simulated failure rate.
func (hs *HTTPSource) shouldFail() bool {
	if hs.staticFailRate == 0 {
		return false
	}
	return fastrand.Intn(1000) < int(hs.staticFailRate)
}
