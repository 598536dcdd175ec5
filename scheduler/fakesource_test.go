package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"gitlab.com/NebulousLabs/log"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// fakeSource is a deterministic, manually-resolved ChunkSource for tests:
// Download blocks until the test calls resolve or fail for that chunk's id,
// giving tests full control over when a DOWNLOADING chunk completes (spec.md
// §8's scenarios all depend on observing intermediate ticks).
type fakeSource struct {
	level int

	mu      sync.Mutex
	waiting map[cm.ChunkID]chan fakeResult
}

type fakeResult struct {
	sysBytes, gpuBytes uint64
	err                error
}

func newFakeSource(level int) *fakeSource {
	return &fakeSource{level: level, waiting: make(map[cm.ChunkID]chan fakeResult)}
}

func (f *fakeSource) Level() int { return f.level }

func (f *fakeSource) Download(ctx context.Context, handle cm.DownloadHandle, cancel cm.CancellationToken) (cm.DownloadResult, error) {
	ch := make(chan fakeResult, 1)
	f.mu.Lock()
	f.waiting[handle.ChunkID] = ch
	f.mu.Unlock()
	select {
	case r := <-ch:
		if r.err != nil {
			return cm.DownloadResult{}, r.err
		}
		return cm.DownloadResult{
			SystemMemoryBytes: r.sysBytes,
			GPUMemoryBytes:    r.gpuBytes,
			Payload:           make([]byte, r.sysBytes),
		}, nil
	case <-cancel.Done():
		return cm.DownloadResult{}, cm.ErrCancelled
	case <-ctx.Done():
		return cm.DownloadResult{}, ctx.Err()
	}
}

// takeWaiter removes and returns the channel a Download call for id is
// blocked on, waiting up to five seconds for that call's goroutine to
// register it.
func (f *fakeSource) takeWaiter(id cm.ChunkID) (chan fakeResult, bool) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		f.mu.Lock()
		ch, ok := f.waiting[id]
		delete(f.waiting, id)
		f.mu.Unlock()
		if ok || time.Now().After(deadline) {
			return ch, ok
		}
		time.Sleep(time.Millisecond)
	}
}

// resolve unblocks a pending Download call for id with a successful result.
func (f *fakeSource) resolve(id cm.ChunkID, sysBytes, gpuBytes uint64) {
	ch, ok := f.takeWaiter(id)
	if !ok {
		return
	}
	ch <- fakeResult{sysBytes: sysBytes, gpuBytes: gpuBytes}
}

// fail unblocks a pending Download call for id with err.
func (f *fakeSource) fail(id cm.ChunkID, err error) {
	ch, ok := f.takeWaiter(id)
	if !ok {
		return
	}
	ch <- fakeResult{err: err}
}

func (f *fakeSource) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiting)
}

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	l, err := log.NewLogger(io.Discard)
	if err != nil {
		t.Fatalf("failed to construct test logger: %v", err)
	}
	return l
}

// drainCompletion waits for exactly one download completion to arrive on
// qm.completions and processes it synchronously on the calling goroutine,
// mirroring what qm.Run's select loop would otherwise do. Tests call this
// instead of running qm.Run in the background so every tick's effects are
// observed deterministically.
func drainCompletion(t *testing.T, qm *QueueManager) {
	t.Helper()
	select {
	case comp := <-qm.completions:
		qm.handleDownloadCompletion(comp)
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a pending download completion, found none")
	}
}

func defaultBudgets() Budgets {
	return Budgets{
		GPUItemLimit: 2, GPUSizeLimit: 200,
		SystemItemLimit: 4, SystemSizeLimit: 400,
		DownloadItemLimit: 2, DownloadSizeLimit: 1 << 30,
		ComputeItemLimit: 2, ComputeSizeLimit: 1 << 30,
	}
}
