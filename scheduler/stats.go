package scheduler

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"gitlab.com/NebulousLabs/log"
	"gitlab.com/NebulousLabs/threadgroup"

	"gitlab.com/skynetlabs/voxelsched/build"
	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// LayerCounters are the four per-layer progress counters of spec.md §6.5:
// how many chunks this layer currently needs at each tier, and how many of
// those have actually reached the GPU.
type LayerCounters struct {
	VisibleChunksNeeded, VisibleChunksAvailable   int64
	PrefetchChunksNeeded, PrefetchChunksAvailable int64
}

// Layer is one render layer's progress-tracking handle. It is deliberately
// separate from the layer-type plumbing spec.md §1 puts out of scope: this
// struct only carries what the scheduler itself needs to report (needed,
// available), grounded on callStatus/WorkerPoolStatus in workerpool.go
// ("collect per-worker status into one aggregate struct on demand").
type Layer struct {
	name string

	mu       sync.Mutex
	counters LayerCounters
	dirty    bool
}

// NewLayer returns a fresh, zeroed Layer handle identified by name (for log
// lines and debug routes only; not used as a lookup key by the scheduler).
func NewLayer(name string) *Layer {
	return &Layer{name: name}
}

// Name returns the layer's display name.
func (l *Layer) Name() string { return l.name }

// Counters returns a snapshot of the layer's current progress counters.
func (l *Layer) Counters() LayerCounters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}

func (l *Layer) beginFrame() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters.VisibleChunksNeeded = 0
	l.counters.PrefetchChunksNeeded = 0
}

func (l *Layer) noteNeeded(tier cm.Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch tier {
	case cm.TierVisible:
		l.counters.VisibleChunksNeeded++
	case cm.TierPrefetch:
		l.counters.PrefetchChunksNeeded++
	}
	l.dirty = true
}

func (l *Layer) setAvailable(visible, prefetch int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counters.VisibleChunksAvailable != visible || l.counters.PrefetchChunksAvailable != prefetch {
		l.dirty = true
	}
	l.counters.VisibleChunksAvailable = visible
	l.counters.PrefetchChunksAvailable = prefetch
}

func (l *Layer) takeDirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.dirty
	l.dirty = false
	return d
}

// LatencyTracker keeps a bounded ring of recent per-chunk download
// latencies for one source and reports rolling mean/stddev, surfaced through
// the api package's /sources/:id/stats route; the per-layer progress
// counters do not use it. The teacher pulls in no statistics library because it has no
// analogous rolling-latency need; this is new domain surface the
// expansion adds using the retrieval pack's stats library.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64
	cap     int
	next    int
	full    bool
}

// NewLatencyTracker returns a tracker holding at most capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity < 1 {
		capacity = 1
	}
	return &LatencyTracker{samples: make([]float64, capacity), cap: capacity}
}

// Record adds one latency sample, evicting the oldest once the ring is full.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.samples[lt.next] = float64(d.Microseconds())
	lt.next = (lt.next + 1) % lt.cap
	if lt.next == 0 {
		lt.full = true
	}
}

// MeanStdDev returns the mean and population standard deviation, in
// microseconds, of every recorded sample currently in the ring. Returns
// (0, 0, nil) if no samples have been recorded yet.
func (lt *LatencyTracker) MeanStdDev() (mean, stddev float64, err error) {
	lt.mu.Lock()
	n := lt.cap
	if !lt.full {
		n = lt.next
	}
	data := append([]float64(nil), lt.samples[:n]...)
	lt.mu.Unlock()

	if len(data) == 0 {
		return 0, 0, nil
	}
	mean, err = stats.Mean(data)
	if err != nil {
		return 0, 0, err
	}
	stddev, err = stats.StandardDeviation(data)
	if err != nil {
		return 0, 0, err
	}
	return mean, stddev, nil
}

// ProgressReporter is the throttled ~5Hz coalescer of spec.md §6.5
// ("reported out periodically"), grounded on the teacher's
// workerPoolUpdateTimeout-driven reset logic in downloadheap.go's
// threadedDownloadLoop: a ticker drains whichever layers changed since the
// last tick and emits one counters message per layer, never per chunk.
type ProgressReporter struct {
	staticLog *log.Logger
	interval  time.Duration
	mgr       *ChunkManager
	onReport  func(*Layer, LayerCounters)
	tg        threadgroup.ThreadGroup
}

// defaultReportInterval is the per-Release default tick interval used when
// NewProgressReporter is given interval <= 0: the testing release ticks
// much faster so tests observing OnReport don't sit through real time.
var defaultReportInterval = build.Var{
	Standard: 200 * time.Millisecond,
	Dev:      200 * time.Millisecond,
	Testing:  time.Millisecond,
}

// NewProgressReporter constructs a reporter ticking at interval (spec.md
// §6.5 suggests "≈5 Hz", i.e. 200ms) over mgr's registered layers. A
// non-positive interval falls back to defaultReportInterval for the active
// build.Release.
func NewProgressReporter(mgr *ChunkManager, interval time.Duration, logger *log.Logger) *ProgressReporter {
	if interval <= 0 {
		interval = build.Select(defaultReportInterval).(time.Duration)
	}
	return &ProgressReporter{staticLog: logger, interval: interval, mgr: mgr}
}

// OnReport registers the callback invoked once per tick for every layer
// whose counters changed since the previous tick.
func (pr *ProgressReporter) OnReport(fn func(*Layer, LayerCounters)) {
	pr.onReport = fn
}

// Run drains ticks until Close is called. Must run on its own goroutine.
func (pr *ProgressReporter) Run() {
	if err := pr.tg.Add(); err != nil {
		return
	}
	defer pr.tg.Done()
	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()
	for {
		select {
		case <-pr.tg.StopChan():
			return
		case <-ticker.C:
			pr.tick()
		}
	}
}

func (pr *ProgressReporter) tick() {
	if pr.onReport == nil {
		return
	}
	for layer := range pr.mgr.layers {
		if layer.takeDirty() {
			pr.onReport(layer, layer.Counters())
		}
	}
}

// Close stops Run and waits for it to return.
func (pr *ProgressReporter) Close() error {
	return pr.tg.Stop()
}
