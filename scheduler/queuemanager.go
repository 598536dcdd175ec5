package scheduler

import (
	"context"
	"time"

	"gitlab.com/NebulousLabs/log"
	"gitlab.com/NebulousLabs/threadgroup"

	"gitlab.com/skynetlabs/voxelsched/build"
	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
)

// QueueManager is component E: it owns every capacity counter and every
// state queue of spec.md §4.4, and runs the two-pass promote/evict
// algorithm of §4.3 on its own schedule. It is the worker-context half of
// the scheduler; it never blocks, and nothing mutates a Chunk except code
// running on QueueManager's own tick goroutine (spec.md §5).
type QueueManager struct {
	staticLog *log.Logger
	tg        threadgroup.ThreadGroup

	sources map[cm.SourceID]*Source
	budgets Budgets

	gpuCapacity          *Capacity
	systemMemoryCapacity *Capacity
	downloadCapByLvl     map[int]*Capacity
	computeCapacity      *Capacity

	gpuPromotion  *PriorityQueue
	gpuEviction   *PriorityQueue
	systemMemEvic *PriorityQueue

	downloadPromotionByLvl map[int]*PriorityQueue
	downloadEvictionByLvl  map[int]*PriorityQueue

	computePromotion *PriorityQueue
	computeEviction  *PriorityQueue

	updateCh    chan struct{}
	completions chan downloadCompletion

	onMainUpdate func(cm.ChunkUpdate)

	epoch *Epoch
}

// Budgets collects the four named capacity limits of spec.md §3/§4.3. The
// GPU, system and download limits can be changed at runtime via
// SetGPULimits, SetSystemLimits and SetDownloadLimits; the compute limits
// are fixed once the QueueManager is constructed.
type Budgets struct {
	GPUItemLimit, GPUSizeLimit           int64
	SystemItemLimit, SystemSizeLimit     int64
	DownloadItemLimit, DownloadSizeLimit int64
	ComputeItemLimit, ComputeSizeLimit   int64
}

// defaultBudgetsByRelease is the per-Release fallback used by
// DefaultBudgets: the testing release keeps every limit small so
// capacity-exhaustion paths are easy to hit deliberately in unit tests.
var defaultBudgetsByRelease = build.Var{
	Standard: Budgets{
		GPUItemLimit: 256, GPUSizeLimit: 64 << 20,
		SystemItemLimit: 1024, SystemSizeLimit: 256 << 20,
		DownloadItemLimit: 8, DownloadSizeLimit: 1 << 30,
		ComputeItemLimit: 4, ComputeSizeLimit: 1 << 30,
	},
	Dev: Budgets{
		GPUItemLimit: 256, GPUSizeLimit: 64 << 20,
		SystemItemLimit: 1024, SystemSizeLimit: 256 << 20,
		DownloadItemLimit: 8, DownloadSizeLimit: 1 << 30,
		ComputeItemLimit: 4, ComputeSizeLimit: 1 << 30,
	},
	Testing: Budgets{
		GPUItemLimit: 2, GPUSizeLimit: 200,
		SystemItemLimit: 4, SystemSizeLimit: 400,
		DownloadItemLimit: 2, DownloadSizeLimit: 1 << 30,
		ComputeItemLimit: 2, ComputeSizeLimit: 1 << 30,
	},
}

// DefaultBudgets returns the capacity limits for the active build.Release,
// a starting point callers can override field-by-field.
func DefaultBudgets() Budgets {
	return build.Select(defaultBudgetsByRelease).(Budgets)
}

// NewQueueManager constructs a QueueManager with the given budgets. The
// download capacity limits apply independently to every source-queue-level
// (spec.md §4.3 "Source-queue-levels"); per-level capacities and queues are
// created lazily as sources at new levels register chunks.
func NewQueueManager(budgets Budgets, logger *log.Logger) *QueueManager {
	return &QueueManager{
		staticLog:              logger,
		sources:                make(map[cm.SourceID]*Source),
		budgets:                budgets,
		gpuCapacity:            NewCapacity("gpu", budgets.GPUItemLimit, budgets.GPUSizeLimit),
		systemMemoryCapacity:   NewCapacity("system", budgets.SystemItemLimit, budgets.SystemSizeLimit),
		downloadCapByLvl:       make(map[int]*Capacity),
		computeCapacity:        NewCapacity("compute", budgets.ComputeItemLimit, budgets.ComputeSizeLimit),
		gpuPromotion:           NewPriorityQueue("gpu_memory_promotion_queue", 1, Promotion),
		gpuEviction:            NewPriorityQueue("gpu_memory_eviction_queue", 1, Eviction),
		systemMemEvic:          NewPriorityQueue("system_memory_eviction_queue", 0, Eviction),
		downloadPromotionByLvl: make(map[int]*PriorityQueue),
		downloadEvictionByLvl:  make(map[int]*PriorityQueue),
		computePromotion:       NewPriorityQueue("queued_compute_promotion_queue", 1, Promotion),
		computeEviction:        NewPriorityQueue("compute_eviction_queue", 1, Eviction),
		updateCh:               make(chan struct{}, 1),
		completions:            make(chan downloadCompletion, 64),
		epoch:                  NewEpoch(),
	}
}

// OnMainUpdate registers the callback invoked whenever the worker context
// needs to mirror a state change to the main context (spec.md §6.3). In a
// single-process deployment this is usually wired directly to a
// ChunkManager method; across processes it is wired to a transport.Send.
func (qm *QueueManager) OnMainUpdate(fn func(cm.ChunkUpdate)) {
	qm.onMainUpdate = fn
}

func (qm *QueueManager) sendMainUpdate(upd cm.ChunkUpdate) {
	if qm.onMainUpdate != nil {
		qm.onMainUpdate(upd)
	}
}

// Source looks up a previously registered source by id.
func (qm *QueueManager) Source(id cm.SourceID) (*Source, bool) {
	s, ok := qm.sources[id]
	return s, ok
}

// Sources returns a snapshot slice of every source currently registered,
// for debug/introspection routes (api package) that need to enumerate
// sources rather than look one up by id.
func (qm *QueueManager) Sources() []*Source {
	out := make([]*Source, 0, len(qm.sources))
	for _, s := range qm.sources {
		out = append(out, s)
	}
	return out
}

// Epoch returns the frame-generation counter shared with ChunkManager.
func (qm *QueueManager) Epoch() *Epoch {
	return qm.epoch
}

// SetGPULimits resizes the GPU capacity at runtime (spec.md §3: "the
// renderer may resize memory budgets at runtime, triggering a fresh
// scheduler tick"). A tick is scheduled immediately whenever either limit
// tightens, so eviction catches up with the new budget rather than waiting
// for the next naturally-occurring update.
func (qm *QueueManager) SetGPULimits(itemLimit, sizeLimit int64) {
	if qm.gpuCapacity.SetLimits(itemLimit, sizeLimit) {
		qm.ScheduleUpdate()
	}
}

// SetSystemLimits resizes the worker-memory capacity at runtime, the same
// way SetGPULimits does for GPU memory.
func (qm *QueueManager) SetSystemLimits(itemLimit, sizeLimit int64) {
	if qm.systemMemoryCapacity.SetLimits(itemLimit, sizeLimit) {
		qm.ScheduleUpdate()
	}
}

// SetDownloadLimits resizes the download-slot capacity for one
// source-queue-level at runtime, creating it lazily (mirroring
// downloadCapacity) if no source at that level has registered a chunk yet.
func (qm *QueueManager) SetDownloadLimits(level int, itemLimit, sizeLimit int64) {
	if qm.downloadCapacity(level).SetLimits(itemLimit, sizeLimit) {
		qm.ScheduleUpdate()
	}
}

// destroyChunk retires a QUEUED, RECENT-tier, unrequested chunk entirely:
// it is already a member of no capacity-charging dimension, so there is
// nothing to release beyond its queue slot; the struct is returned to its
// source's free-list for reuse (spec.md §3 lifecycle step 7, the
// QUEUED -> destroyed path).
func (qm *QueueManager) destroyChunk(c *Chunk) {
	for _, q := range qm.queuesFor(c) {
		q.Delete(c)
	}
	c.source.stats.adjust(c.state, c.tier, 0, -1)
	source := c.source
	c.state = cm.StateExpired
	source.free(c)
}

func (qm *QueueManager) downloadPromotionQueue(level int) *PriorityQueue {
	q, ok := qm.downloadPromotionByLvl[level]
	if !ok {
		q = NewPriorityQueue("queued_download_promotion_queue", 1, Promotion)
		qm.downloadPromotionByLvl[level] = q
	}
	return q
}

func (qm *QueueManager) downloadEvictionQueue(level int) *PriorityQueue {
	q, ok := qm.downloadEvictionByLvl[level]
	if !ok {
		q = NewPriorityQueue("download_eviction_queue", 1, Eviction)
		qm.downloadEvictionByLvl[level] = q
	}
	return q
}

func (qm *QueueManager) downloadCapacity(level int) *Capacity {
	c, ok := qm.downloadCapByLvl[level]
	if !ok {
		c = NewCapacity("download", qm.budgets.DownloadItemLimit, qm.budgets.DownloadSizeLimit)
		qm.downloadCapByLvl[level] = c
	}
	return c
}

// ScheduleUpdate requests a scheduler tick. Redundant calls within a single
// pending tick collapse into one (spec.md §5 "Update coalescing"), via a
// single-slot buffered channel: a full channel means a tick is already
// queued, so the send is simply dropped.
func (qm *QueueManager) ScheduleUpdate() {
	select {
	case qm.updateCh <- struct{}{}:
	default:
	}
}

// Run drains update ticks and download completions until Close is called.
// It must run on a single goroutine: nothing else may mutate a Chunk,
// Source, or Capacity this QueueManager owns.
func (qm *QueueManager) Run() {
	if err := qm.tg.Add(); err != nil {
		return
	}
	defer qm.tg.Done()
	for {
		select {
		case <-qm.tg.StopChan():
			return
		case comp := <-qm.completions:
			qm.handleDownloadCompletion(comp)
		case <-qm.updateCh:
			qm.Process()
		}
	}
}

// Close stops Run and waits for it to return.
func (qm *QueueManager) Close() error {
	return qm.tg.Stop()
}

// Process runs one scheduler tick: the GPU promotion pass, then the
// download/compute promotion pass, in that order (spec.md §5 ordering
// guarantee — this avoids a newly-QUEUED chunk being promoted all the way
// to DOWNLOADING and immediately needing GPU room with none freed yet from
// chunks already resident in SYSTEM_MEMORY).
func (qm *QueueManager) Process() {
	qm.runGPUPromotion()
	qm.runDownloadAndComputePromotion()
}

// queuesFor returns every queue c currently belongs to, given its state and
// flags, per spec.md §4.4's table. Three states belong to two queues at
// once: DOWNLOADING (non-computational) is a member of both its level's
// download eviction queue and the system-memory eviction queue; GPU_MEMORY
// is a member of both the GPU eviction queue and the system-memory eviction
// queue (freeing a GPU-resident chunk for system-memory pressure means
// freeing the GPU copy first); SYSTEM_MEMORY is a member of both the
// system-memory eviction queue (link index 0) and the GPU promotion queue
// (link index 1, skipped for BackendOnly chunks, which are never uploaded).
// This is why Chunk carries two independent link sets (spec.md §3, §9).
func (qm *QueueManager) queuesFor(c *Chunk) []*PriorityQueue {
	switch c.state {
	case cm.StateQueued:
		if c.flags.Computational {
			return []*PriorityQueue{qm.computePromotion}
		}
		return []*PriorityQueue{qm.downloadPromotionQueue(c.source.level)}
	case cm.StateDownloading:
		if c.flags.Computational {
			return []*PriorityQueue{qm.computeEviction}
		}
		return []*PriorityQueue{qm.downloadEvictionQueue(c.source.level), qm.systemMemEvic}
	case cm.StateSystemMemoryWorker:
		return []*PriorityQueue{qm.systemMemEvic}
	case cm.StateSystemMemory:
		if c.flags.BackendOnly {
			return []*PriorityQueue{qm.systemMemEvic}
		}
		return []*PriorityQueue{qm.systemMemEvic, qm.gpuPromotion}
	case cm.StateGPUMemory:
		return []*PriorityQueue{qm.systemMemEvic, qm.gpuEviction}
	default:
		return nil
	}
}

// adjustCapacity applies the capacity cost of state to every dimension it
// occupies, scaled by sign (+1 to charge, -1 to release). StateQueued
// intentionally charges nothing: spec.md §3 says capacity is charged on
// NEW -> QUEUED, but §4.4 never lists QUEUED in any eviction queue, which
// would make that capacity permanently unfreeable. QUEUED is read here as
// "reserved a place in line," with the actual charge landing on the first
// state that also carries an eviction path: DOWNLOADING.
func (qm *QueueManager) adjustCapacity(c *Chunk, state cm.State, sign int64) {
	switch state {
	case cm.StateDownloading:
		if c.flags.Computational {
			qm.computeCapacity.Adjust(sign, sign)
			return
		}
		// The byte dimension of download capacity stays at 0 until the
		// download completes, at which point the chunk has already left
		// this capacity for system_memory_capacity entirely (spec.md §9);
		// only the slot-cost item dimension bounds concurrency here.
		qm.downloadCapacity(c.source.level).Adjust(sign*int64(c.downloadSlotCost), 0)
		// Worker memory is double-accounted (spec.md §5): a chunk reserves
		// its system-memory item slot from the moment DOWNLOADING begins,
		// not only once the bytes land in SYSTEM_MEMORY_WORKER. The byte
		// dimension still can't be charged here — the size isn't known
		// until the download completes.
		qm.systemMemoryCapacity.Adjust(sign, 0)
	case cm.StateSystemMemoryWorker, cm.StateSystemMemory:
		qm.systemMemoryCapacity.Adjust(sign, sign*int64(c.systemMemoryBytes))
	case cm.StateGPUMemory:
		// GPU residency doesn't free the worker-memory copy underneath it
		// (eviction from the GPU demotes back to SYSTEM_MEMORY, not further).
		qm.gpuCapacity.Adjust(sign, sign*int64(c.gpuMemoryBytes))
		qm.systemMemoryCapacity.Adjust(sign, sign*int64(c.systemMemoryBytes))
	}
}

func statBytes(c *Chunk, state cm.State) int64 {
	switch state {
	case cm.StateSystemMemoryWorker, cm.StateSystemMemory:
		return int64(c.systemMemoryBytes)
	case cm.StateGPUMemory:
		return int64(c.gpuMemoryBytes)
	default:
		return 0
	}
}

// transition is the single bracketed call site for every Chunk state
// change (Invariant I2): it unlinks c from its old state's queues, releases
// the old state's capacity, flips c.state, then relinks and recharges for
// the new state. No other code may assign to Chunk.state.
func (qm *QueueManager) transition(c *Chunk, newState cm.State) {
	old := c.state
	for _, q := range qm.queuesFor(c) {
		q.Delete(c)
	}
	qm.adjustCapacity(c, old, -1)
	if old != cm.StateNew {
		// NEW chunks are never counted in the source stats.
		c.source.stats.adjust(old, c.tier, statBytes(c, old), -1)
	}

	c.state = newState

	for _, q := range qm.queuesFor(c) {
		q.Insert(c)
	}
	qm.adjustCapacity(c, newState, 1)
	c.source.stats.adjust(newState, c.tier, statBytes(c, newState), 1)

	qm.staticLog.Debugln("chunk transition", c.ID, old, "->", newState)
}

// retier moves c to a new (tier, priority), re-threading it through every
// queue it currently belongs to (its heap position depends on both). Used
// by the priority-recomputation pass (spec.md §4.5); c's state does not
// change.
func (qm *QueueManager) retier(c *Chunk, newTier cm.Tier, newPriority float64) {
	qs := qm.queuesFor(c)
	for _, q := range qs {
		q.Delete(c)
	}
	c.source.stats.adjust(c.state, c.tier, statBytes(c, c.state), -1)
	c.tier = newTier
	c.priority = newPriority
	c.source.stats.adjust(c.state, c.tier, statBytes(c, c.state), 1)
	for _, q := range qs {
		q.Insert(c)
	}
}

// TryToFreeCapacity is the central primitive of spec.md §4.3: it evicts
// candidates from it, in priority order, only as long as each one is
// strictly outranked by (promoTier, promoPriority) on (tier, priority). It
// returns false, without having made room, the moment a candidate outranks
// the promotion (or candidates are exhausted).
func TryToFreeCapacity(cap *Capacity, size int64, promoTier cm.Tier, promoPriority float64, it Iterator, evict func(*Chunk)) bool {
	for cap.AvailableItems() < 1 || cap.AvailableSize() < size {
		cand := it.Next()
		if cand == nil {
			return false
		}
		if !promotionOutranks(cand.tier, cand.priority, promoTier, promoPriority) {
			return false
		}
		evict(cand)
	}
	return true
}

// promotionOutranks reports whether a promotion candidate at
// (promoTier, promoPriority) outranks an eviction candidate at
// (candTier, candPriority) strongly enough that evicting the candidate is
// allowed.
func promotionOutranks(candTier cm.Tier, candPriority float64, promoTier cm.Tier, promoPriority float64) bool {
	if candTier < promoTier {
		return false
	}
	if candTier == promoTier && candPriority >= promoPriority {
		return false
	}
	return true
}

// runGPUPromotion is the GPU promotion pass of spec.md §4.3.
func (qm *QueueManager) runGPUPromotion() {
	it := qm.gpuPromotion.Candidates()
	for {
		c := it.Next()
		if c == nil {
			return
		}
		ok := TryToFreeCapacity(qm.gpuCapacity, int64(c.gpuMemoryBytes), c.tier, c.priority, qm.gpuEviction.Candidates(), qm.evictGPU)
		if !ok {
			return
		}
		qm.copyChunkToGPU(c)
	}
}

// evictGPU demotes a GPU-resident chunk back to SYSTEM_MEMORY, freeing its
// GPU bytes, and notifies the main context to release the GPU resource. The
// worker-memory copy is left in place, so no re-download is needed if the
// chunk is promoted again later.
func (qm *QueueManager) evictGPU(c *Chunk) {
	qm.transition(c, cm.StateSystemMemory)
	qm.sendMainUpdate(cm.ChunkUpdate{SourceID: c.source.id, ChunkID: c.ID, Kind: cm.UpdateSystemMemory})
}

// copyChunkToGPU sends the chunk to the main context, attaching the decoded
// buffer the first time the chunk's downloaded bytes are handed over, then
// transitions it to GPU_MEMORY.
func (qm *QueueManager) copyChunkToGPU(c *Chunk) {
	upd := cm.ChunkUpdate{SourceID: c.source.id, ChunkID: c.ID, Kind: cm.UpdateGPUMemory}
	if c.payload != nil {
		upd.Buffer = c.payload
		c.payload = nil
	}
	qm.sendMainUpdate(upd)
	qm.transition(c, cm.StateGPUMemory)
}

// runDownloadAndComputePromotion is the download/compute promotion pass of
// spec.md §4.3: one independent pass per source-queue-level, then the
// compute queue.
func (qm *QueueManager) runDownloadAndComputePromotion() {
	for level, q := range qm.downloadPromotionByLvl {
		qm.promoteDownloadLevel(level, q)
	}
	qm.promoteCompute()
}

func (qm *QueueManager) promoteDownloadLevel(level int, promo *PriorityQueue) {
	evic := qm.downloadEvictionQueue(level)
	slotCap := qm.downloadCapacity(level)
	it := promo.Candidates()
	for {
		c := it.Next()
		if c == nil {
			return
		}
		okSlot := TryToFreeCapacity(slotCap, 0, c.tier, c.priority, evic.Candidates(), qm.evictForCapacity)
		if !okSlot {
			return
		}
		okMem := TryToFreeCapacity(qm.systemMemoryCapacity, int64(c.systemMemoryBytes), c.tier, c.priority, qm.systemMemEvic.Candidates(), qm.evictForCapacity)
		if !okMem {
			return
		}
		qm.startDownload(c)
	}
}

// promoteCompute mirrors promoteDownloadLevel for computational chunks, but
// per §9's preserved source behavior, only checks compute_capacity — it
// does not also charge system_memory_capacity the way the download path
// does. See DESIGN.md's Open Question resolution.
func (qm *QueueManager) promoteCompute() {
	it := qm.computePromotion.Candidates()
	for {
		c := it.Next()
		if c == nil {
			return
		}
		ok := TryToFreeCapacity(qm.computeCapacity, 1, c.tier, c.priority, qm.computeEviction.Candidates(), qm.evictForCapacity)
		if !ok {
			return
		}
		qm.startDownload(c)
	}
}

// evictForCapacity is the generic eviction callback used by both the
// download and compute promotion passes. Every candidate it's handed comes
// from either a download/compute eviction queue (DOWNLOADING chunks) or the
// system-memory eviction queue (DOWNLOADING, SYSTEM_MEMORY/_WORKER and
// GPU_MEMORY chunks). Each is demoted back to QUEUED rather than destroyed,
// releasing its capacity; a later re-promotion from QUEUED always starts a
// fresh download.
func (qm *QueueManager) evictForCapacity(c *Chunk) {
	switch c.state {
	case cm.StateDownloading:
		if c.cancel != nil {
			c.cancel.Cancel()
		}
		c.cancel = nil
		qm.transition(c, cm.StateQueued)
	case cm.StateSystemMemory, cm.StateSystemMemoryWorker:
		qm.transition(c, cm.StateQueued)
	case cm.StateGPUMemory:
		// Freeing system-memory capacity by evicting a GPU-resident chunk
		// means freeing the GPU first, then the worker copy underneath it
		// (spec.md §4.3 "free GPU then free worker mem"), mirroring
		// Source.Invalidate's GPU_MEMORY handling.
		qm.transition(c, cm.StateSystemMemory)
		qm.transition(c, cm.StateQueued)
	default:
		build.Critical("evictForCapacity called on chunk in unexpected state", c.state)
	}
}

// downloadCompletion is how a worker-context download goroutine reports its
// result back onto QueueManager's single tick goroutine (spec.md §5
// "Cooperative async": the executor never re-enters the scheduler
// mid-mutation).
type downloadCompletion struct {
	chunk     *Chunk
	token     cm.CancellationToken
	result    cm.DownloadResult
	err       error
	startedAt time.Time
}

// startDownload grants a download (or compute) slot to c, transitions it to
// DOWNLOADING, and launches the actual fetch on its own goroutine, whose
// result is funneled back through qm.completions.
func (qm *QueueManager) startDownload(c *Chunk) {
	token := cm.NewCancellationToken()
	c.cancel = token
	qm.transition(c, cm.StateDownloading)

	ctx, cancelCtx := context.WithCancel(context.Background())
	source := c.source
	handle := cm.DownloadHandle{SourceID: source.id, ChunkID: c.ID, Key: c.Key}

	startedAt := time.Now()
	go func() {
		<-token.Done()
		cancelCtx()
	}()
	go func() {
		defer cancelCtx()
		result, err := source.chunkSource.Download(ctx, handle, token)
		select {
		case qm.completions <- downloadCompletion{chunk: c, token: token, result: result, err: err, startedAt: startedAt}:
		case <-qm.tg.StopChan():
		}
	}()
}

// handleDownloadCompletion runs on QueueManager's tick goroutine. A
// completion whose token no longer matches the chunk's live token is a
// cancelled/superseded download (spec.md §4.6, Property P7) and is
// discarded silently.
func (qm *QueueManager) handleDownloadCompletion(comp downloadCompletion) {
	c := comp.chunk
	if c.cancel != comp.token {
		return
	}
	c.cancel = nil
	c.source.latency.Record(time.Since(comp.startedAt))
	if comp.err != nil {
		c.err = comp.err
		qm.transition(c, cm.StateFailed)
		return
	}
	c.systemMemoryBytes = comp.result.SystemMemoryBytes
	c.gpuMemoryBytes = comp.result.GPUMemoryBytes
	c.payload = comp.result.Payload
	qm.finishDownload(c)
}

// finishDownload runs the two remaining lifecycle transitions of a
// successful download: DOWNLOADING -> SYSTEM_MEMORY_WORKER (decode done),
// then the worker->main handoff to SYSTEM_MEMORY, notifying the main
// context in between (spec.md §3 lifecycle steps 4-5). The byte fields are
// filled in by the caller before this runs; the DOWNLOADING release stays
// balanced because adjustCapacity's DOWNLOADING case never charges bytes.
func (qm *QueueManager) finishDownload(c *Chunk) {
	qm.transition(c, cm.StateSystemMemoryWorker)
	qm.sendMainUpdate(cm.ChunkUpdate{SourceID: c.source.id, ChunkID: c.ID, Kind: cm.UpdateSystemMemory})
	qm.transition(c, cm.StateSystemMemory)
}
