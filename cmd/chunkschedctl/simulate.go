package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"gitlab.com/NebulousLabs/fastrand"
	"gitlab.com/NebulousLabs/log"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
	"gitlab.com/skynetlabs/voxelsched/datasource"
	"gitlab.com/skynetlabs/voxelsched/scheduler"
)

var (
	flagLayers        int
	flagFramesPerSec  int
	flagDuration      time.Duration
	flagGPUBytes      int64
	flagSystemBytes   int64
	flagDownloadSlots int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an in-memory scheduler simulation with live progress bars",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&flagLayers, "layers", 3, "number of simulated render layers")
	simulateCmd.Flags().IntVar(&flagFramesPerSec, "fps", 30, "simulated render frames per second")
	simulateCmd.Flags().DurationVar(&flagDuration, "duration", 10*time.Second, "how long to run the simulation")
	simulateCmd.Flags().Int64Var(&flagGPUBytes, "gpu-bytes", 64<<20, "GPU memory budget in bytes")
	simulateCmd.Flags().Int64Var(&flagSystemBytes, "system-bytes", 256<<20, "worker memory budget in bytes")
	simulateCmd.Flags().Int64Var(&flagDownloadSlots, "download-slots", 8, "concurrent download slots per source level")
}

// layerSim is one simulated render layer: a fixed working set of chunks it
// requests every frame at VISIBLE priority, plus a wider prefetch ring, per
// spec.md §2's "each call invokes request_chunk ... on the chunk manager."
type layerSim struct {
	layer             *scheduler.Layer
	source            *scheduler.Source
	visKeys, prefKeys [][]byte
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	logger, err := log.NewLogger(os.Stdout)
	if err != nil {
		return err
	}

	budgets := scheduler.Budgets{
		GPUItemLimit: 256, GPUSizeLimit: flagGPUBytes,
		SystemItemLimit: 1024, SystemSizeLimit: flagSystemBytes,
		DownloadItemLimit: flagDownloadSlots, DownloadSizeLimit: math.MaxInt64,
		ComputeItemLimit: 4, ComputeSizeLimit: math.MaxInt64,
	}
	qm := scheduler.NewQueueManager(budgets, logger)
	cmg := scheduler.NewChunkManager(qm, logger)
	qm.OnMainUpdate(func(cm.ChunkUpdate) {})

	sims := make([]*layerSim, 0, flagLayers)
	for i := 0; i < flagLayers; i++ {
		src := datasource.NewHTTPSource(0, 8<<20, 64<<10, 96<<10, 5*time.Millisecond, 20*time.Millisecond, 10)
		qmSource := qm.NewSource(cm.SourceID(i), src)
		layer := scheduler.NewLayer(fmt.Sprintf("layer-%d", i))
		cmg.RegisterLayer(layer)

		sim := &layerSim{layer: layer, source: qmSource}
		for k := 0; k < 32; k++ {
			sim.visKeys = append(sim.visKeys, randKey())
		}
		for k := 0; k < 128; k++ {
			sim.prefKeys = append(sim.prefKeys, randKey())
		}
		sims = append(sims, sim)
	}

	go qm.Run()
	defer qm.Close()

	reporter := scheduler.NewProgressReporter(cmg, 200*time.Millisecond, logger)
	go reporter.Run()
	defer reporter.Close()

	p := mpb.New(mpb.WithWidth(48))
	for _, sim := range sims {
		l := sim.layer
		p.AddBar(1,
			mpb.PrependDecorators(decor.Name(l.Name(), decor.WC{W: len(l.Name()) + 1})),
			mpb.AppendDecorators(decor.Any(func(decor.Statistics) string {
				c := l.Counters()
				return fmt.Sprintf("visible %d/%d  prefetch %d/%d",
					c.VisibleChunksAvailable, c.VisibleChunksNeeded,
					c.PrefetchChunksAvailable, c.PrefetchChunksNeeded)
			})),
		)
	}

	frameInterval := time.Second / time.Duration(flagFramesPerSec)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(flagDuration)
	for now := range ticker.C {
		if now.After(deadline) {
			break
		}
		runFrame(cmg, sims)
	}
	p.Wait()
	return nil
}

// runFrame issues one render-loop frame's worth of chunk requests across
// every simulated layer (spec.md §2 "Control flow per frame") and drives
// the two-phase priority recomputation.
func runFrame(cmg *scheduler.ChunkManager, sims []*layerSim) {
	cmg.BeginFrame()
	for _, sim := range sims {
		for i, key := range sim.visKeys {
			cmg.RequestChunk(sim.layer, sim.source, key, scheduler.ChunkFlags{RequestedToFrontend: true}, 1,
				cm.TierVisible, float64(len(sim.visKeys)-i))
		}
		for i, key := range sim.prefKeys {
			cmg.RequestChunk(sim.layer, sim.source, key, scheduler.ChunkFlags{RequestedToFrontend: true}, 1,
				cm.TierPrefetch, float64(len(sim.prefKeys)-i))
		}
	}
	cmg.UpdateQueueState([]cm.Tier{cm.TierVisible, cm.TierPrefetch})
}

func randKey() []byte {
	return fastrand.Bytes(16)
}
