// Package aggregator reconciles the GPU Probe, per-model Scrape Client, and
// Process-to-Model Resolver into one canonical Snapshot, and computes
// sliding-window statistics over repeated snapshots (spec.md §4.7).
package aggregator

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"blackbox/internal/logger"
	"blackbox/internal/metrics"
	"blackbox/internal/model"
	"blackbox/internal/probe"
	"blackbox/internal/registry"
	"blackbox/internal/resolver"
	"blackbox/internal/telemetry"
)

const (
	sampleInterval = 500 * time.Millisecond
	minWindow      = 1 * time.Second
	maxWindow      = 60 * time.Second
)

// Scraper fetches and parses one deployment's exposition-format metrics page.
// Satisfied by *scrape.Client in production.
type Scraper interface {
	Fetch(ctx context.Context, host string, port int) (model.ModelBlockData, error)
}

// Aggregator combines the three data sources into Snapshots.
type Aggregator struct {
	prober   probe.Prober
	scraper  Scraper
	registry *registry.Registry
	vllmHost string
	metrics  *metrics.Metrics
}

// New builds an Aggregator. vllmHost is the host Scrape fetches from
// (spec.md §6's VLLM_HOST, default "localhost"). m may be nil, in which case
// domain metrics are skipped (mirrors httpapi's metricsMiddleware nil-guard).
func New(prober probe.Prober, scraper Scraper, reg *registry.Registry, vllmHost string, m *metrics.Metrics) *Aggregator {
	return &Aggregator{prober: prober, scraper: scraper, registry: reg, vllmHost: vllmHost, metrics: m}
}

// Collect produces one canonical Snapshot (spec.md §4.7 single-shot path).
func (a *Aggregator) Collect(ctx context.Context) model.Snapshot {
	snap, _, _ := a.collect(ctx)
	return snap
}

// collect is Collect's implementation, additionally returning the
// request-running/waiting totals CollectAggregated needs for its windowed
// series — these have no place in the public Snapshot shape (spec.md §3).
func (a *Aggregator) collect(ctx context.Context) (snap model.Snapshot, runningTotal, waitingTotal uint64) {
	probeCtx, probeSpan := telemetry.StartSpan(ctx, "probe.query")
	total, used, _, err := a.prober.TotalDeviceMemory()
	if err != nil {
		telemetry.SetError(probeCtx, err)
		probeSpan.End()
		logger.WithComponent("aggregator").Warn("probe unavailable, reporting zero-valued snapshot", "error", err)
		return model.Snapshot{}, 0, 0
	}

	deployments := a.registry.List(ctx)

	blockData := a.scrapeAll(ctx, deployments)

	procs, err := a.prober.ComputeProcesses()
	if err != nil {
		telemetry.SetError(probeCtx, err)
		procs = nil
	}
	probeSpan.End()

	if a.metrics != nil {
		a.metrics.SetDeploymentsActive(len(deployments))
	}

	containerIDs := make([]string, 0, len(deployments))
	for _, d := range deployments {
		containerIDs = append(containerIDs, d.ContainerID)
	}

	perModelAllocated := make(map[string]uint64, len(deployments))
	for _, p := range procs {
		prefix, err := resolver.ContainerIDPrefix(p.PID)
		if err != nil || prefix == "" {
			continue
		}
		containerID, ok := resolver.Resolve(prefix, containerIDs)
		if !ok {
			continue
		}
		for _, d := range deployments {
			if d.ContainerID == containerID {
				perModelAllocated[d.ModelID] += p.UsedBytes
				break
			}
		}
	}

	entries := make([]model.PerModelEntry, 0, len(deployments))
	var matchedAllocated uint64
	var usedKVCacheSum uint64
	var hitRateSum float64
	var hitRateCount int

	for _, d := range deployments {
		bd, ok := blockData[d.ModelID]
		if !ok || !bd.Available {
			entries = append(entries, model.PerModelEntry{ModelID: d.ModelID, Port: d.Port})
			continue
		}

		blockSize := bd.BlockSizeBytes
		if allocated, ok := perModelAllocated[d.ModelID]; ok && bd.NumGPUBlocks > 0 {
			if derived := allocated / bd.NumGPUBlocks; derived > 0 {
				blockSize = derived
			}
		}
		if blockSize == 0 {
			blockSize = 16 * 1024
		}

		usedKV := uint64(math.Round(float64(bd.NumGPUBlocks) * float64(blockSize) * bd.KVCacheUsagePerc))
		allocated := perModelAllocated[d.ModelID]
		if usedKV > allocated {
			usedKV = allocated
		}

		usedKVCacheSum += usedKV
		matchedAllocated += allocated

		if bd.PrefixCacheHitRate > 0 {
			hitRateSum += bd.PrefixCacheHitRate
			hitRateCount++
		}

		runningTotal += bd.NumRequestsRunning
		waitingTotal += bd.NumRequestsWaiting

		entries = append(entries, model.PerModelEntry{
			ModelID:            d.ModelID,
			Port:               d.Port,
			AllocatedVRAMBytes: allocated,
			UsedKVCacheBytes:   usedKV,
		})
	}

	// Reconciliation: if matched allocation covers less than half of
	// device-used VRAM, distribute the unmatched remainder proportionally to
	// used-KV-cache bytes, or evenly if none report usage (spec.md §4.7 step 6).
	if len(entries) > 0 && float64(matchedAllocated) < float64(used)*0.5 {
		remainder := used - matchedAllocated
		distributeRemainder(entries, remainder)
	}

	var avgHitRate float64
	if hitRateCount > 0 {
		avgHitRate = hitRateSum / float64(hitRateCount)
	}

	var allocatedTotal uint64
	for _, e := range entries {
		allocatedTotal += e.AllocatedVRAMBytes
		if a.metrics != nil {
			a.metrics.SetModelUsage(e.ModelID, e.AllocatedVRAMBytes, e.UsedKVCacheBytes)
		}
	}

	return model.Snapshot{
		TotalVRAMBytes:     total,
		AllocatedVRAMBytes: allocatedTotal,
		UsedKVCacheBytes:   usedKVCacheSum,
		PrefixCacheHitRate: avgHitRate,
		Models:             entries,
	}, runningTotal, waitingTotal
}

// distributeRemainder splits remainder across entries proportionally to their
// used-KV-cache bytes, or evenly when none report usage.
func distributeRemainder(entries []model.PerModelEntry, remainder uint64) {
	var kvTotal uint64
	for _, e := range entries {
		kvTotal += e.UsedKVCacheBytes
	}

	if kvTotal == 0 {
		share := remainder / uint64(len(entries))
		for i := range entries {
			entries[i].AllocatedVRAMBytes += share
		}
		return
	}

	for i := range entries {
		weight := float64(entries[i].UsedKVCacheBytes) / float64(kvTotal)
		entries[i].AllocatedVRAMBytes += uint64(math.Round(weight * float64(remainder)))
	}
}

// scrapeAll fetches every running deployment's metrics page concurrently,
// bounded to the number of deployments (spec.md §4.7 step 3).
func (a *Aggregator) scrapeAll(ctx context.Context, deployments []model.Deployment) map[string]model.ModelBlockData {
	result := make(map[string]model.ModelBlockData, len(deployments))
	if len(deployments) == 0 {
		return result
	}

	type scraped struct {
		modelID string
		data    model.ModelBlockData
	}
	results := make(chan scraped, len(deployments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(deployments))

	for _, d := range deployments {
		d := d
		g.Go(func() error {
			start := time.Now()
			data, err := a.scraper.Fetch(gctx, a.vllmHost, d.Port)
			if err != nil {
				logger.WithComponent("aggregator").Debug("scrape failed", "model_id", d.ModelID, "error", err)
				data = model.ModelBlockData{Available: false}
			}
			if a.metrics != nil {
				a.metrics.RecordScrape(d.ModelID, time.Since(start), err, "fetch_failed")
			}
			results <- scraped{modelID: d.ModelID, data: data}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		result[r.modelID] = r.data
	}
	return result
}

// CollectAggregated samples every 500ms until window elapses or the sample
// cap (100) is reached, then returns windowed statistics (spec.md §4.7).
func (a *Aggregator) CollectAggregated(ctx context.Context, window time.Duration) model.AggregatedSnapshot {
	if window < minWindow {
		window = minWindow
	}
	if window > maxWindow {
		window = maxWindow
	}

	var allocatedSamples, kvSamples, hitRateSamples, runningSamples, waitingSamples []float64

	deadline := time.Now().Add(window)
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for len(allocatedSamples) < model.MaxSampleHistory && time.Now().Before(deadline) {
		snap, running, waiting := a.collect(ctx)

		var allocated, kv uint64
		for _, m := range snap.Models {
			allocated += m.AllocatedVRAMBytes
			kv += m.UsedKVCacheBytes
		}
		hitRate := snap.PrefixCacheHitRate

		allocatedSamples = append(allocatedSamples, float64(allocated))
		kvSamples = append(kvSamples, float64(kv))
		hitRateSamples = append(hitRateSamples, hitRate)
		runningSamples = append(runningSamples, float64(running))
		waitingSamples = append(waitingSamples, float64(waiting))

		select {
		case <-ctx.Done():
			goto done
		case <-ticker.C:
		}
	}
done:

	final := a.Collect(ctx)

	return model.AggregatedSnapshot{
		WindowSeconds:      int(window / time.Second),
		SampleCount:        len(allocatedSamples),
		AllocatedVRAMBytes: computeStats(allocatedSamples),
		UsedKVCacheBytes:   computeStats(kvSamples),
		PrefixCacheHitRate: computeStats(hitRateSamples),
		RunningRequests:    computeStats(runningSamples),
		WaitingRequests:    computeStats(waitingSamples),
		Models:             final.Models,
	}
}
