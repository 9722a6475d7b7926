package aggregator

import (
	"context"
	"testing"
	"time"

	"blackbox/internal/model"
	"blackbox/internal/probe"
	"blackbox/internal/registry"
)

// runningLister reports the named containers as running, so PruneStale keeps
// the registry entries registered under those names.
type runningLister []string

func (l runningLister) ListRunning(_ context.Context, _ string) ([]registry.ContainerInfo, error) {
	out := make([]registry.ContainerInfo, 0, len(l))
	for _, name := range l {
		out = append(out, registry.ContainerInfo{Name: name})
	}
	return out, nil
}

type fakeScraper struct {
	byPort map[int]model.ModelBlockData
}

func (f *fakeScraper) Fetch(_ context.Context, _ string, port int) (model.ModelBlockData, error) {
	if bd, ok := f.byPort[port]; ok {
		return bd, nil
	}
	return model.ModelBlockData{Available: false}, nil
}

func newTestRegistry(running ...string) *registry.Registry {
	return registry.New(runningLister(running))
}

func TestCollectProbeUnavailableReturnsZeroSnapshot(t *testing.T) {
	prober := &probe.FakeProber{Err: context.DeadlineExceeded}
	scraper := &fakeScraper{}
	reg := newTestRegistry()

	a := New(prober, scraper, reg, "localhost", nil)
	snap := a.Collect(t.Context())

	if snap.TotalVRAMBytes != 0 || len(snap.Models) != 0 {
		t.Fatalf("expected zero-valued snapshot, got %+v", snap)
	}
}

func TestCollectNoDeploymentsReturnsEmptyModelList(t *testing.T) {
	prober := &probe.FakeProber{Total: 16 << 30, Used: 0, Free: 16 << 30}
	scraper := &fakeScraper{}
	reg := newTestRegistry()

	a := New(prober, scraper, reg, "localhost", nil)
	snap := a.Collect(t.Context())

	if snap.TotalVRAMBytes != 16<<30 {
		t.Fatalf("expected total to pass through, got %d", snap.TotalVRAMBytes)
	}
	if len(snap.Models) != 0 {
		t.Fatalf("expected no models, got %+v", snap.Models)
	}
}

func TestCollectRedistributesUnmatchedAllocationEvenlyWhenNothingMatched(t *testing.T) {
	// No compute processes resolve to a container (empty Procs), so the
	// aggregator can't match any allocation directly. Step 5's used-KV-cache
	// cap (spec.md §4.7) applies before step 6's reconciliation runs, so an
	// unmatched model's used-KV-cache bytes are capped to its (zero) matched
	// allocation — neither model carries a usage weight, so the unmatched
	// 40GiB is split evenly rather than proportionally.
	prober := &probe.FakeProber{Total: 100 << 30, Used: 40 << 30, Free: 60 << 30}
	scraper := &fakeScraper{byPort: map[int]model.ModelBlockData{
		8000: {
			Available:          true,
			NumGPUBlocks:       1000,
			BlockSizeBytes:     16 * 1024,
			KVCacheUsagePerc:   0.5,
			PrefixCacheHitRate: 80,
		},
		8001: {
			Available:          true,
			NumGPUBlocks:       1000,
			BlockSizeBytes:     16 * 1024,
			KVCacheUsagePerc:   0.25,
			PrefixCacheHitRate: 40,
		},
	}}
	reg := newTestRegistry("vllm-org-a", "vllm-org-b")
	reg.Register("org/a", "vllm-org-a", "c1", 8000, 0.9, "T4", 1)
	reg.Register("org/b", "vllm-org-b", "c2", 8001, 0.9, "T4", 2)

	a := New(prober, scraper, reg, "localhost", nil)
	snap := a.Collect(t.Context())

	if len(snap.Models) != 2 {
		t.Fatalf("expected 2 model entries, got %d", len(snap.Models))
	}

	var totalAllocated uint64
	for _, m := range snap.Models {
		totalAllocated += m.AllocatedVRAMBytes
		if m.AllocatedVRAMBytes != 20<<30 {
			t.Errorf("expected %s to receive an even 20GiB share, got %d", m.ModelID, m.AllocatedVRAMBytes)
		}
		if m.UsedKVCacheBytes > m.AllocatedVRAMBytes {
			t.Errorf("invariant violated for %s: used_kv_cache_bytes %d > allocated_vram_bytes %d", m.ModelID, m.UsedKVCacheBytes, m.AllocatedVRAMBytes)
		}
	}
	// The whole 40GiB used figure should be distributed since nothing matched directly.
	if totalAllocated != 40<<30 {
		t.Fatalf("expected reconciled total of 40GiB, got %d", totalAllocated)
	}

	if snap.PrefixCacheHitRate != 60 {
		t.Fatalf("expected average hit rate of 60, got %v", snap.PrefixCacheHitRate)
	}
}

func TestDistributeRemainderWeightsByUsedKVCacheBytes(t *testing.T) {
	// Exercises step 6's proportional branch directly: when entries already
	// carry a used-KV-cache signal (e.g. a partially matched deployment
	// retained some allocation before capping), the unmatched remainder
	// should split 2:1 in proportion to that signal.
	entries := []model.PerModelEntry{
		{ModelID: "org/a", AllocatedVRAMBytes: 10 << 30, UsedKVCacheBytes: 10 << 30},
		{ModelID: "org/b", AllocatedVRAMBytes: 5 << 30, UsedKVCacheBytes: 5 << 30},
	}
	distributeRemainder(entries, 30<<30)

	if entries[0].AllocatedVRAMBytes != 10<<30+20<<30 {
		t.Fatalf("org/a allocated = %d, want %d", entries[0].AllocatedVRAMBytes, 10<<30+20<<30)
	}
	if entries[1].AllocatedVRAMBytes != 5<<30+10<<30 {
		t.Fatalf("org/b allocated = %d, want %d", entries[1].AllocatedVRAMBytes, 5<<30+10<<30)
	}
}

func TestCollectAggregatedAccumulatesRunningAndWaiting(t *testing.T) {
	prober := &probe.FakeProber{Total: 10 << 30, Used: 1 << 30, Free: 9 << 30}
	scraper := &fakeScraper{byPort: map[int]model.ModelBlockData{
		8000: {
			Available:          true,
			NumGPUBlocks:       10,
			BlockSizeBytes:     16 * 1024,
			KVCacheUsagePerc:   0.1,
			NumRequestsRunning: 3,
			NumRequestsWaiting: 2,
		},
	}}
	reg := newTestRegistry("vllm-org-a")
	reg.Register("org/a", "vllm-org-a", "c1", 8000, 0.9, "T4", 1)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	a := New(prober, scraper, reg, "localhost", nil)
	agg := a.CollectAggregated(ctx, 600*time.Millisecond)

	if agg.SampleCount == 0 {
		t.Fatal("expected at least one sample")
	}
	if agg.RunningRequests.Max != 3 {
		t.Fatalf("expected RunningRequests.Max = 3, got %v", agg.RunningRequests.Max)
	}
	if agg.WaitingRequests.Max != 2 {
		t.Fatalf("expected WaitingRequests.Max = 2, got %v", agg.WaitingRequests.Max)
	}
	if agg.WindowSeconds != 1 {
		t.Fatalf("expected window clamped up to the 1s minimum, got %d", agg.WindowSeconds)
	}
}

func TestCollectAggregatedClampsWindowToMaximum(t *testing.T) {
	prober := &probe.FakeProber{Total: 1, Used: 0, Free: 1}
	scraper := &fakeScraper{}
	reg := newTestRegistry()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	a := New(prober, scraper, reg, "localhost", nil)
	agg := a.CollectAggregated(ctx, 5*time.Hour)

	if agg.WindowSeconds != 60 {
		t.Fatalf("expected window clamped to 60s maximum, got %d", agg.WindowSeconds)
	}
}
