// Package model holds the data types shared across the daemon's subsystems:
// the Deployment Registry's record, the single-shot and windowed snapshots the
// HTTP surface serializes, and the intermediate scrape/catalog results that
// feed the aggregator.
package model

import "time"

// MaxSampleHistory bounds every Deployment's VRAM-usage sample history and the
// aggregator's windowed sample count (spec.md §5 resource policy).
const MaxSampleHistory = 100

// Deployment is one deployed inference runtime, keyed by container name in the
// Registry. Created on successful deployment, its Running flag mutated by the
// Health Watchdog, destroyed on spindown or on loss of liveness. The sample
// history grows only through Registry.RecordSample, which the Aggregator does
// not call.
type Deployment struct {
	ModelID       string
	ContainerID   string
	ContainerName string
	Port          int
	Ceiling       float64 // configured memory-utilization ceiling, 0-1
	GPUClass      string
	PID           int
	Running       bool

	history []float64
	peak    float64
}

// RecordSample appends a VRAM-usage percentage to the history (FIFO, capped at
// MaxSampleHistory) and updates the tracked peak. Not safe for concurrent use;
// callers hold the Registry's lock.
func (d *Deployment) RecordSample(percent float64) {
	d.history = append(d.history, percent)
	if len(d.history) > MaxSampleHistory {
		d.history = d.history[len(d.history)-MaxSampleHistory:]
	}
	if percent > d.peak {
		d.peak = percent
	}
}

// History returns a copy of the sample history.
func (d *Deployment) History() []float64 {
	out := make([]float64, len(d.history))
	copy(out, d.history)
	return out
}

// Peak returns the highest VRAM-usage percentage ever recorded.
func (d *Deployment) Peak() float64 {
	return d.peak
}

// SampleCount returns the number of recorded samples.
func (d *Deployment) SampleCount() int {
	return len(d.history)
}

// PerModelEntry is one model's contribution to a Snapshot.
type PerModelEntry struct {
	ModelID            string `json:"model_id"`
	Port               int    `json:"port"`
	AllocatedVRAMBytes uint64 `json:"allocated_vram_bytes"`
	UsedKVCacheBytes   uint64 `json:"used_kv_cache_bytes"`
}

// Snapshot is the canonical per-instant reading. Derived, never stored.
type Snapshot struct {
	TotalVRAMBytes     uint64          `json:"total_vram_bytes"`
	AllocatedVRAMBytes uint64          `json:"allocated_vram_bytes"`
	UsedKVCacheBytes   uint64          `json:"used_kv_cache_bytes"`
	PrefixCacheHitRate float64         `json:"prefix_cache_hit_rate"`
	Models             []PerModelEntry `json:"models"`
}

// SeriesStats is the (min, max, mean, p95, p99, sample count) tuple computed
// over one windowed series.
type SeriesStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// AggregatedSnapshot is the statistics over a requested sampling window.
type AggregatedSnapshot struct {
	WindowSeconds      int             `json:"window_seconds"`
	SampleCount        int             `json:"sample_count"`
	AllocatedVRAMBytes SeriesStats     `json:"allocated_vram_bytes"`
	UsedKVCacheBytes   SeriesStats     `json:"used_kv_cache_bytes"`
	PrefixCacheHitRate SeriesStats     `json:"prefix_cache_hit_rate"`
	RunningRequests    SeriesStats     `json:"running_requests"`
	WaitingRequests    SeriesStats     `json:"waiting_requests"`
	Models             []PerModelEntry `json:"models"`
}

// ModelBlockData is one runtime's scraped metric values. Transient.
type ModelBlockData struct {
	ModelID             string
	NumGPUBlocks        uint64
	BlockSizeBytes      uint64
	KVCacheUsagePerc    float64
	PrefixCacheHitRate  float64
	NumRequestsRunning  uint64
	NumRequestsWaiting  uint64
	Available           bool
	AllocatedVRAMBytes  uint64 // not set by the scrape client or the aggregator; the aggregator keeps per-model allocation in its own map
	sampledAt           time.Time
}

// SampledAt returns when this block data was captured.
func (m ModelBlockData) SampledAt() time.Time { return m.sampledAt }

// WithSampledAt returns a copy stamped with the given capture time.
func (m ModelBlockData) WithSampledAt(t time.Time) ModelBlockData {
	m.sampledAt = t
	return m
}

// CatalogValidationResult is the normalized outcome of a catalog lookup.
type CatalogValidationResult struct {
	CanonicalID string
	Gated       bool
	Valid       bool
	Err         string
}
