// Package optimizer implements the Optimization Controller (spec.md §4.9):
// the only operation that changes allocation ceilings outside explicit
// deploy/spindown calls.
package optimizer

import (
	"context"
	"time"

	"blackbox/internal/audit"
	"blackbox/internal/config"
	"blackbox/internal/lifecycle"
	"blackbox/internal/logger"
	"blackbox/internal/metrics"
	"blackbox/internal/registry"
)

const (
	minSamplesForDecision = 10
	meanThresholdFactor    = 0.7
	minCeiling             = 0.1
	maxCeiling             = 0.95
)

// restartCandidate bundles the deployment info the restart step needs after
// the registry's copy is unregistered by Spindown.
type restartCandidate struct {
	modelID       string
	containerName string
	gpuClass      string
	peak          float64
}

// Deployer is the seam the optimizer uses to restart a deployment. Satisfied
// by *lifecycle.Manager in production; a test double can stand in without
// spawning real containers.
type Deployer interface {
	Deploy(ctx context.Context, req lifecycle.DeployRequest) lifecycle.DeployResult
	Spindown(ctx context.Context, modelID, containerName string) lifecycle.SpindownResult
}

// Controller runs Optimize over the registry's sample histories.
type Controller struct {
	registry  *registry.Registry
	lifecycle Deployer
	configDir string
	metrics   *metrics.Metrics
}

// New builds a Controller. m may be nil, in which case domain metrics are
// skipped (mirrors httpapi's metricsMiddleware nil-guard).
func New(reg *registry.Registry, lm Deployer, configDir string, m *metrics.Metrics) *Controller {
	return &Controller{registry: reg, lifecycle: lm, configDir: configDir, metrics: m}
}

// Optimize prunes stale deployments, then restarts every deployment whose
// recent VRAM usage sits well under its configured ceiling, tightening the
// ceiling to what it actually used (spec.md §4.9).
func (c *Controller) Optimize(ctx context.Context) []string {
	start := time.Now()
	restarted := c.optimize(ctx)

	entry := audit.NewEntry(audit.ActionOptimize).
		Duration(time.Since(start)).
		Outcome(audit.OutcomeSuccess).
		Meta("restarted_count", len(restarted)).
		Meta("restarted", restarted)
	_ = audit.LogEntry(ctx, entry.Build())

	if c.metrics != nil {
		c.metrics.RecordOptimize(true)
	}

	return restarted
}

func (c *Controller) optimize(ctx context.Context) []string {
	log := logger.WithComponent("optimizer")

	c.registry.PruneStale(ctx)
	deployments := c.registry.List(ctx)

	var candidates []restartCandidate
	for _, d := range deployments {
		if d.SampleCount() < minSamplesForDecision {
			continue
		}
		mean := meanOf(d.History())
		threshold := d.Ceiling * 100 * meanThresholdFactor
		peak := d.Peak()
		if mean < threshold && peak > 0 {
			candidates = append(candidates, restartCandidate{
				modelID:       d.ModelID,
				containerName: d.ContainerName,
				gpuClass:      d.GPUClass,
				peak:          peak,
			})
		}
	}

	var restarted []string
	for _, cand := range candidates {
		if c.restart(ctx, cand) {
			restarted = append(restarted, cand.containerName)
		} else {
			log.Warn("optimizer restart failed", "model_id", cand.modelID)
		}
	}
	return restarted
}

func (c *Controller) restart(ctx context.Context, cand restartCandidate) bool {
	spindown := c.lifecycle.Spindown(ctx, cand.modelID, cand.containerName)
	if !spindown.Success {
		return false
	}

	newCeiling := clamp(cand.peak/100, minCeiling, maxCeiling)

	profile, err := config.LoadGPUProfile(c.configDir, cand.gpuClass)
	if err != nil {
		return false
	}
	tuned := profile.WithCeiling(newCeiling)
	rendered, err := tuned.Render()
	if err != nil {
		return false
	}

	deploy := c.lifecycle.Deploy(ctx, lifecycle.DeployRequest{
		ModelID:          cand.modelID,
		GPUClassOverride: cand.gpuClass,
		ConfigOverride:   string(rendered),
	})
	return deploy.Success
}

func meanOf(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
