// Package registry is the in-memory Deployment Registry: the single shared
// structure the Lifecycle Manager, Health Watchdog, and Aggregator all touch
// (spec.md §4.4, §5).
package registry

import (
	"context"
	"sync"

	"blackbox/internal/model"
)

// ContainerLister is the seam the Registry uses to reconcile itself against
// reality — satisfied by internal/container.RegistryLister (an adapter around
// container.Driver) in production.
type ContainerLister interface {
	ListRunning(ctx context.Context, prefix string) ([]ContainerInfo, error)
}

// ContainerInfo mirrors container.ContainerInfo's shape without importing
// that package, keeping registry free of a dependency on the container driver.
type ContainerInfo struct {
	ID   string
	Name string
}

// NamePrefix is the registry's naming convention prefix, shared with
// PruneStale's container-runtime query.
const NamePrefix = "vllm-"

// Registry holds every live Deployment, keyed by container name. A single
// mutex guards the whole structure for the duration of each operation,
// including the compound PruneStale-then-read sequence (spec.md §5).
type Registry struct {
	mu      sync.Mutex
	entries map[string]*model.Deployment
	lister  ContainerLister
}

// New builds an empty Registry backed by lister for PruneStale queries.
func New(lister ContainerLister) *Registry {
	return &Registry{
		entries: make(map[string]*model.Deployment),
		lister:  lister,
	}
}

// Register inserts or idempotently re-confirms a Deployment.
func (r *Registry) Register(modelID, containerName, containerID string, port int, ceiling float64, gpuClass string, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[containerName] = &model.Deployment{
		ModelID:       modelID,
		ContainerID:   containerID,
		ContainerName: containerName,
		Port:          port,
		Ceiling:       ceiling,
		GPUClass:      gpuClass,
		PID:           pid,
		Running:       true,
	}
}

// Unregister removes containerName's entry, if present.
func (r *Registry) Unregister(containerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, containerName)
}

// RecordSample appends percent to containerName's sample history.
func (r *Registry) RecordSample(containerName string, percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.entries[containerName]; ok {
		d.RecordSample(percent)
	}
}

// SetRunning updates the liveness flag the Health Watchdog observes.
func (r *Registry) SetRunning(containerName string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.entries[containerName]; ok {
		d.Running = running
	}
}

// Get returns a copy of containerName's Deployment, if present.
func (r *Registry) Get(containerName string) (model.Deployment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.entries[containerName]
	if !ok {
		return model.Deployment{}, false
	}
	return *d, true
}

// FindByModelID returns the container name and Deployment for modelID, if registered.
func (r *Registry) FindByModelID(modelID string) (string, model.Deployment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, d := range r.entries {
		if d.ModelID == modelID {
			return name, *d, true
		}
	}
	return "", model.Deployment{}, false
}

// PortInUse reports whether port is already claimed by a registered Deployment.
func (r *Registry) PortInUse(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.entries {
		if d.Port == port {
			return true
		}
	}
	return false
}

// List returns a snapshot copy of all Deployments, after first invoking
// PruneStale — this is the registry's only externally exposed iteration
// path, guaranteeing freshness (spec.md §4.4).
func (r *Registry) List(ctx context.Context) []model.Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneStaleLocked(ctx)

	out := make([]model.Deployment, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, *d)
	}
	return out
}

// PruneStale removes registry entries whose container is no longer present
// among the container runtime's running containers matching NamePrefix — the
// registry's consistency anchor against crashed or externally-removed
// containers.
func (r *Registry) PruneStale(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneStaleLocked(ctx)
}

func (r *Registry) pruneStaleLocked(ctx context.Context) {
	if r.lister == nil {
		return
	}
	running, err := r.lister.ListRunning(ctx, NamePrefix)
	if err != nil {
		// Best-effort: a failed reconciliation query leaves the registry as-is
		// rather than evicting everything on a transient runtime error.
		return
	}

	live := make(map[string]bool, len(running))
	for _, c := range running {
		live[c.Name] = true
	}

	for name := range r.entries {
		if !live[name] {
			delete(r.entries, name)
		}
	}
}

// RunningCount returns the number of registered Deployments still flagged
// Running by the Health Watchdog, without pruning. This tracks liveness, not
// membership — a model still loading reports unhealthy (spec.md §4.8 step 14)
// and would undercount here, so the concurrency-budget check uses Count
// instead, not this.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.entries {
		if d.Running {
			n++
		}
	}
	return n
}

// Count returns the number of registered Deployments, without pruning —
// every entry counts regardless of the Health Watchdog's liveness flag, so a
// still-loading-but-unhealthy model still occupies a concurrency-budget slot
// (spec.md §4.8 invariant 3). Callers on the budget-check path call List
// first if they need freshness.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
