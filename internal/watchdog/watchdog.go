// Package watchdog implements the Health Watchdog (spec.md §4.10): a
// background task that polls every deployment's /health endpoint purely for
// observability. It never removes a registry entry — that is PruneStale's
// job — but it does flag liveness via SetRunning, which feeds the running
// count that /models reports and RunningCount returns. The concurrency budget
// check uses Count and does not read this flag.
package watchdog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"blackbox/internal/logger"
	"blackbox/internal/registry"
)

const healthCheckBudget = 2 * time.Second

// Watchdog polls every registered deployment on a fixed interval.
type Watchdog struct {
	registry *registry.Registry
	host     string
	interval time.Duration
	client   *http.Client
}

// New builds a Watchdog polling host's deployments every interval.
func New(reg *registry.Registry, host string, interval time.Duration) *Watchdog {
	return &Watchdog{
		registry: reg,
		host:     host,
		interval: interval,
		client:   &http.Client{Timeout: healthCheckBudget},
	}
}

// Run blocks, polling on Watchdog's interval until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Watchdog) pollOnce(ctx context.Context) {
	log := logger.WithComponent("watchdog")
	for _, d := range w.registry.List(ctx) {
		healthy := w.checkHealth(ctx, d.Port)
		w.registry.SetRunning(d.ContainerName, healthy)
		if healthy {
			log.Debug("health check passed", "model_id", d.ModelID, "port", d.Port)
		} else {
			log.Warn("health check failed", "model_id", d.ModelID, "port", d.Port)
		}
	}
}

func (w *Watchdog) checkHealth(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:%d/health", w.host, port), nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
