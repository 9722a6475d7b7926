// Package httpapi implements the daemon's single-process HTTP Surface
// (spec.md §4.11): the JSON/SSE route table every other subsystem is driven
// through. One Server is built at startup and bound to 0.0.0.0:<port>.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"blackbox/internal/config"
	"blackbox/internal/lifecycle"
	"blackbox/internal/logger"
	"blackbox/internal/metrics"
	"blackbox/internal/model"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownGrace     = 10 * time.Second
)

// VRAMSource is the seam /vram, /vram/stream and /vram/aggregated read
// through. Satisfied by *aggregator.Aggregator in production.
type VRAMSource interface {
	Collect(ctx context.Context) model.Snapshot
	CollectAggregated(ctx context.Context, window time.Duration) model.AggregatedSnapshot
}

// DeploymentLifecycle is the seam /deploy and /spindown call through.
// Satisfied by *lifecycle.Manager in production.
type DeploymentLifecycle interface {
	Deploy(ctx context.Context, req lifecycle.DeployRequest) lifecycle.DeployResult
	Spindown(ctx context.Context, modelID, containerName string) lifecycle.SpindownResult
}

// OptimizeRunner is the seam /optimize calls through. Satisfied by
// *optimizer.Controller in production.
type OptimizeRunner interface {
	Optimize(ctx context.Context) []string
}

// ModelLister is the seam /models reads through. Satisfied by
// *registry.Registry in production.
type ModelLister interface {
	List(ctx context.Context) []model.Deployment
}

// Server bundles the HTTP surface with the subsystems it routes to.
type Server struct {
	cfg        *config.Config
	aggregator VRAMSource
	lifecycle  DeploymentLifecycle
	optimizer  OptimizeRunner
	registry   ModelLister
	metrics    *metrics.Metrics

	httpServer *http.Server
}

// NewServer builds a Server bound to addr (e.g. "0.0.0.0:6767"). m may be
// nil when Prometheus instrumentation is disabled.
func NewServer(addr string, cfg *config.Config, agg VRAMSource, lm DeploymentLifecycle, opt OptimizeRunner, reg ModelLister, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:        cfg,
		aggregator: agg,
		lifecycle:  lm,
		optimizer:  opt,
		registry:   reg,
		metrics:    m,
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// route registers handler at path for method only, wrapped in the standard
// logging/metrics/recover chain, and 404s every other method at that path.
func (s *Server) route(mux *http.ServeMux, method, path string, handler http.HandlerFunc) {
	wrapped := chain(handler, recoverMiddleware, metricsMiddleware(s.metrics, path), loggingMiddleware(path))
	mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			handleNotFound(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	}))
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, http.MethodGet, "/vram", s.handleVRAM)
	s.route(mux, http.MethodGet, "/vram/stream", s.handleVRAMStream)
	s.route(mux, http.MethodGet, "/vram/aggregated", s.handleVRAMAggregated)
	s.route(mux, http.MethodGet, "/models", s.handleModels)
	s.route(mux, http.MethodPost, "/deploy", s.handleDeploy)
	s.route(mux, http.MethodPost, "/spindown", s.handleSpindown)
	s.route(mux, http.MethodPost, "/optimize", s.handleOptimize)

	mux.HandleFunc("/", handleNotFound)
	return mux
}

// Run serves until ctx is canceled, then drains in-flight requests for up to
// shutdownGrace before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithComponent("httpapi").Info("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
