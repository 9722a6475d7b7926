// Package metrics instruments the daemon's own behavior for Prometheus
// scraping — additive observability, never a substitute for spec.md §6's
// JSON/SSE response bodies.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide metrics container.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	DeployOperationsTotal   *prometheus.CounterVec
	DeployDuration          *prometheus.HistogramVec
	SpindownOperationsTotal *prometheus.CounterVec
	OptimizeOperationsTotal *prometheus.CounterVec

	ScrapeDuration     *prometheus.HistogramVec
	ScrapeFailuresTotal *prometheus.CounterVec

	AllocatedVRAMBytes *prometheus.GaugeVec
	UsedKVCacheBytes   *prometheus.GaugeVec
	DeploymentsActive  prometheus.Gauge
}

var def *Metrics

// Init builds the metrics container under namespace (e.g. "blackbox").
func Init(namespace string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served.",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"route"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served.",
			},
		),

		DeployOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploy_operations_total",
				Help:      "Total number of deploy attempts by outcome.",
			},
			[]string{"status"},
		),
		DeployDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deploy_duration_seconds",
				Help:      "Duration of deploy operations.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		SpindownOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spindown_operations_total",
				Help:      "Total number of spindown attempts by outcome.",
			},
			[]string{"status"},
		),
		OptimizeOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "optimize_operations_total",
				Help:      "Total number of optimize decisions by outcome.",
			},
			[]string{"status"},
		),

		ScrapeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scrape_duration_seconds",
				Help:      "Duration of per-deployment metric scrapes.",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 1.5, 2},
			},
			[]string{"model_id"},
		),
		ScrapeFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scrape_failures_total",
				Help:      "Total number of failed metric scrapes.",
			},
			[]string{"model_id", "reason"},
		),

		AllocatedVRAMBytes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "allocated_vram_bytes",
				Help:      "Last observed allocated VRAM, per model.",
			},
			[]string{"model_id"},
		),
		UsedKVCacheBytes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "used_kv_cache_bytes",
				Help:      "Last observed KV-cache usage, per model.",
			},
			[]string{"model_id"},
		),
		DeploymentsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deployments_active",
				Help:      "Number of deployments currently registered.",
			},
		),
	}

	def = m
	return m
}

// Get returns the process-wide metrics container, initializing a default one
// under the "blackbox" namespace if Init was never called.
func Get() *Metrics {
	if def == nil {
		return Init("blackbox")
	}
	return def
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordDeploy records a deploy attempt's outcome and duration.
func (m *Metrics) RecordDeploy(success bool, duration time.Duration) {
	status := statusLabel(success)
	m.DeployOperationsTotal.WithLabelValues(status).Inc()
	m.DeployDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSpindown records a spindown attempt's outcome.
func (m *Metrics) RecordSpindown(success bool) {
	m.SpindownOperationsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordOptimize records an optimize decision's outcome.
func (m *Metrics) RecordOptimize(success bool) {
	m.OptimizeOperationsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordScrape records a scrape attempt's duration, or its failure reason.
func (m *Metrics) RecordScrape(modelID string, duration time.Duration, err error, reason string) {
	m.ScrapeDuration.WithLabelValues(modelID).Observe(duration.Seconds())
	if err != nil {
		m.ScrapeFailuresTotal.WithLabelValues(modelID, reason).Inc()
	}
}

// SetModelUsage publishes the latest VRAM/KV-cache gauges for one model.
func (m *Metrics) SetModelUsage(modelID string, allocatedVRAM, usedKVCache uint64) {
	m.AllocatedVRAMBytes.WithLabelValues(modelID).Set(float64(allocatedVRAM))
	m.UsedKVCacheBytes.WithLabelValues(modelID).Set(float64(usedKVCache))
}

// SetDeploymentsActive publishes the current registry size.
func (m *Metrics) SetDeploymentsActive(n int) {
	m.DeploymentsActive.Set(float64(n))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer runs the ambient metrics listener, separate from the primary
// HTTP surface (spec.md §4.12/§4.14's port-collision decision).
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
