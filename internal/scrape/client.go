// Package scrape fetches and parses one inference runtime's exposition-format
// metrics page into a model.ModelBlockData record (spec.md §4.2).
package scrape

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/common/expfmt"

	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"

	"blackbox/internal/model"
	"blackbox/internal/telemetry"
)

const (
	connectTimeout = 1 * time.Second
	readTimeout    = 1500 * time.Millisecond
	totalTimeout   = 2 * time.Second

	defaultBlockSizeBytes = 16 * 1024
)

// Client fetches and parses one runtime's /metrics page.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a scrape Client whose total wall-clock budget matches
// spec.md §4.2's 2s ceiling (connect ≤ 1s, read ≤ 1.5s).
func NewClient() *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		httpClient: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ResponseHeaderTimeout: readTimeout,
			},
		},
	}
}

// Fetch retrieves and parses http://host:port/metrics.
func (c *Client) Fetch(ctx context.Context, host string, port int) (model.ModelBlockData, error) {
	ctx, span := telemetry.StartSpan(ctx, "scrape.fetch")
	defer span.End()
	telemetry.SetAttributes(ctx, attribute.String("scrape.host", host), attribute.Int("scrape.port", port))

	url := fmt.Sprintf("http://%s:%d/metrics", host, port)

	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		telemetry.SetError(ctx, err)
		return model.ModelBlockData{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SetError(ctx, err)
		return model.ModelBlockData{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("scrape: unexpected status %d", resp.StatusCode)
		telemetry.SetError(ctx, err)
		return model.ModelBlockData{}, err
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		err = fmt.Errorf("scrape: parse exposition format: %w", err)
		telemetry.SetError(ctx, err)
		return model.ModelBlockData{}, err
	}

	return parseFamilies(families), nil
}

var digitsOnly = regexp.MustCompile(`\d+`)

// parseFamilies extracts the named series spec.md §4.2 lists, matching by
// suffix since the runtime may prefix every series name (e.g. "vllm:").
func parseFamilies(families map[string]*dto.MetricFamily) model.ModelBlockData {
	var (
		numGPUBlocks       uint64
		kvCacheUsagePerc   float64
		queries, hits      float64
		numRequestsRunning uint64
		numRequestsWaiting uint64
	)

	for name, fam := range families {
		switch {
		case hasSuffix(name, "cache_config_info"):
			numGPUBlocks = extractNumGPUBlocks(fam)
		case hasSuffix(name, "kv_cache_usage_perc"):
			kvCacheUsagePerc = clamp(firstValue(fam), 0, 1)
		case hasSuffix(name, "prefix_cache_queries_total"):
			queries = firstValue(fam)
		case hasSuffix(name, "prefix_cache_hits_total"):
			hits = firstValue(fam)
		case hasSuffix(name, "num_requests_running"):
			numRequestsRunning = uint64(firstValue(fam))
		case hasSuffix(name, "num_requests_waiting"):
			numRequestsWaiting = uint64(firstValue(fam))
		}
	}

	var prefixCacheHitRate float64
	if queries > 0 {
		prefixCacheHitRate = clamp(hits/queries*100, 0, 100)
	}

	return model.ModelBlockData{
		NumGPUBlocks:       numGPUBlocks,
		BlockSizeBytes:     defaultBlockSizeBytes,
		KVCacheUsagePerc:   kvCacheUsagePerc,
		PrefixCacheHitRate: prefixCacheHitRate,
		NumRequestsRunning: numRequestsRunning,
		NumRequestsWaiting: numRequestsWaiting,
		Available:          numGPUBlocks > 0,
	}
}

func hasSuffix(name, suffix string) bool {
	if len(name) < len(suffix) {
		return false
	}
	return name[len(name)-len(suffix):] == suffix
}

// extractNumGPUBlocks reads the num_gpu_blocks label off the first metric in
// the family, keeping decimal digits only per spec.md §4.2.
func extractNumGPUBlocks(fam *dto.MetricFamily) uint64 {
	for _, m := range fam.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() != "num_gpu_blocks" {
				continue
			}
			digits := digitsOnly.FindString(lp.GetValue())
			if digits == "" {
				continue
			}
			n, err := strconv.ParseUint(digits, 10, 64)
			if err == nil {
				return n
			}
		}
	}
	return 0
}

func firstValue(fam *dto.MetricFamily) float64 {
	for _, m := range fam.GetMetric() {
		switch {
		case m.Gauge != nil:
			return m.GetGauge().GetValue()
		case m.Counter != nil:
			return m.GetCounter().GetValue()
		case m.Untyped != nil:
			return m.GetUntyped().GetValue()
		}
	}
	return 0
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
