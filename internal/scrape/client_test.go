package scrape

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

const sampleExposition = `# HELP vllm:cache_config_info Information of the LLMConfig
# TYPE vllm:cache_config_info gauge
vllm:cache_config_info{num_gpu_blocks="1024",other_key="ignored"} 1
# HELP vllm:kv_cache_usage_perc KV-cache usage percentage
# TYPE vllm:kv_cache_usage_perc gauge
vllm:kv_cache_usage_perc 0.5
# HELP vllm:prefix_cache_queries_total Queries
# TYPE vllm:prefix_cache_queries_total counter
vllm:prefix_cache_queries_total 100
# HELP vllm:prefix_cache_hits_total Hits
# TYPE vllm:prefix_cache_hits_total counter
vllm:prefix_cache_hits_total 40
# HELP vllm:num_requests_running running
# TYPE vllm:num_requests_running gauge
vllm:num_requests_running 3
# HELP vllm:num_requests_waiting waiting
# TYPE vllm:num_requests_waiting gauge
vllm:num_requests_waiting 1
`

func TestFetchParsesExpositionFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(sampleExposition))
	}))
	defer server.Close()

	host, portStr, _ := splitHostPort(server.URL)
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad test server port: %v", err)
	}

	c := NewClient()
	data, err := c.Fetch(t.Context(), host, port)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if data.NumGPUBlocks != 1024 {
		t.Errorf("NumGPUBlocks = %d, want 1024", data.NumGPUBlocks)
	}
	if data.KVCacheUsagePerc != 0.5 {
		t.Errorf("KVCacheUsagePerc = %v, want 0.5", data.KVCacheUsagePerc)
	}
	if data.PrefixCacheHitRate != 40 {
		t.Errorf("PrefixCacheHitRate = %v, want 40", data.PrefixCacheHitRate)
	}
	if data.NumRequestsRunning != 3 || data.NumRequestsWaiting != 1 {
		t.Errorf("got running=%d waiting=%d, want 3/1", data.NumRequestsRunning, data.NumRequestsWaiting)
	}
	if !data.Available {
		t.Error("expected Available=true since num_gpu_blocks > 0")
	}
}

func TestFetchUnavailableWhenNoGPUBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# no series here\n"))
	}))
	defer server.Close()

	host, portStr, _ := splitHostPort(server.URL)
	port, _ := strconv.Atoi(portStr)

	c := NewClient()
	data, err := c.Fetch(t.Context(), host, port)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.Available {
		t.Error("expected Available=false with no num_gpu_blocks series")
	}
}

func splitHostPort(url string) (host, port string, err error) {
	url = strings.TrimPrefix(url, "http://")
	parts := strings.SplitN(url, ":", 2)
	if len(parts) != 2 {
		return "", "", nil
	}
	return parts[0], parts[1], nil
}
