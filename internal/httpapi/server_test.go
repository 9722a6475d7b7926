package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blackbox/internal/config"
	"blackbox/internal/lifecycle"
	"blackbox/internal/model"
)

type fakeVRAMSource struct {
	snap           model.Snapshot
	aggregated     model.AggregatedSnapshot
	lastWindowSeen time.Duration
}

func (f *fakeVRAMSource) Collect(_ context.Context) model.Snapshot { return f.snap }

func (f *fakeVRAMSource) CollectAggregated(_ context.Context, window time.Duration) model.AggregatedSnapshot {
	f.lastWindowSeen = window
	return f.aggregated
}

type fakeLifecycle struct {
	deployReq    lifecycle.DeployRequest
	deployResult lifecycle.DeployResult

	spindownModelID     string
	spindownContainerID string
	spindownResult      lifecycle.SpindownResult
}

func (f *fakeLifecycle) Deploy(_ context.Context, req lifecycle.DeployRequest) lifecycle.DeployResult {
	f.deployReq = req
	return f.deployResult
}

func (f *fakeLifecycle) Spindown(_ context.Context, modelID, containerName string) lifecycle.SpindownResult {
	f.spindownModelID = modelID
	f.spindownContainerID = containerName
	return f.spindownResult
}

type fakeOptimizer struct {
	restarted []string
}

func (f *fakeOptimizer) Optimize(_ context.Context) []string { return f.restarted }

type fakeRegistry struct {
	deployments []model.Deployment
}

func (f *fakeRegistry) List(_ context.Context) []model.Deployment { return f.deployments }

func newTestServer() (*Server, *fakeVRAMSource, *fakeLifecycle, *fakeOptimizer, *fakeRegistry) {
	agg := &fakeVRAMSource{snap: model.Snapshot{TotalVRAMBytes: 16 << 30}}
	lm := &fakeLifecycle{}
	opt := &fakeOptimizer{}
	reg := &fakeRegistry{}
	cfg := &config.Config{}
	cfg.Daemon.MaxConcurrentModels = 3

	s := NewServer("127.0.0.1:0", cfg, agg, lm, opt, reg, nil)
	return s, agg, lm, opt, reg
}

func TestHandleVRAMReturnsSnapshotJSON(t *testing.T) {
	s, _, _, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/vram", nil)

	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got model.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.TotalVRAMBytes != 16<<30 {
		t.Fatalf("total_vram_bytes = %d, want %d", got.TotalVRAMBytes, 16<<30)
	}
}

func TestHandleVRAMAggregatedClampsWindowQueryParam(t *testing.T) {
	s, agg, _, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/vram/aggregated?window=9000", nil)

	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if agg.lastWindowSeen != maxAggregationWindow*time.Second {
		t.Fatalf("window passed through = %v, want %v", agg.lastWindowSeen, maxAggregationWindow*time.Second)
	}
}

func TestHandleModelsCountsRunningAndReportsMaxAllowed(t *testing.T) {
	s, _, _, _, reg := newTestServer()
	reg.deployments = []model.Deployment{
		{ModelID: "org/a", ContainerName: "vllm-org-a", Running: true},
		{ModelID: "org/b", ContainerName: "vllm-org-b", Running: false},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	s.routes().ServeHTTP(rec, req)

	var got modelsResponseDTO
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 2 || got.Running != 1 || got.MaxAllowed != 3 {
		t.Fatalf("got %+v, want total=2 running=1 max_allowed=3", got)
	}
}

func TestHandleDeployAlwaysReturns200EvenOnFailure(t *testing.T) {
	s, _, lm, _, _ := newTestServer()
	lm.deployResult = lifecycle.DeployResult{Success: false, Message: "no HF token"}

	body := bytes.NewBufferString(`{"model_id":"org/model"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/deploy", body)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 regardless of deploy outcome", rec.Code)
	}
	var got deployResponseDTO
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Success || got.Message != "no HF token" {
		t.Fatalf("got %+v, want the failure passed through verbatim", got)
	}
	if lm.deployReq.ModelID != "org/model" {
		t.Fatalf("model_id forwarded = %q, want org/model", lm.deployReq.ModelID)
	}
}

func TestHandleDeployDefensivelyParsesMalformedBody(t *testing.T) {
	s, _, lm, _, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/deploy", bytes.NewBufferString("not json"))
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for a malformed body", rec.Code)
	}
	if lm.deployReq.ModelID != "" {
		t.Fatalf("expected zero-valued request for malformed JSON, got %+v", lm.deployReq)
	}
}

func TestHandleSpindownForwardsBothIdentifiers(t *testing.T) {
	s, _, lm, _, _ := newTestServer()
	lm.spindownResult = lifecycle.SpindownResult{Success: true, Message: "spun down"}

	body := bytes.NewBufferString(`{"model_id":"org/a","container_id":"c1"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/spindown", body)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if lm.spindownModelID != "org/a" || lm.spindownContainerID != "c1" {
		t.Fatalf("forwarded (%q, %q), want (org/a, c1)", lm.spindownModelID, lm.spindownContainerID)
	}
}

func TestHandleOptimizeReturnsRestartedNames(t *testing.T) {
	s, _, _, opt, _ := newTestServer()
	opt.restarted = []string{"vllm-org-a"}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/optimize", nil)
	s.routes().ServeHTTP(rec, req)

	var got optimizeResponseDTO
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Restarted) != 1 || got.Restarted[0] != "vllm-org-a" {
		t.Fatalf("got %+v, want [vllm-org-a]", got)
	}
}

func TestUnknownRouteReturns404PlainText(t *testing.T) {
	s, _, _, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMethodMismatchReturns404(t *testing.T) {
	s, _, _, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/deploy", nil)
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for a GET against a POST-only route", rec.Code)
	}
}
