package lifecycle

import (
	"context"
	"net"
	"testing"

	"blackbox/internal/cache"
	"blackbox/internal/catalog"
	"blackbox/internal/config"
	"blackbox/internal/container"
	"blackbox/internal/probe"
	"blackbox/internal/registry"
)

func TestDetectGPUClass(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"NVIDIA A100-SXM4-80GB", "A100"},
		{"NVIDIA H100 PCIe", "H100"},
		{"NVIDIA L40S", "L40"},
		{"Tesla T4", "T4"},
		{"Unknown Device XYZ", "T4"},
	}
	for _, c := range cases {
		if got := detectGPUClass(c.name); got != c.want {
			t.Errorf("detectGPUClass(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestContainerNameForMatchesSpecLiteralExample(t *testing.T) {
	got := containerNameFor("Qwen/Qwen2.5-7B-Instruct")
	want := "vllm-Qwen-Qwen2-5-7B-Instruct"
	if got != want {
		t.Fatalf("containerNameFor = %q, want %q", got, want)
	}
}

func TestContainerNameForReplacesEachNonAlphanumericCharacter(t *testing.T) {
	got := containerNameFor("Org/Model--Name_v1.5")
	want := "vllm-Org-Model--Name-v1-5"
	if got != want {
		t.Fatalf("containerNameFor = %q, want %q", got, want)
	}
}

func TestAllocatePortScansFromStartPortWhenNoneRequested(t *testing.T) {
	port, err := allocatePort(0, 18000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port < 18000 {
		t.Fatalf("expected scanned port >= 18000, got %d", port)
	}
}

func TestAllocatePortFailsFastWhenRequestedIsTaken(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Skipf("cannot bind a test listener: %v", err)
	}
	defer ln.Close()
	taken := ln.Addr().(*net.TCPAddr).Port

	_, err = allocatePort(taken, 19000)
	if err == nil {
		t.Fatalf("expected allocatePort to fail fast on a busy requested port, got no error")
	}
}

type noopLister struct{}

func (noopLister) ListRunning(_ context.Context, _ string) ([]registry.ContainerInfo, error) {
	return nil, nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.Config{}
	cfg.Daemon.MaxConcurrentModels = 3
	cfg.Daemon.StartPort = 20000
	cfg.Daemon.ConfigDir = t.TempDir()

	reg := registry.New(noopLister{})
	driver := container.NewDriver(false)
	catalogClient := catalog.NewClient("http://127.0.0.1:1", 0)
	memCache := cache.NewMemoryCache(cache.DefaultOptions())
	catalogCache := cache.NewCatalogCache(memCache, cache.DefaultOptions().DefaultTTL)
	prober := &probe.FakeProber{Name: "Tesla T4"}

	return New(cfg, driver, catalogClient, catalogCache, reg, prober, t.TempDir(), nil)
}

func TestDeployFailsFastWithoutToken(t *testing.T) {
	m := newTestManager(t)
	result := m.Deploy(t.Context(), DeployRequest{ModelID: "org/model"})
	if result.Success {
		t.Fatal("expected deploy without a token to fail")
	}
}

func TestDeployFailsWhenConcurrencyBudgetExceeded(t *testing.T) {
	m := newTestManager(t)
	m.cfg.Daemon.MaxConcurrentModels = 0

	result := m.Deploy(t.Context(), DeployRequest{ModelID: "org/model", HFToken: "tok"})
	if result.Success {
		t.Fatal("expected deploy to fail when the concurrency budget is exhausted")
	}
	want := "Cannot deploy: 0 models already deployed (max: 0)"
	if result.Message != want {
		t.Fatalf("message = %q, want %q", result.Message, want)
	}
}

func TestDeployEmptyModelIDMatchesSpecLiteralMessage(t *testing.T) {
	m := newTestManager(t)
	result := m.Deploy(t.Context(), DeployRequest{})
	want := "model_id is required or contains only whitespace"
	if result.Message != want {
		t.Fatalf("message = %q, want %q", result.Message, want)
	}
}

func TestSpindownRequiresModelOrContainerID(t *testing.T) {
	m := newTestManager(t)
	result := m.Spindown(t.Context(), "", "")
	if result.Success {
		t.Fatal("expected spindown with no identifiers to fail")
	}
}

func TestSpindownUnknownModelFails(t *testing.T) {
	m := newTestManager(t)
	result := m.Spindown(t.Context(), "org/not-deployed", "")
	if result.Success {
		t.Fatal("expected spindown of an unregistered model to fail")
	}
}
