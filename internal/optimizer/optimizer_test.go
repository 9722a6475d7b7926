package optimizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"blackbox/internal/lifecycle"
	"blackbox/internal/registry"
)

// runningLister reports the named containers as running, so PruneStale keeps
// the registry entries registered under those names.
type runningLister []string

func (l runningLister) ListRunning(_ context.Context, _ string) ([]registry.ContainerInfo, error) {
	out := make([]registry.ContainerInfo, 0, len(l))
	for _, name := range l {
		out = append(out, registry.ContainerInfo{Name: name})
	}
	return out, nil
}

type fakeDeployer struct {
	spindownCalls []string
	deployCalls   []lifecycle.DeployRequest
	deploySuccess bool
}

func (f *fakeDeployer) Spindown(_ context.Context, modelID, containerName string) lifecycle.SpindownResult {
	f.spindownCalls = append(f.spindownCalls, containerName)
	return lifecycle.SpindownResult{Success: true}
}

func (f *fakeDeployer) Deploy(_ context.Context, req lifecycle.DeployRequest) lifecycle.DeployResult {
	f.deployCalls = append(f.deployCalls, req)
	return lifecycle.DeployResult{Success: f.deploySuccess, ContainerID: "new-id", Port: 8001}
}

func newConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "T4.yaml"), []byte("gpu-memory-utilization: 0.9\nmax-model-len: 4096\n"), 0o644)
	if err != nil {
		t.Fatalf("write fixture config: %v", err)
	}
	return dir
}

func TestOptimizeRestartsUnderutilizedDeployment(t *testing.T) {
	reg := registry.New(runningLister{"vllm-org-a"})
	reg.Register("org/a", "vllm-org-a", "c1", 8000, 0.9, "T4", 1)
	for i := 0; i < 15; i++ {
		reg.RecordSample("vllm-org-a", 20) // well under 0.9*100*0.7=63
	}

	deployer := &fakeDeployer{deploySuccess: true}
	ctrl := New(reg, deployer, newConfigDir(t), nil)

	restarted := ctrl.Optimize(t.Context())

	if len(restarted) != 1 || restarted[0] != "vllm-org-a" {
		t.Fatalf("expected vllm-org-a to be restarted, got %v", restarted)
	}
	if len(deployer.spindownCalls) != 1 {
		t.Fatalf("expected one spindown call, got %d", len(deployer.spindownCalls))
	}
	if len(deployer.deployCalls) != 1 {
		t.Fatalf("expected one deploy call, got %d", len(deployer.deployCalls))
	}
	if deployer.deployCalls[0].ConfigOverride == "" {
		t.Fatal("expected a rendered config override to be passed to Deploy")
	}
}

func TestOptimizeSkipsDeploymentsWithFewerThanTenSamples(t *testing.T) {
	reg := registry.New(runningLister{"vllm-org-b"})
	reg.Register("org/b", "vllm-org-b", "c2", 8000, 0.9, "T4", 1)
	for i := 0; i < 5; i++ {
		reg.RecordSample("vllm-org-b", 1)
	}

	deployer := &fakeDeployer{deploySuccess: true}
	ctrl := New(reg, deployer, newConfigDir(t), nil)

	restarted := ctrl.Optimize(t.Context())
	if len(restarted) != 0 {
		t.Fatalf("expected no restarts, got %v", restarted)
	}
}

func TestOptimizeSkipsDeploymentsAboveThreshold(t *testing.T) {
	reg := registry.New(runningLister{"vllm-org-c"})
	reg.Register("org/c", "vllm-org-c", "c3", 8000, 0.9, "T4", 1)
	for i := 0; i < 15; i++ {
		reg.RecordSample("vllm-org-c", 90) // well above 63 threshold
	}

	deployer := &fakeDeployer{deploySuccess: true}
	ctrl := New(reg, deployer, newConfigDir(t), nil)

	restarted := ctrl.Optimize(t.Context())
	if len(restarted) != 0 {
		t.Fatalf("expected no restarts, got %v", restarted)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		v, lo, hi, want float64
	}{
		{0.05, 0.1, 0.95, 0.1},
		{0.5, 0.1, 0.95, 0.5},
		{0.99, 0.1, 0.95, 0.95},
	}
	for _, c := range cases {
		if got := clamp(c.v, c.lo, c.hi); got != c.want {
			t.Errorf("clamp(%v, %v, %v) = %v, want %v", c.v, c.lo, c.hi, got, c.want)
		}
	}
}
