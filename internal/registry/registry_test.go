package registry

import (
	"context"
	"testing"
)

type fakeLister struct {
	running []ContainerInfo
	err     error
}

func (f *fakeLister) ListRunning(_ context.Context, _ string) ([]ContainerInfo, error) {
	return f.running, f.err
}

func TestRegisterAndGet(t *testing.T) {
	r := New(&fakeLister{})
	r.Register("org/model", "vllm-org-model", "abc123", 8000, 0.9, "T4", 4242)

	d, ok := r.Get("vllm-org-model")
	if !ok {
		t.Fatal("expected deployment to be registered")
	}
	if d.ModelID != "org/model" || d.Port != 8000 || !d.Running {
		t.Fatalf("unexpected deployment: %+v", d)
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New(&fakeLister{})
	r.Register("m", "vllm-m", "id1", 8000, 0.9, "T4", 1)
	r.Unregister("vllm-m")

	if _, ok := r.Get("vllm-m"); ok {
		t.Fatal("expected deployment to be removed")
	}
}

func TestPruneStaleRemovesDeadContainers(t *testing.T) {
	lister := &fakeLister{running: []ContainerInfo{{ID: "abc", Name: "vllm-alive"}}}
	r := New(lister)
	r.Register("alive", "vllm-alive", "abc", 8000, 0.9, "T4", 1)
	r.Register("dead", "vllm-dead", "def", 8001, 0.9, "T4", 2)

	r.PruneStale(t.Context())

	if _, ok := r.Get("vllm-alive"); !ok {
		t.Error("expected vllm-alive to survive pruning")
	}
	if _, ok := r.Get("vllm-dead"); ok {
		t.Error("expected vllm-dead to be pruned")
	}
}

func TestPortInUseDetectsCollision(t *testing.T) {
	r := New(&fakeLister{})
	r.Register("m1", "vllm-m1", "id1", 8000, 0.9, "T4", 1)

	if !r.PortInUse(8000) {
		t.Error("expected port 8000 to be in use")
	}
	if r.PortInUse(8001) {
		t.Error("expected port 8001 to be free")
	}
}

func TestRecordSampleCapsHistoryAtOneHundred(t *testing.T) {
	r := New(&fakeLister{})
	r.Register("m", "vllm-m", "id1", 8000, 0.9, "T4", 1)

	for i := 0; i < 150; i++ {
		r.RecordSample("vllm-m", float64(i))
	}

	d, _ := r.Get("vllm-m")
	if d.SampleCount() != 100 {
		t.Fatalf("expected sample count capped at 100, got %d", d.SampleCount())
	}
	if d.Peak() != 149 {
		t.Fatalf("expected peak 149, got %v", d.Peak())
	}
}

func TestRunningCountOnlyCountsRunningEntries(t *testing.T) {
	r := New(&fakeLister{})
	r.Register("m1", "vllm-m1", "id1", 8000, 0.9, "T4", 1)
	r.Register("m2", "vllm-m2", "id2", 8001, 0.9, "T4", 2)
	r.SetRunning("vllm-m2", false)

	if got := r.RunningCount(); got != 1 {
		t.Fatalf("RunningCount = %d, want 1", got)
	}
}
