package probe

import "testing"

func TestFakeProberSatisfiesInterface(t *testing.T) {
	var _ Prober = (*FakeProber)(nil)
}

func TestFakeProberReturnsConfiguredValues(t *testing.T) {
	f := &FakeProber{Total: 100, Used: 40, Free: 60, Procs: []ComputeProcess{{PID: 1, UsedBytes: 10}}}

	total, used, free, err := f.TotalDeviceMemory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 100 || used != 40 || free != 60 {
		t.Fatalf("got (%d,%d,%d), want (100,40,60)", total, used, free)
	}

	procs, err := f.ComputeProcesses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(procs) != 1 || procs[0].PID != 1 || procs[0].UsedBytes != 10 {
		t.Fatalf("unexpected processes: %+v", procs)
	}
}

func TestFakeProberPropagatesError(t *testing.T) {
	f := &FakeProber{Err: ErrProbeUnavailable}
	if _, _, _, err := f.TotalDeviceMemory(); err != ErrProbeUnavailable {
		t.Fatalf("expected ErrProbeUnavailable, got %v", err)
	}
	if _, err := f.ComputeProcesses(); err != ErrProbeUnavailable {
		t.Fatalf("expected ErrProbeUnavailable, got %v", err)
	}
}
