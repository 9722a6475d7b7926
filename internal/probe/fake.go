package probe

// FakeProber is a test double satisfying Prober without requiring NVML or a
// physical GPU. Exported (not _test.go) so other packages' tests can use it
// directly, e.g. internal/aggregator's.
type FakeProber struct {
	Total, Used, Free uint64
	Procs             []ComputeProcess
	Name              string
	Err               error
}

func (f *FakeProber) TotalDeviceMemory() (uint64, uint64, uint64, error) {
	if f.Err != nil {
		return 0, 0, 0, f.Err
	}
	return f.Total, f.Used, f.Free, nil
}

func (f *FakeProber) ComputeProcesses() ([]ComputeProcess, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Procs, nil
}

func (f *FakeProber) DeviceName() (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Name, nil
}
