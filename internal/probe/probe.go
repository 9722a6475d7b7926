// Package probe wraps the GPU driver query library, reporting device-level
// VRAM usage and per-process compute memory for device index 0 (spec.md §4.1).
package probe

import (
	"errors"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// ErrProbeUnavailable is returned when the driver library is not present, or
// initialization returned a non-success code. Callers treat this as "report
// zeros, do not crash" (spec.md §7).
var ErrProbeUnavailable = errors.New("gpu probe unavailable")

// ComputeProcess is one process with an active compute context on the device.
type ComputeProcess struct {
	PID       int
	UsedBytes uint64
}

// Prober is the seam internal/aggregator depends on, so tests can inject a
// fake without a real GPU or NVML library present (spec.md §9's "mockable
// seam" guidance).
type Prober interface {
	TotalDeviceMemory() (total, used, free uint64, err error)
	ComputeProcesses() ([]ComputeProcess, error)
	DeviceName() (string, error)
}

// NVMLProbe is the production Prober, backed by NVML device index 0.
type NVMLProbe struct {
	once        sync.Once
	initErr     error
	device      nvml.Device
	initialized bool
}

// New constructs an NVMLProbe. Initialization is deferred to first use so
// that constructing one never fails by itself — only queries can.
func New() *NVMLProbe {
	return &NVMLProbe{}
}

func (p *NVMLProbe) ensureInit() error {
	p.once.Do(func() {
		if ret := nvml.Init(); ret != nvml.SUCCESS {
			p.initErr = ErrProbeUnavailable
			return
		}
		dev, ret := nvml.DeviceGetHandleByIndex(0)
		if ret != nvml.SUCCESS {
			p.initErr = ErrProbeUnavailable
			return
		}
		p.device = dev
		p.initialized = true
	})
	return p.initErr
}

// TotalDeviceMemory returns (total, used, free) bytes for device index 0.
func (p *NVMLProbe) TotalDeviceMemory() (total, used, free uint64, err error) {
	if err := p.ensureInit(); err != nil {
		return 0, 0, 0, err
	}
	mem, ret := p.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, 0, 0, ErrProbeUnavailable
	}
	return mem.Total, mem.Used, mem.Free, nil
}

// ComputeProcesses returns (pid, used-bytes) for every process holding an
// active compute context on device index 0.
func (p *NVMLProbe) ComputeProcesses() ([]ComputeProcess, error) {
	if err := p.ensureInit(); err != nil {
		return nil, err
	}
	procs, ret := p.device.GetComputeRunningProcesses()
	if ret != nvml.SUCCESS {
		return nil, ErrProbeUnavailable
	}

	out := make([]ComputeProcess, 0, len(procs))
	for _, proc := range procs {
		out = append(out, ComputeProcess{
			PID:       int(proc.Pid),
			UsedBytes: proc.UsedGpuMemory,
		})
	}
	return out, nil
}

// DeviceName returns device index 0's product name, e.g. "NVIDIA A100-SXM4-80GB",
// the raw material the Lifecycle Manager substring-matches for GPU-class
// detection (spec.md §4.8 step 5).
func (p *NVMLProbe) DeviceName() (string, error) {
	if err := p.ensureInit(); err != nil {
		return "", err
	}
	name, ret := p.device.GetName()
	if ret != nvml.SUCCESS {
		return "", ErrProbeUnavailable
	}
	return name, nil
}

// Shutdown releases the NVML library handle. Safe to call even if init failed.
func (p *NVMLProbe) Shutdown() error {
	if !p.initialized {
		return nil
	}
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return ErrProbeUnavailable
	}
	return nil
}
