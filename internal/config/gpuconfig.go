package config

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv2 "gopkg.in/yaml.v2"
)

// GPUProfile is a resolved per-GPU-class tuning file: the memory-utilization
// ceiling the daemon itself reasons about, plus every other top-level key in
// its original order so unrecognized knobs pass through opaquely to the
// rendered container command line (spec.md §6).
type GPUProfile struct {
	GPUClass              string
	MemoryUtilizationCeil float64
	Raw                   yamlv2.MapSlice
}

// defaultCeilingKeys is the fallback chain spec.md §4.8 step 6 specifies, in
// priority order.
var defaultCeilingKeys = []string{"gpu-memory-utilization", "gpu_memory_utilization", "max_gpu_utilization"}

const defaultMemoryUtilizationCeiling = 0.95

// LoadGPUProfile resolves configs/<gpuClass>.yaml under dir, falling back to
// configs/T4.yaml when gpuClass has no matching file. Unknown top-level keys
// are preserved via yaml.MapSlice, which — unlike koanf's Unmarshal — keeps
// both key order and keys this daemon has never heard of.
func LoadGPUProfile(dir, gpuClass string) (*GPUProfile, error) {
	path := filepath.Join(dir, gpuClass+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read gpu profile %s: %w", path, err)
		}
		fallback := filepath.Join(dir, "T4.yaml")
		data, err = os.ReadFile(fallback)
		if err != nil {
			return nil, fmt.Errorf("read fallback gpu profile %s: %w", fallback, err)
		}
		path = fallback
	}

	profile, err := ParseGPUProfile(gpuClass, data)
	if err != nil {
		return nil, fmt.Errorf("parse gpu profile %s: %w", path, err)
	}
	return profile, nil
}

// ParseGPUProfile parses a raw YAML document (e.g. a caller-supplied config
// override) into a GPUProfile without touching the filesystem.
func ParseGPUProfile(gpuClass string, data []byte) (*GPUProfile, error) {
	var raw yamlv2.MapSlice
	if err := yamlv2.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	profile := &GPUProfile{
		GPUClass:              gpuClass,
		MemoryUtilizationCeil: defaultMemoryUtilizationCeiling,
		Raw:                   raw,
	}

	for _, key := range defaultCeilingKeys {
		if v, ok := lookupFloat(raw, key); ok {
			profile.MemoryUtilizationCeil = v
			break
		}
	}

	return profile, nil
}

func lookupFloat(m yamlv2.MapSlice, key string) (float64, bool) {
	for _, item := range m {
		k, ok := item.Key.(string)
		if !ok || k != key {
			continue
		}
		switch v := item.Value.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		}
		return 0, false
	}
	return 0, false
}

// Render re-serializes the profile's raw key set back to YAML, preserving
// source order, for the container driver's config-file mount.
func (p *GPUProfile) Render() ([]byte, error) {
	return yamlv2.Marshal(p.Raw)
}

// WithCeiling returns a copy of the profile with its memory-utilization
// ceiling key overwritten (or appended, using the first of the recognized
// spellings, if absent) — the Optimization Controller's restart path writes
// one of these as a temporary config (spec.md §4.9).
func (p *GPUProfile) WithCeiling(v float64) *GPUProfile {
	raw := make(yamlv2.MapSlice, len(p.Raw))
	copy(raw, p.Raw)

	for i, item := range raw {
		if k, ok := item.Key.(string); ok {
			for _, ck := range defaultCeilingKeys {
				if k == ck {
					raw[i].Value = v
					return &GPUProfile{GPUClass: p.GPUClass, MemoryUtilizationCeil: v, Raw: raw}
				}
			}
		}
	}

	raw = append(raw, yamlv2.MapItem{Key: defaultCeilingKeys[0], Value: v})
	return &GPUProfile{GPUClass: p.GPUClass, MemoryUtilizationCeil: v, Raw: raw}
}
