package container

import (
	"context"

	"blackbox/internal/registry"
)

// RegistryLister adapts a Driver to registry.ContainerLister, translating
// between the two packages' independent ContainerInfo shapes — the registry
// intentionally doesn't import this package, so the conversion lives here.
type RegistryLister struct {
	Driver *Driver
}

// ListRunning satisfies registry.ContainerLister.
func (l RegistryLister) ListRunning(ctx context.Context, prefix string) ([]registry.ContainerInfo, error) {
	running, err := l.Driver.ListRunning(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make([]registry.ContainerInfo, 0, len(running))
	for _, c := range running {
		out = append(out, registry.ContainerInfo{ID: c.ID, Name: c.Name})
	}
	return out, nil
}
