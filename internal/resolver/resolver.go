// Package resolver maps a GPU compute process id to the Deployment that owns
// it, by inspecting the process's cgroup membership (spec.md §4.3).
package resolver

import (
	"strings"

	"github.com/prometheus/procfs"
)

const dockerCgroupMarker = "/docker/"

// ContainerIDPrefix extracts the container id prefix from pid's cgroup file,
// returning "" if pid has no docker cgroup entry (e.g. the process exited,
// or runs outside a container).
func ContainerIDPrefix(pid int) (string, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return "", err
	}

	groups, err := proc.Cgroups()
	if err != nil {
		return "", err
	}

	for _, g := range groups {
		if idx := strings.Index(g.Path, dockerCgroupMarker); idx != -1 {
			rest := g.Path[idx+len(dockerCgroupMarker):]
			if end := strings.IndexByte(rest, '/'); end != -1 {
				rest = rest[:end]
			}
			if rest != "" {
				return rest, nil
			}
		}
	}
	return "", nil
}

// Resolve matches a cgroup-derived container id prefix against knownContainerIDs
// via a bidirectional startsWith check — either the cgroup-derived prefix or
// the runtime-reported id may be the longer (truncated) string.
func Resolve(cgroupPrefix string, knownContainerIDs []string) (string, bool) {
	if cgroupPrefix == "" {
		return "", false
	}
	for _, id := range knownContainerIDs {
		if strings.HasPrefix(id, cgroupPrefix) || strings.HasPrefix(cgroupPrefix, id) {
			return id, true
		}
	}
	return "", false
}
