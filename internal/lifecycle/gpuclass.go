package lifecycle

import (
	"regexp"
	"strings"

	"blackbox/internal/registry"
)

// gpuClassOrder is the priority order spec.md §4.8 step 5 names for
// substring-matching a device name; the first match wins.
var gpuClassOrder = []string{"A100", "H100", "L40", "T4"}

// detectGPUClass substring-matches deviceName against the recognized
// classes, defaulting to T4 when none match.
func detectGPUClass(deviceName string) string {
	upper := strings.ToUpper(deviceName)
	for _, class := range gpuClassOrder {
		if strings.Contains(upper, class) {
			return class
		}
	}
	return "T4"
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// containerNameFor derives the container name the lifecycle registers
// deployments under: the registry's naming prefix plus the model id with
// every character outside [A-Za-z0-9] replaced one-for-one by a hyphen,
// case preserved (spec.md §8 invariant 7).
func containerNameFor(modelID string) string {
	return registry.NamePrefix + nonAlphanumeric.ReplaceAllString(modelID, "-")
}
