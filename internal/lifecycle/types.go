package lifecycle

// DeployRequest is the normalized input to Deploy (spec.md §4.8 step 1).
// ConfigOverride, when non-empty, is a raw YAML document that replaces the
// resolved GPU profile entirely.
type DeployRequest struct {
	ModelID          string
	HFToken          string
	RequestedPort    int
	GPUClassOverride string
	ConfigOverride   string
}

// DeployResult is Deploy's outcome. It is never accompanied by an error —
// the HTTP handler always answers 200 and surfaces Success/Message in the
// response body (spec.md §4.11).
type DeployResult struct {
	Success     bool
	Message     string
	ContainerID string
	Port        int
}

// SpindownResult is Spindown's outcome.
type SpindownResult struct {
	Success bool
	Message string
}
