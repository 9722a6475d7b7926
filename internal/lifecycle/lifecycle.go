// Package lifecycle implements the Deployment Lifecycle Manager (spec.md
// §4.8): Deploy and Spindown, the only operations that create or destroy
// inference-runtime containers.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"blackbox/internal/audit"
	"blackbox/internal/cache"
	"blackbox/internal/catalog"
	"blackbox/internal/config"
	"blackbox/internal/container"
	"blackbox/internal/logger"
	"blackbox/internal/metrics"
	"blackbox/internal/model"
	"blackbox/internal/probe"
	"blackbox/internal/registry"
)

const (
	inferenceImage = "vllm/vllm-openai:latest"
	containerPort  = 8000

	postRunGrace      = 1 * time.Second
	crashGraceDelay   = 5 * time.Second
	crashRecheckCount = 3
	crashRecheckGap   = 3 * time.Second
	pidRetryDelay     = 1 * time.Second
	healthCheckBudget = 2 * time.Second
	logTailLines      = 40

	hfCacheContainerPath = "/root/.cache/huggingface"
	configContainerPath  = "/configs/active.yaml"
)

// Manager implements Deploy and Spindown over the shared subsystems. One
// Manager is built at startup and shared across every HTTP request.
type Manager struct {
	cfg          *config.Config
	driver       *container.Driver
	catalog      *catalog.Client
	catalogCache *cache.CatalogCache
	registry     *registry.Registry
	prober       probe.Prober
	configDir    string
	hfCacheHost  string
	metrics      *metrics.Metrics

	deployGroup singleflight.Group
}

// New builds a Manager. hfCacheHostDir is the host path bind-mounted into
// every deployed container for the HF download cache. m may be nil, in which
// case domain metrics are skipped (mirrors httpapi's metricsMiddleware nil-guard).
func New(cfg *config.Config, driver *container.Driver, catalogClient *catalog.Client, catalogCache *cache.CatalogCache, reg *registry.Registry, prober probe.Prober, hfCacheHostDir string, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:          cfg,
		driver:       driver,
		catalog:      catalogClient,
		catalogCache: catalogCache,
		registry:     reg,
		prober:       prober,
		configDir:    cfg.Daemon.ConfigDir,
		hfCacheHost:  hfCacheHostDir,
		metrics:      m,
	}
}

// Deploy runs the full sequence spec.md §4.8 describes. Only one Deploy may
// be in flight for a given model id at a time; concurrent callers for the
// same id share the first call's result (spec.md §4.8: "block or fail fast").
func (m *Manager) Deploy(ctx context.Context, req DeployRequest) DeployResult {
	start := time.Now()
	modelID := strings.TrimSpace(req.ModelID)

	v, _, _ := m.deployGroup.Do(modelID, func() (any, error) {
		return m.deploy(ctx, req), nil
	})
	result := v.(DeployResult)
	duration := time.Since(start)

	entry := audit.NewEntry(audit.ActionDeploy).Model(modelID).Duration(duration)
	if result.Success {
		entry.Outcome(audit.OutcomeSuccess).Meta("container_id", result.ContainerID).Meta("port", result.Port)
	} else {
		entry.Outcome(audit.OutcomeFailure).Meta("message", result.Message)
	}
	_ = audit.LogEntry(ctx, entry.Build())

	if m.metrics != nil {
		m.metrics.RecordDeploy(result.Success, duration)
	}

	return result
}

func (m *Manager) deploy(ctx context.Context, req DeployRequest) DeployResult {
	log := logger.WithComponent("lifecycle")

	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		return DeployResult{Message: "model_id is required or contains only whitespace"}
	}

	token := strings.TrimSpace(req.HFToken)
	if token == "" {
		token = m.cfg.Daemon.HFToken
	}
	if token == "" {
		return DeployResult{Message: "no HF token provided in request or configured in environment"}
	}

	// List() prunes stale entries before Registry reports how many deployments
	// are actually still running, so the budget check sees reality rather than
	// leftover bookkeeping from crashed containers (spec.md §4.8 step 2).
	m.registry.List(ctx)
	if count, max := m.registry.Count(), m.cfg.Daemon.MaxConcurrentModels; count >= max {
		return DeployResult{Message: fmt.Sprintf("Cannot deploy: %d models already deployed (max: %d)", count, max)}
	}

	canonicalID, gated, err := m.validateCatalog(ctx, modelID, token)
	if err != nil {
		return DeployResult{Message: fmt.Sprintf("catalog validation failed: %v", err)}
	}
	if canonicalID != modelID {
		log.Info("catalog substituted canonical model id", "requested", modelID, "canonical", canonicalID)
	}
	modelID = canonicalID
	if gated {
		log.Info("deploying gated model", "model_id", modelID)
	}

	port, err := allocatePort(req.RequestedPort, m.cfg.Daemon.StartPort)
	if err != nil {
		return DeployResult{Message: err.Error()}
	}

	gpuClass := m.resolveGPUClass(req.GPUClassOverride)

	profile, err := m.resolveGPUProfile(gpuClass, req.ConfigOverride)
	if err != nil {
		return DeployResult{Message: fmt.Sprintf("load gpu profile: %v", err)}
	}

	tpSize := m.resolveTensorParallelSize()

	containerName := containerNameFor(modelID)

	if err := m.driver.PullIfMissing(ctx, inferenceImage); err != nil {
		return DeployResult{Message: fmt.Sprintf("pull inference image: %v", err)}
	}

	_ = m.driver.Stop(ctx, containerName)
	_ = m.driver.Remove(ctx, containerName)

	configPath, err := writeConfigFile(profile, containerName)
	if err != nil {
		return DeployResult{Message: fmt.Sprintf("write config file: %v", err)}
	}

	runSpec := container.RunSpec{
		Image:         inferenceImage,
		Name:          containerName,
		HostPort:      port,
		ContainerPort: containerPort,
		AttachGPU:     true,
		Env:           map[string]string{"HF_TOKEN": token},
		VolumeMounts: []container.VolumeMount{
			{HostPath: m.hfCacheHost, ContainerPath: hfCacheContainerPath},
			{HostPath: configPath, ContainerPath: configContainerPath, ReadOnly: true},
		},
		Args: []string{
			"--model", modelID,
			"--config-file", configContainerPath,
			"--host", "0.0.0.0",
			"--port", strconv.Itoa(containerPort),
			"--tensor-parallel-size", strconv.Itoa(tpSize),
			"--trust-remote-code",
		},
	}

	containerID, err := m.driver.Run(ctx, runSpec)
	if err != nil {
		return DeployResult{Message: fmt.Sprintf("run container: %v", err)}
	}

	time.Sleep(postRunGrace)
	if !m.isRunning(ctx, containerID) {
		log.Warn("container exited shortly after start", "model_id", modelID, "logs", m.tailLogs(ctx, containerID))
		return DeployResult{Message: "container exited shortly after start", ContainerID: containerID}
	}

	time.Sleep(crashGraceDelay)
	for i := 0; i < crashRecheckCount; i++ {
		if !m.isRunning(ctx, containerID) {
			log.Warn("container crashed after start", "model_id", modelID, "logs", m.tailLogs(ctx, containerID))
			return DeployResult{Message: "container crashed after start", ContainerID: containerID}
		}
		if i < crashRecheckCount-1 {
			time.Sleep(crashRecheckGap)
		}
	}

	// Best-effort: deployment is reported successful regardless of health-check
	// outcome — large models may still be loading (spec.md §4.8 step 14).
	if !m.probeHealth(ctx, port) {
		log.Debug("deployment running but not yet reporting healthy", "model_id", modelID, "port", port)
	}

	pid := m.resolvePID(ctx, containerID)

	m.registry.Register(modelID, containerName, containerID, port, profile.MemoryUtilizationCeil, gpuClass, pid)

	return DeployResult{Success: true, Message: "deployed", ContainerID: containerID, Port: port}
}

// Spindown stops and removes the deployment identified by modelID or
// containerName (at least one must be non-empty), unregistering it first so
// a racing Aggregator iteration never touches a half-torn-down record
// (spec.md §4.8).
func (m *Manager) Spindown(ctx context.Context, modelID, containerName string) SpindownResult {
	start := time.Now()
	result := m.spindown(ctx, modelID, containerName)

	entry := audit.NewEntry(audit.ActionSpindown).Model(modelID).Duration(time.Since(start))
	if result.Success {
		entry.Outcome(audit.OutcomeSuccess)
	} else {
		entry.Outcome(audit.OutcomeFailure).Meta("message", result.Message)
	}
	_ = audit.LogEntry(ctx, entry.Build())

	if m.metrics != nil {
		m.metrics.RecordSpindown(result.Success)
	}

	return result
}

func (m *Manager) spindown(ctx context.Context, modelID, containerName string) SpindownResult {
	modelID = strings.TrimSpace(modelID)
	containerName = strings.TrimSpace(containerName)

	if modelID == "" && containerName == "" {
		return SpindownResult{Message: "model_id or container_id is required"}
	}

	if containerName == "" {
		name, _, ok := m.registry.FindByModelID(modelID)
		if !ok {
			return SpindownResult{Message: fmt.Sprintf("no deployment registered for model %q", modelID)}
		}
		containerName = name
	}

	m.registry.Unregister(containerName)

	stopErr := m.driver.Stop(ctx, containerName)
	removeErr := m.driver.Remove(ctx, containerName)
	if stopErr != nil && removeErr != nil {
		return SpindownResult{Message: fmt.Sprintf("stop: %v; remove: %v", stopErr, removeErr)}
	}

	return SpindownResult{Success: true, Message: "spun down"}
}

func (m *Manager) validateCatalog(ctx context.Context, modelID, token string) (canonicalID string, gated bool, err error) {
	if cached, ok := m.catalogCache.Get(ctx, modelID); ok {
		return cached.CanonicalID, cached.Gated, nil
	}

	result, err := m.catalog.Validate(ctx, modelID, token)
	if err != nil {
		return "", false, err
	}

	cached := &model.CatalogValidationResult{CanonicalID: result.CanonicalID, Gated: result.Gated, Valid: true}
	_ = m.catalogCache.Set(ctx, modelID, cached)
	return result.CanonicalID, result.Gated, nil
}

func (m *Manager) resolveGPUClass(override string) string {
	if override != "" {
		return override
	}
	if m.cfg.Daemon.GPUType != "" {
		return m.cfg.Daemon.GPUType
	}
	name, err := m.prober.DeviceName()
	if err != nil {
		return "T4"
	}
	return detectGPUClass(name)
}

func (m *Manager) resolveGPUProfile(gpuClass, override string) (*config.GPUProfile, error) {
	if override != "" {
		return config.ParseGPUProfile(gpuClass, []byte(override))
	}
	return config.LoadGPUProfile(m.configDir, gpuClass)
}

func (m *Manager) resolveTensorParallelSize() int {
	deviceCount := 1 // device index 0 only (spec.md §4.1's probe scope)
	tp := m.cfg.Daemon.TensorParallelSize
	if tp <= 0 {
		return deviceCount
	}
	if tp > deviceCount {
		return deviceCount
	}
	return tp
}

func (m *Manager) isRunning(ctx context.Context, containerID string) bool {
	running, err := m.driver.Inspect(ctx, containerID, "{{.State.Running}}")
	return err == nil && running == "true"
}

func (m *Manager) tailLogs(ctx context.Context, containerID string) string {
	lines, err := m.driver.Logs(ctx, containerID, logTailLines)
	if err != nil {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (m *Manager) probeHealth(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:%d/health", m.cfg.Daemon.VLLMHost, port), nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (m *Manager) resolvePID(ctx context.Context, containerID string) int {
	pid := m.inspectPID(ctx, containerID)
	if pid == 0 {
		time.Sleep(pidRetryDelay)
		pid = m.inspectPID(ctx, containerID)
	}
	return pid
}

func (m *Manager) inspectPID(ctx context.Context, containerID string) int {
	out, err := m.driver.Inspect(ctx, containerID, "{{.State.Pid}}")
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0
	}
	return pid
}

func writeConfigFile(profile *config.GPUProfile, containerName string) (string, error) {
	data, err := profile.Render()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(os.TempDir(), "blackbox-configs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, containerName+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
