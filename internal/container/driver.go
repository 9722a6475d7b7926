package container

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"blackbox/internal/logger"
	"blackbox/internal/telemetry"
)

// Driver spawns the local container runtime's CLI, tagging every invocation
// with a correlation id so a slow or hung child process can be traced through
// the daemon's own logs.
type Driver struct {
	binary string

	privOnce    sync.Once
	useSudo     bool
	forceSudo   bool // set by NewDriver(useSudo=true), skips the probe
}

// NewDriver builds a Driver for the "docker" binary. forceSudo short-circuits
// the privilege probe when the operator has already told us to elevate
// (spec.md §6's USE_SUDO_DOCKER); otherwise the probe decides once, lazily.
func NewDriver(forceSudo bool) *Driver {
	return &Driver{binary: "docker", forceSudo: forceSudo}
}

// ensurePrivilege runs the privilege probe exactly once per process lifetime
// (spec.md §9: "determine once at startup and cache").
func (d *Driver) ensurePrivilege(ctx context.Context) {
	d.privOnce.Do(func() {
		if d.forceSudo {
			d.useSudo = true
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		defer cancel()
		cmd := exec.CommandContext(probeCtx, d.binary, "ps")
		if err := cmd.Run(); err != nil {
			d.useSudo = true
			logger.WithComponent("container").Warn("docker ps failed unprivileged, switching to sudo", "error", err)
		}
	})
}

func (d *Driver) command(ctx context.Context, args ...string) *exec.Cmd {
	if d.useSudo {
		args = append([]string{d.binary}, args...)
		return exec.CommandContext(ctx, "sudo", args...)
	}
	return exec.CommandContext(ctx, d.binary, args...)
}

// run executes one spawn with a correlation id, returning trimmed stdout.
func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "container.run")
	defer span.End()

	d.ensurePrivilege(ctx)

	correlationID := uuid.NewString()
	log := logger.WithComponent("container").With("correlation_id", correlationID, "args", args)

	telemetry.SetAttributes(ctx, attribute.String("container.subcommand", subcommand(args)), attribute.String("container.correlation_id", correlationID))

	cmd := d.command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		log.Debug("container command failed", "error", err, "stderr", stderr.String())
		wrapped := fmt.Errorf("container command %v: %w: %s", args, err, strings.TrimSpace(stderr.String()))
		telemetry.SetError(ctx, wrapped)
		return "", wrapped
	}
	return strings.TrimSpace(stdout.String()), nil
}

// subcommand returns the docker verb (run/stop/rm/inspect/...) for span tagging.
func subcommand(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// ListRunning returns every running container whose name has the given
// prefix, cross-checked with Inspect(.State.Running) per deployment per
// spec.md §4.4's consistency requirement.
func (d *Driver) ListRunning(ctx context.Context, prefix string) ([]ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, ListTimeout)
	defer cancel()

	out, err := d.run(ctx, "ps",
		"--filter", "status=running",
		"--filter", "name="+prefix,
		"--format", "{{.ID}}\t{{.Names}}\t{{.Status}}\t{{.Ports}}",
	)
	if err != nil {
		return nil, err
	}

	var result []ContainerInfo
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		info := ContainerInfo{ID: fields[0], Name: fields[1], Status: fields[2]}
		if len(fields) > 3 {
			info.Ports = fields[3]
		}

		running, err := d.Inspect(ctx, info.ID, "{{.State.Running}}")
		if err != nil || running != "true" {
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// Inspect returns the value of one Go-template field for containerID.
func (d *Driver) Inspect(ctx context.Context, containerID, field string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	return d.run(ctx, "inspect", "--format", field, containerID)
}

// Run launches spec, returning the new container's id.
func (d *Driver) Run(ctx context.Context, spec RunSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ValidationTimeout)
	defer cancel()

	args := []string{"run", "-d", "--name", spec.Name}
	if spec.AttachGPU {
		args = append(args, "--gpus", "all")
	}
	if spec.HostPort != 0 {
		args = append(args, "-p", fmt.Sprintf("%d:%d", spec.HostPort, spec.ContainerPort))
	}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	for _, v := range spec.VolumeMounts {
		mount := fmt.Sprintf("%s:%s", v.HostPath, v.ContainerPath)
		if v.ReadOnly {
			mount += ":ro"
		}
		args = append(args, "-v", mount)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Args...)

	out, err := d.run(ctx, args...)
	if err != nil {
		return "", err
	}

	id := lastLine(out)
	if id == "" {
		// Ambiguous output: fall back to a name lookup (spec.md §4.8 step 11).
		running, lookupErr := d.ListRunning(ctx, spec.Name)
		if lookupErr == nil {
			for _, c := range running {
				if c.Name == spec.Name {
					return c.ID, nil
				}
			}
		}
		return "", fmt.Errorf("container run: could not determine container id")
	}
	return id, nil
}

// Stop stops name. Idempotent: a non-zero exit is tolerated.
func (d *Driver) Stop(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, ValidationTimeout)
	defer cancel()
	_, _ = d.run(ctx, "stop", name)
	return nil
}

// Remove removes name. Idempotent: a non-zero exit is tolerated.
func (d *Driver) Remove(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, ValidationTimeout)
	defer cancel()
	_, _ = d.run(ctx, "rm", "-f", name)
	return nil
}

// PullIfMissing pulls image only if it is not already present locally. Callers
// that want no deadline should pass a context without one; this method adds
// none of its own (spec.md §4.5: "unbounded only for pull").
func (d *Driver) PullIfMissing(ctx context.Context, image string) error {
	listCtx, cancel := context.WithTimeout(ctx, ListTimeout)
	out, err := d.run(listCtx, "images", "-q", image)
	cancel()
	if err == nil && strings.TrimSpace(out) != "" {
		return nil
	}

	_, err = d.run(ctx, "pull", image)
	return err
}

// Logs returns the last n lines of containerID's output.
func (d *Driver) Logs(ctx context.Context, containerID string, n int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ListTimeout)
	defer cancel()

	out, err := d.run(ctx, "logs", "--tail", strconv.Itoa(n), containerID)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
