package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DockerRunner runs sandboxes on the local Docker daemon.
type DockerRunner struct {
	// Image is the sandbox container image. It must provide sh, git, find,
	// cat, and sleep.
	Image string
	// Network is an optional Docker network to attach containers to.
	Network string
}

// NewDockerRunner creates a Runner backed by the local Docker daemon.
func NewDockerRunner(image, network string) *DockerRunner {
	return &DockerRunner{Image: image, Network: network}
}

// Create starts a fresh sandbox container for the request.
func (d *DockerRunner) Create(ctx context.Context, requestID string) (*Handle, error) {
	name := "backspace-" + requestID
	args := []string{
		"run", "-d",
		"--name", name,
		"--label", "backspace.request=" + requestID,
		"-e", "GIT_TERMINAL_PROMPT=0",
	}
	if d.Network != "" {
		args = append(args, "--network", d.Network)
	}
	args = append(args, "--entrypoint", "sleep", d.Image, "infinity")

	cmd := exec.CommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("starting container: %w\noutput: %s", err, string(output))
	}
	h := &Handle{ID: name, ContainerID: strings.TrimSpace(string(output))}

	if _, err := d.Exec(ctx, h, "mkdir -p /workspace"); err != nil {
		_ = d.Destroy(ctx, h)
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}
	return h, nil
}

// Exec runs a shell command in the container's /workspace directory.
func (d *DockerRunner) Exec(ctx context.Context, h *Handle, command string) (*ExecResult, error) {
	if h == nil || h.destroyed {
		return nil, fmt.Errorf("sandbox %s is gone", handleName(h))
	}
	cmd := exec.CommandContext(ctx, "docker", "exec", h.ContainerID, "sh", "-c",
		"cd /workspace 2>/dev/null; "+command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("exec in container: %w", err)
	}
	return res, nil
}

// WriteFile writes data to path inside the container via stdin, creating
// parent directories first. The path is passed as a positional argument so
// shell metacharacters in generated paths stay inert.
func (d *DockerRunner) WriteFile(ctx context.Context, h *Handle, path string, data []byte) error {
	if h == nil || h.destroyed {
		return fmt.Errorf("sandbox %s is gone", handleName(h))
	}
	script := `cd /workspace && mkdir -p -- "$(dirname -- "$1")" && cat > "$1"`
	cmd := exec.CommandContext(ctx, "docker", "exec", "-i", h.ContainerID,
		"sh", "-c", script, "sh", path)
	cmd.Stdin = bytes.NewReader(data)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("writing %s: %w\noutput: %s", path, err, string(output))
	}
	return nil
}

// Destroy kills and removes the container. The handle is marked destroyed
// before the attempt; removal is never retried.
func (d *DockerRunner) Destroy(ctx context.Context, h *Handle) error {
	if h == nil || h.destroyed {
		return nil
	}
	h.destroyed = true

	// Kill the container (ignore error if already stopped).
	_ = exec.CommandContext(ctx, "docker", "kill", h.ContainerID).Run()

	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", h.ContainerID)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("removing container: %w\noutput: %s", err, string(output))
	}
	return nil
}

func handleName(h *Handle) string {
	if h == nil {
		return "<nil>"
	}
	return h.ID
}
