package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SSHConfig holds connection settings for a remote Docker host.
type SSHConfig struct {
	// Host is the remote host, optionally with port (e.g. "vps.example.com:22").
	Host string
	// User is the SSH user.
	User string
	// KeyPath is the path to the SSH private key file.
	KeyPath string
	// DockerBin is the path to docker on the remote host (default "docker").
	DockerBin string
	// Image is the sandbox container image on the remote host.
	Image string
	// Network is an optional Docker network on the remote host.
	Network string
}

// SSHRunner runs sandboxes on a remote host's Docker daemon over SSH. This
// keeps the disposable environment off the serving machine entirely: any VPS
// or cloud Docker host works without exposing its daemon.
type SSHRunner struct {
	config SSHConfig
}

// NewSSHRunner creates a Runner that drives Docker on a remote host.
func NewSSHRunner(cfg SSHConfig) (*SSHRunner, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh: Host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh: User is required")
	}
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("ssh: KeyPath is required")
	}
	if _, err := os.Stat(cfg.KeyPath); err != nil {
		return nil, fmt.Errorf("ssh: key file not found: %w", err)
	}
	if cfg.DockerBin == "" {
		cfg.DockerBin = "docker"
	}
	return &SSHRunner{config: cfg}, nil
}

// sshCmd builds an exec.Cmd that runs a command on the remote host via SSH.
func (r *SSHRunner) sshCmd(ctx context.Context, remoteCmd string) *exec.Cmd {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "BatchMode=yes",
		"-i", r.config.KeyPath,
		fmt.Sprintf("%s@%s", r.config.User, r.config.Host),
		remoteCmd,
	}
	return exec.CommandContext(ctx, "ssh", args...)
}

// docker runs a docker command on the remote host and returns combined output.
func (r *SSHRunner) docker(ctx context.Context, args string) (string, error) {
	cmd := r.sshCmd(ctx, r.config.DockerBin+" "+args)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// Create starts a fresh sandbox container on the remote host.
func (r *SSHRunner) Create(ctx context.Context, requestID string) (*Handle, error) {
	name := "backspace-" + requestID
	args := fmt.Sprintf("run -d --name %s --label backspace.request=%s -e GIT_TERMINAL_PROMPT=0",
		name, requestID)
	if r.config.Network != "" {
		args += " --network " + r.config.Network
	}
	args += " --entrypoint sleep " + r.config.Image + " infinity"

	output, err := r.docker(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("starting container: %w\noutput: %s", err, output)
	}
	h := &Handle{ID: name, ContainerID: strings.TrimSpace(output)}

	if _, err := r.Exec(ctx, h, "mkdir -p /workspace"); err != nil {
		_ = r.Destroy(ctx, h)
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}
	return h, nil
}

// Exec runs a shell command in the container's /workspace directory on the
// remote host.
func (r *SSHRunner) Exec(ctx context.Context, h *Handle, command string) (*ExecResult, error) {
	if h == nil || h.destroyed {
		return nil, fmt.Errorf("sandbox %s is gone", handleName(h))
	}
	remote := fmt.Sprintf("%s exec %s %s", r.config.DockerBin, h.ContainerID,
		quoteArgs([]string{"sh", "-c", "cd /workspace 2>/dev/null; " + command}))
	cmd := r.sshCmd(ctx, remote)

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
		return nil, fmt.Errorf("exec on %s: %w", r.config.Host, err)
	}
	return res, nil
}

// WriteFile streams data over SSH stdin into a file inside the container.
func (r *SSHRunner) WriteFile(ctx context.Context, h *Handle, path string, data []byte) error {
	if h == nil || h.destroyed {
		return fmt.Errorf("sandbox %s is gone", handleName(h))
	}
	script := `cd /workspace && mkdir -p -- "$(dirname -- "$1")" && cat > "$1"`
	remote := fmt.Sprintf("%s exec -i %s %s", r.config.DockerBin, h.ContainerID,
		quoteArgs([]string{"sh", "-c", script, "sh", path}))
	cmd := r.sshCmd(ctx, remote)
	cmd.Stdin = bytes.NewReader(data)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("writing %s: %w\noutput: %s", path, err, string(output))
	}
	return nil
}

// Destroy kills and removes the container on the remote host.
func (r *SSHRunner) Destroy(ctx context.Context, h *Handle) error {
	if h == nil || h.destroyed {
		return nil
	}
	h.destroyed = true

	_, _ = r.docker(ctx, "kill "+h.ContainerID)
	output, err := r.docker(ctx, "rm -f "+h.ContainerID)
	if err != nil {
		return fmt.Errorf("removing container: %w\noutput: %s", err, output)
	}
	return nil
}

// quoteArgs quotes command arguments for safe SSH transmission.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return strings.Join(quoted, " ")
}
