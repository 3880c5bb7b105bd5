// Package sandbox manages disposable Docker containers for backspace requests.
//
// A container lives for exactly one request: the pipeline creates it, clones
// and edits the repository inside it, and destroys it on the way out.
// Containers are never pooled or reused.
package sandbox

import "context"

// Handle identifies one live sandbox container. A handle is owned exclusively
// by the run that created it and is not safe for concurrent use.
type Handle struct {
	// ID is the request-scoped sandbox name (also the container name).
	ID string
	// ContainerID is the Docker container ID.
	ContainerID string

	destroyed bool
}

// Destroyed reports whether Destroy has already been attempted on the handle.
func (h *Handle) Destroyed() bool {
	return h == nil || h.destroyed
}

// ExecResult holds the outcome of one command run inside a sandbox.
// A nonzero exit code is not an error: Exec returns an error only when the
// command could not be run at all.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner creates and drives sandbox containers.
type Runner interface {
	// Create starts a fresh container for the request and returns its handle.
	Create(ctx context.Context, requestID string) (*Handle, error)
	// Exec runs a shell command in the container's /workspace directory.
	Exec(ctx context.Context, h *Handle, command string) (*ExecResult, error)
	// WriteFile writes data to path (relative to /workspace) inside the
	// container, creating parent directories as needed.
	WriteFile(ctx context.Context, h *Handle, path string, data []byte) error
	// Destroy kills and removes the container. Calling it again, or with a
	// nil handle, is a no-op.
	Destroy(ctx context.Context, h *Handle) error
}
