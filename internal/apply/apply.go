// Package apply writes generated file edits into the cloned repository
// inside a sandbox.
package apply

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/model"
)

// Note reports per-file progress and problems.
type Note func(typ model.EventType, message string)

// Result lists which edit paths landed and which did not. Only Applied
// paths count as modifications downstream.
type Result struct {
	Applied []string
	Failed  []string
}

// Apply writes each edit under the repository root in h. A failed write is
// reported and skipped, never fatal: the commit that follows includes
// whatever subset landed. note may be nil.
func Apply(ctx context.Context, runner sandbox.Runner, h *sandbox.Handle, edits []model.FileEdit, note Note) Result {
	if note == nil {
		note = func(model.EventType, string) {}
	}
	log := clog.FromContext(ctx)

	var res Result
	for _, edit := range edits {
		path := model.NormalizePath(edit.Path)
		if path == "" {
			note(model.EventWarning, fmt.Sprintf("skipping edit with unusable path %q", edit.Path))
			res.Failed = append(res.Failed, edit.Path)
			continue
		}
		if err := runner.WriteFile(ctx, h, "repo/"+path, []byte(edit.Content)); err != nil {
			note(model.EventWarning, fmt.Sprintf("could not apply %s: %v", path, err))
			log.With("path", path).With("error", err.Error()).Warn("edit failed")
			res.Failed = append(res.Failed, path)
			continue
		}
		note(model.EventInfo, "applied "+path)
		res.Applied = append(res.Applied, path)
	}

	log.With("applied", len(res.Applied)).With("failed", len(res.Failed)).Info("edits applied")
	return res
}
