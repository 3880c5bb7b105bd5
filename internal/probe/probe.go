// Package probe builds a structural snapshot of a cloned repository by
// running read-only commands inside its sandbox.
//
// The snapshot (file listing, language breakdown, sampled file contents)
// is what the generation chain sees, so the model works from real codebase
// context instead of just a repo name. Individual unreadable files degrade
// the snapshot, they never fail it.
package probe

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/model"
)

// sourcePatterns is the allow-list of file names surfaced to the model.
// Everything else in the repository stays invisible to generation.
var sourcePatterns = []string{"*.py", "*.js", "*.ts", "*.jsx", "*.tsx", "*.go", "*.md"}

// languageByExtension maps a sampled extension to the language reported in
// the snapshot.
var languageByExtension = map[string]string{
	".py":  "Python",
	".js":  "JavaScript",
	".jsx": "JavaScript",
	".ts":  "TypeScript",
	".tsx": "TypeScript",
	".go":  "Go",
	".md":  "Markdown",
}

// maxFileBytes caps how much of each sampled file is read.
const maxFileBytes = 4000

// Note reports file-level problems without failing the probe.
type Note func(typ model.EventType, message string)

// Prober lists and samples repository files inside a sandbox.
type Prober struct {
	runner      sandbox.Runner
	maxFiles    int
	sampleFiles int
}

// New creates a Prober that lists at most maxFiles paths and reads the
// first sampleFiles of them.
func New(runner sandbox.Runner, maxFiles, sampleFiles int) *Prober {
	return &Prober{runner: runner, maxFiles: maxFiles, sampleFiles: sampleFiles}
}

// Analyze lists candidate source files in the clone inside h, preserving
// find's order so later sampling stays deterministic. An empty repository
// yields an empty list, not an error.
func (p *Prober) Analyze(ctx context.Context, h *sandbox.Handle) ([]string, error) {
	res, err := p.runner.Exec(ctx, h, p.findCommand())
	if err != nil {
		return nil, fmt.Errorf("listing repository files: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("listing repository files: exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseFileList(res.Stdout), nil
}

// ReadSample reads the first few listed files for generation context.
// Unreadable files are reported through note and skipped. note may be nil.
func (p *Prober) ReadSample(ctx context.Context, h *sandbox.Handle, paths []string, note Note) map[string]string {
	if note == nil {
		note = func(model.EventType, string) {}
	}
	log := clog.FromContext(ctx)

	sample := paths
	if len(sample) > p.sampleFiles {
		sample = sample[:p.sampleFiles]
	}

	files := make(map[string]string, len(sample))
	for _, filePath := range sample {
		content, err := p.readFile(ctx, h, filePath)
		if err != nil {
			note(model.EventWarning, fmt.Sprintf("could not read %s: %v", filePath, err))
			log.With("path", filePath).With("error", err.Error()).Warn("file read failed")
			continue
		}
		files[filePath] = content
	}

	log.With("listed", len(paths)).With("sampled", len(files)).Info("repository sampled")
	return files
}

// DetectLanguages returns the distinct languages present in paths, sorted
// so the snapshot is stable across runs.
func DetectLanguages(paths []string) []string {
	seen := make(map[string]bool)
	for _, p := range paths {
		if lang, ok := languageByExtension[strings.ToLower(path.Ext(p))]; ok {
			seen[lang] = true
		}
	}
	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

func (p *Prober) findCommand() string {
	clauses := make([]string, 0, len(sourcePatterns))
	for _, pat := range sourcePatterns {
		clauses = append(clauses, fmt.Sprintf("-name '%s'", pat))
	}
	return fmt.Sprintf(
		"cd repo && find . -type f \\( %s \\) -not -path '*/node_modules/*' -not -path '*/.git/*' | head -%d",
		strings.Join(clauses, " -o "), p.maxFiles)
}

func (p *Prober) readFile(ctx context.Context, h *sandbox.Handle, filePath string) (string, error) {
	res, err := p.runner.Exec(ctx, h, fmt.Sprintf("cd repo && head -c %d %q", maxFileBytes, "./"+filePath))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// parseFileList turns find output into repo-relative paths.
func parseFileList(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		paths = append(paths, strings.TrimPrefix(line, "./"))
	}
	return paths
}
