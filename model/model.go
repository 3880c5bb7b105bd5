// Package model defines the core domain types shared across all backspace packages.
// It has zero dependencies on other backspace packages.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status represents the current state of a request.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Stage identifies a step of the code-modification pipeline. Stages advance
// strictly forward; StageFailed is reachable from any non-terminal stage.
type Stage string

const (
	StageInit          Stage = "init"
	StageValidateInput Stage = "validate_input"
	StageSandboxCreate Stage = "sandbox_create"
	StageClone         Stage = "clone"
	StageAnalyze       Stage = "analyze"
	StageReadFiles     Stage = "read_files"
	StageGenerate      Stage = "generate"
	StageApplyEdits    Stage = "apply_edits"
	StageGitBranch     Stage = "git_branch"
	StageGitCommit     Stage = "git_commit"
	StageGitPush       Stage = "git_push"
	StagePRCreate      Stage = "pr_create"
	StageComplete      Stage = "complete"
	StageFailed        Stage = "failed"
)

// stageOrder lists every stage except StageFailed in execution order.
var stageOrder = []Stage{
	StageInit,
	StageValidateInput,
	StageSandboxCreate,
	StageClone,
	StageAnalyze,
	StageReadFiles,
	StageGenerate,
	StageApplyEdits,
	StageGitBranch,
	StageGitCommit,
	StageGitPush,
	StagePRCreate,
	StageComplete,
}

// stageProgress maps each stage to the percent complete reported on reaching it.
// StageFailed is absent: a failed run freezes at the last reported value.
var stageProgress = map[Stage]int{
	StageInit:          5,
	StageValidateInput: 10,
	StageSandboxCreate: 20,
	StageClone:         35,
	StageAnalyze:       50,
	StageReadFiles:     60,
	StageGenerate:      75,
	StageApplyEdits:    85,
	StageGitBranch:     88,
	StageGitCommit:     90,
	StageGitPush:       93,
	StagePRCreate:      97,
	StageComplete:      100,
}

// Index returns the stage's position in the forward order, or -1 for StageFailed
// and unknown values.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Progress returns the percent complete associated with the stage.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// EventType classifies a StatusEvent.
type EventType string

const (
	EventInfo    EventType = "info"
	EventSuccess EventType = "success"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
	// EventSummary is emitted exactly once per run, always last.
	EventSummary EventType = "summary"
)

// Request represents a single code-modification request.
type Request struct {
	ID        string    `json:"id"`
	RepoURL   string    `json:"repoUrl"`
	Prompt    string    `json:"prompt"`
	Status    Status    `json:"status"`
	Branch    string    `json:"branch,omitempty"`
	PRURL     string    `json:"prUrl,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusEvent is one entry in a request's ordered progress feed.
type StatusEvent struct {
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	Stage     Stage          `json:"stage"`
	Progress  int            `json:"progress"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"requestId"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// FileEdit is one generated file modification. Path is always in normalized
// form: repository-relative, no leading slash, no working-copy prefix.
type FileEdit struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// RepoContext is the repository snapshot fed to the generation chain.
type RepoContext struct {
	Files     map[string]string `json:"files"`
	FileCount int               `json:"fileCount"`
	Languages []string          `json:"languages"`
}

// PullRequestResult is the terminal artifact of the publisher.
type PullRequestResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Number  int    `json:"number,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NormalizePath converts a generated file path into repository-relative form:
// surrounding whitespace removed, every leading "/" and "repo/" segment
// stripped in any interleaving. Normalizing an already-normalized path is a
// no-op.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	for {
		switch {
		case strings.HasPrefix(p, "/"):
			p = strings.TrimPrefix(p, "/")
		case strings.HasPrefix(p, "repo/"):
			p = strings.TrimPrefix(p, "repo/")
		default:
			return p
		}
	}
}

var repoURLPattern = regexp.MustCompile(`^https://github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)/?$`)

// ParseRepoURL extracts owner and repository name from a GitHub HTTPS URL.
// Accepts an optional ".git" suffix and trailing slash; anything that is not
// a plain https://github.com/<owner>/<repo> URL is rejected.
func ParseRepoURL(rawURL string) (owner, repo string, err error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil {
		return "", "", fmt.Errorf("not a GitHub repository URL: %q", rawURL)
	}
	owner = m[1]
	repo = strings.TrimSuffix(m[2], ".git")
	if repo == "" {
		return "", "", fmt.Errorf("not a GitHub repository URL: %q", rawURL)
	}
	return owner, repo, nil
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
