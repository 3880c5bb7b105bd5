// Package gitops publishes applied edits as a branch, commit, push, and
// pull request.
//
// The sequence short-circuits on the first failed step: a failed push never
// attempts a pull request, and the returned result never claims success for
// a partially published run. The push token is stripped from every error
// before it can reach an event stream or log line.
package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/tinybackspace/backspace/internal/github"
	"github.com/tinybackspace/backspace/internal/retry"
	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/model"
)

// PRCreator opens the pull request once the branch is pushed.
type PRCreator interface {
	CreatePR(ctx context.Context, opts github.PROptions) (string, int, error)
}

// Identity is the author recorded on generated commits.
type Identity struct {
	Name  string
	Email string
}

// Advance reports the publisher entering a stage-visible step.
type Advance func(stage model.Stage, message string)

// Publisher turns a sandbox working copy with applied edits into an open
// pull request.
type Publisher struct {
	runner   sandbox.Runner
	prs      PRCreator
	token    string
	identity Identity
	retryCfg retry.Config
}

func NewPublisher(runner sandbox.Runner, prs PRCreator, token string, identity Identity, retryCfg retry.Config) *Publisher {
	return &Publisher{
		runner:   runner,
		prs:      prs,
		token:    token,
		identity: identity,
		retryCfg: retryCfg,
	}
}

// Publish runs the full sequence against the clone inside h and reports the
// outcome. It never returns a success result with a missing pull request.
// advance may be nil.
func (p *Publisher) Publish(ctx context.Context, h *sandbox.Handle, repoURL, requestID, prompt string, applied []string, advance Advance) *model.PullRequestResult {
	if advance == nil {
		advance = func(model.Stage, string) {}
	}
	log := clog.FromContext(ctx)

	owner, repo, err := model.ParseRepoURL(repoURL)
	if err != nil {
		return p.failure(fmt.Errorf("parsing repo url: %w", err))
	}

	branch := "feature/" + requestID

	advance(model.StageGitBranch, "creating branch "+branch)
	if err := p.git(ctx, h, "configure identity",
		fmt.Sprintf("git config user.name %q && git config user.email %q", p.identity.Name, p.identity.Email)); err != nil {
		return p.failure(err)
	}
	if err := p.git(ctx, h, "create branch", fmt.Sprintf("git checkout -b %q", branch)); err != nil {
		return p.failure(err)
	}

	advance(model.StageGitCommit, fmt.Sprintf("committing %d changed files", len(applied)))
	message := "backspace: " + model.Truncate(prompt, 72)
	if err := p.git(ctx, h, "commit changes",
		fmt.Sprintf("git add -A && git commit -m %q", message)); err != nil {
		return p.failure(err)
	}

	advance(model.StageGitPush, "pushing "+branch)
	remote := fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", p.token, owner, repo)
	if err := p.git(ctx, h, "push branch",
		fmt.Sprintf("git remote set-url origin %q && git push -u origin %q", remote, branch)); err != nil {
		return p.failure(err)
	}

	advance(model.StagePRCreate, "opening pull request")
	pr, err := retry.Do(ctx, p.retryCfg, "open pull request", func() (prRef, error) {
		url, number, err := p.prs.CreatePR(ctx, github.PROptions{
			Owner:  owner,
			Repo:   repo,
			Branch: branch,
			Title:  "Apply changes: " + model.Truncate(prompt, 50),
			Body:   prBody(requestID, prompt, applied),
		})
		if err != nil {
			return prRef{}, fmt.Errorf("%s", p.redact(err.Error()))
		}
		return prRef{url: url, number: number}, nil
	}, nil)
	if err != nil {
		return p.failure(err)
	}

	log.With("branch", branch).With("pr", pr.url).Info("pull request opened")
	return &model.PullRequestResult{
		Success: true,
		URL:     pr.url,
		Branch:  branch,
		Number:  pr.number,
	}
}

type prRef struct {
	url    string
	number int
}

// git runs one git command in the repository clone under the retry budget.
// Errors are redacted before retry can log them.
func (p *Publisher) git(ctx context.Context, h *sandbox.Handle, name, command string) error {
	_, err := retry.Do(ctx, p.retryCfg, name, func() (struct{}, error) {
		res, err := p.runner.Exec(ctx, h, "cd repo && "+command)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s", p.redact(err.Error()))
		}
		if res.ExitCode != 0 {
			return struct{}{}, fmt.Errorf("exit %d: %s", res.ExitCode, p.redact(strings.TrimSpace(res.Stderr)))
		}
		return struct{}{}, nil
	}, nil)
	return err
}

func (p *Publisher) failure(err error) *model.PullRequestResult {
	return &model.PullRequestResult{Success: false, Error: p.redact(err.Error())}
}

func (p *Publisher) redact(s string) string {
	if p.token == "" {
		return s
	}
	return strings.ReplaceAll(s, p.token, "***")
}

func prBody(requestID, prompt string, applied []string) string {
	var b strings.Builder
	b.WriteString("## Automated change\n\n")
	fmt.Fprintf(&b, "**Request:** %s\n\n", prompt)
	b.WriteString("**Modified files:**\n")
	for _, path := range applied {
		fmt.Fprintf(&b, "- `%s`\n", path)
	}
	fmt.Fprintf(&b, "\nRequest ID: `%s`\n", requestID)
	return b.String()
}
