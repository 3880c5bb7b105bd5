// Package github opens pull requests for completed runs and parses the
// review feedback GitHub delivers back on them.
package github

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	gogh "github.com/google/go-github/v68/github"
)

// Client wraps the GitHub REST API.
type Client struct {
	gh *gogh.Client
}

// NewClient creates a client authenticated with the given token. The same
// token authenticates the git push that precedes the pull request.
func NewClient(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// PROptions configures a new pull request.
type PROptions struct {
	Owner  string
	Repo   string
	Branch string // head branch carrying the changes
	Base   string // target branch; resolved to the repo default when empty
	Title  string
	Body   string
}

// CreatePR opens a pull request and returns its URL and number.
func (c *Client) CreatePR(ctx context.Context, opts PROptions) (string, int, error) {
	base := opts.Base
	if base == "" {
		base = c.resolveBase(ctx, opts.Owner, opts.Repo)
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, opts.Owner, opts.Repo, &gogh.NewPullRequest{
		Title: gogh.Ptr(opts.Title),
		Body:  gogh.Ptr(opts.Body),
		Head:  gogh.Ptr(opts.Branch),
		Base:  gogh.Ptr(base),
	})
	if err != nil {
		return "", 0, fmt.Errorf("creating pull request: %w", err)
	}
	return pr.GetHTMLURL(), pr.GetNumber(), nil
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}
	return r.GetDefaultBranch(), nil
}

// resolveBase falls back to "main" when the default branch cannot be
// determined; the create call will surface any real repo problem anyway.
func (c *Client) resolveBase(ctx context.Context, owner, repo string) string {
	branch, err := c.DefaultBranch(ctx, owner, repo)
	if err != nil || branch == "" {
		clog.FromContext(ctx).With("owner", owner).With("repo", repo).
			Warn("could not resolve default branch, using main")
		return "main"
	}
	return branch
}
