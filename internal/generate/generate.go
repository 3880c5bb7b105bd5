// Package generate produces file edits from a change request using a chain of
// LLM providers with a deterministic local fallback.
//
// Providers are tried in priority order. Each remote call runs under the
// retry executor; the first provider whose response parses into at least one
// edit wins and later providers are never consulted. When every remote
// provider is exhausted the local fallback supplies edits, so the chain never
// returns an empty list.
package generate

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/tinybackspace/backspace/internal/retry"
	"github.com/tinybackspace/backspace/model"
)

// LocalProviderName identifies the deterministic fallback in summaries.
const LocalProviderName = "local"

// Provider is one remote text-generation backend.
type Provider interface {
	// Name identifies the provider in events and logs.
	Name() string
	// Complete sends a system and user prompt and returns the raw response text.
	Complete(ctx context.Context, system, user string) (string, error)
}

// Note is a progress detail surfaced while the chain runs: retry attempts,
// provider switches, parse failures.
type Note func(typ model.EventType, message string)

// Chain tries providers in order and degrades to the local fallback.
type Chain struct {
	providers []Provider
	retryCfg  retry.Config
}

// NewChain creates a fallback chain over the given providers. Order is
// priority order.
func NewChain(providers []Provider, retryCfg retry.Config) *Chain {
	return &Chain{providers: providers, retryCfg: retryCfg}
}

// Providers returns the configured provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers)+1)
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return append(names, LocalProviderName)
}

// Generate returns at least one edit unless ctx is cancelled. The returned
// string names the provider that produced the edits. note may be nil.
func (c *Chain) Generate(ctx context.Context, prompt string, repoCtx *model.RepoContext, note Note) ([]model.FileEdit, string, error) {
	if note == nil {
		note = func(model.EventType, string) {}
	}
	log := clog.FromContext(ctx)
	system := systemPrompt()
	user := userPrompt(prompt, repoCtx)

	for _, p := range c.providers {
		name := p.Name()
		raw, err := retry.Do(ctx, c.retryCfg, name+" generation",
			func() (string, error) { return p.Complete(ctx, system, user) },
			func(attempt int, err error) {
				note(model.EventInfo, fmt.Sprintf("%s attempt %d failed: %v", name, attempt, err))
			})
		if err != nil {
			note(model.EventWarning, fmt.Sprintf("%s failed: %v", name, err))
			continue
		}

		edits, err := ParseEdits(raw)
		if err != nil {
			note(model.EventWarning, fmt.Sprintf("%s returned no usable edits: %v", name, err))
			continue
		}
		log.With("provider", name).With("edits", len(edits)).Info("generation succeeded")
		return edits, name, nil
	}

	// A dead context means the run is being torn down; falling back locally
	// would only push the failure into a later stage.
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("generation cancelled: %w", err)
	}

	note(model.EventWarning, "all AI providers failed, using deterministic local fallback")
	edits := LocalEdits(prompt)
	log.With("provider", LocalProviderName).With("edits", len(edits)).Info("generation fell back")
	return edits, LocalProviderName, nil
}
