package backspace

import (
	"context"
	"fmt"

	"github.com/tinybackspace/backspace/internal/config"
	"github.com/tinybackspace/backspace/internal/generate"
	"github.com/tinybackspace/backspace/internal/github"
	"github.com/tinybackspace/backspace/internal/notify"
	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/internal/store"
)

// applyDefaults fills in missing components on the builder.
func applyDefaults(b *Builder) error {
	if b.config == nil {
		cfg, err := config.Load(context.Background())
		if err != nil {
			return err
		}
		b.config = cfg
	}
	cfg := b.config

	if b.store == nil {
		st, err := store.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	if b.bus == nil {
		b.bus = store.NewEventBus()
	}

	if b.runner == nil {
		runner, err := runnerFromConfig(cfg)
		if err != nil {
			return err
		}
		b.runner = runner
	}

	if b.providers == nil {
		b.providers = providersFromConfig(cfg)
	}

	if b.prs == nil {
		b.prs = github.NewClient(cfg.GitHubToken)
	}

	if b.notifier == nil && cfg.SlackEnabled() {
		b.notifier = notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel)
	}

	return nil
}

// runnerFromConfig picks the local Docker daemon or a remote one over SSH.
func runnerFromConfig(cfg *config.Config) (sandbox.Runner, error) {
	if cfg.SSHEnabled() {
		runner, err := sandbox.NewSSHRunner(sandbox.SSHConfig{
			Host:    cfg.SSHHost,
			User:    cfg.SSHUser,
			KeyPath: cfg.SSHKeyPath,
			Image:   cfg.DockerImage,
			Network: cfg.DockerNetwork,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing remote sandbox: %w", err)
		}
		return runner, nil
	}
	return sandbox.NewDockerRunner(cfg.DockerImage, cfg.DockerNetwork), nil
}

// providersFromConfig builds the generation chain from whichever API keys are
// set, in fallback priority order.
func providersFromConfig(cfg *config.Config) []generate.Provider {
	var providers []generate.Provider
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, generate.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel))
	}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, generate.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	}
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, generate.NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiModel))
	}
	return providers
}
