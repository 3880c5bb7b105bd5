// Package config provides configuration management for the backspace server.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the backspace server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":8080").
	ServerAddr string `env:"BACKSPACE_ADDR,default=:8080"`

	// DataDir is the directory for persistent data (SQLite DB). Defaults to
	// ~/.backspace when unset.
	DataDir string `env:"BACKSPACE_DATA_DIR"`

	// DatabasePath is the full path to the SQLite database file. Derived from
	// DataDir in Load.
	DatabasePath string

	// GitHubToken is the personal access token for GitHub API operations and
	// for authenticating pushes from inside the sandbox.
	GitHubToken string `env:"GITHUB_TOKEN"`

	// GitHubWebhookSecret verifies inbound webhook signatures when set.
	GitHubWebhookSecret string `env:"BACKSPACE_GITHUB_WEBHOOK_SECRET"`

	// LLM provider API keys. A provider joins the fallback chain only when
	// its key is set.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`

	// Model names per provider.
	AnthropicModel string `env:"BACKSPACE_ANTHROPIC_MODEL,default=claude-sonnet-4-20250514"`
	OpenAIModel    string `env:"BACKSPACE_OPENAI_MODEL,default=gpt-4o"`
	GeminiModel    string `env:"BACKSPACE_GEMINI_MODEL,default=gemini-2.0-flash"`

	// DockerImage is the base sandbox Docker image name.
	DockerImage string `env:"BACKSPACE_DOCKER_IMAGE,default=backspace-sandbox"`

	// DockerNetwork is an optional Docker network for sandbox containers.
	DockerNetwork string `env:"BACKSPACE_DOCKER_NETWORK"`

	// Remote sandbox host (optional). When SSHHost is set, sandboxes run on
	// that host's Docker daemon over SSH instead of the local one.
	SSHHost    string `env:"BACKSPACE_SSH_HOST"`
	SSHUser    string `env:"BACKSPACE_SSH_USER,default=root"`
	SSHKeyPath string `env:"BACKSPACE_SSH_KEY"`

	// Git identity used for generated commits.
	GitUserName  string `env:"BACKSPACE_GIT_NAME,default=Backspace Bot"`
	GitUserEmail string `env:"BACKSPACE_GIT_EMAIL,default=bot@backspace.dev"`

	// RunTimeout bounds one whole pipeline run.
	RunTimeout time.Duration `env:"BACKSPACE_RUN_TIMEOUT,default=10m"`

	// Retry policy for sandbox, provider, git, and PR operations.
	RetryAttempts int           `env:"BACKSPACE_RETRY_ATTEMPTS,default=3"`
	RetryDelay    time.Duration `env:"BACKSPACE_RETRY_DELAY,default=2s"`

	// Repository probing bounds: at most MaxFiles enumerated, at most
	// SampleFiles read for generation context.
	MaxFiles    int `env:"BACKSPACE_MAX_FILES,default=20"`
	SampleFiles int `env:"BACKSPACE_SAMPLE_FILES,default=5"`

	// Slack notifications (optional).
	SlackBotToken string `env:"SLACK_BOT_TOKEN"`
	SlackChannel  string `env:"SLACK_CHANNEL"`
}

// Load creates a Config from environment variables with sensible defaults.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.DatabasePath = filepath.Join(cfg.DataDir, "backspace.db")
	return &cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" && c.GeminiAPIKey == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY is required")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("BACKSPACE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.MaxFiles < 1 || c.SampleFiles < 1 {
		return fmt.Errorf("BACKSPACE_MAX_FILES and BACKSPACE_SAMPLE_FILES must be at least 1")
	}
	return nil
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// SSHEnabled returns true if sandboxes should run on a remote Docker host.
func (c *Config) SSHEnabled() bool {
	return c.SSHHost != ""
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".backspace"
	}
	return filepath.Join(home, ".backspace")
}
