// Package backspace is the top-level entry point for the backspace service.
//
// Use the Builder to compose a backspace application:
//
//	app, err := backspace.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize components:
//
//	app, err := backspace.NewBuilder().
//	    WithRunner(myRunner).
//	    WithProviders(myProvider).
//	    Build()
package backspace

import (
	"context"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/tinybackspace/backspace/internal/config"
	"github.com/tinybackspace/backspace/internal/engine"
	"github.com/tinybackspace/backspace/internal/generate"
	"github.com/tinybackspace/backspace/internal/gitops"
	"github.com/tinybackspace/backspace/internal/pipeline"
	"github.com/tinybackspace/backspace/internal/probe"
	"github.com/tinybackspace/backspace/internal/retry"
	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/internal/server"
	"github.com/tinybackspace/backspace/internal/store"
)

// drainTimeout bounds how long Start waits for in-flight runs after the HTTP
// server has stopped.
const drainTimeout = 30 * time.Second

// Builder constructs a backspace App.
type Builder struct {
	config    *config.Config
	store     *store.Store
	bus       *store.EventBus
	runner    sandbox.Runner
	providers []generate.Provider
	prs       gitops.PRCreator
	notifier  engine.Notifier
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the request store implementation.
func (b *Builder) WithStore(st *store.Store) *Builder {
	b.store = st
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus *store.EventBus) *Builder {
	b.bus = bus
	return b
}

// WithRunner sets the sandbox runner implementation.
func (b *Builder) WithRunner(r sandbox.Runner) *Builder {
	b.runner = r
	return b
}

// WithProviders sets the generation providers in priority order. The
// deterministic local fallback always sits behind them.
func (b *Builder) WithProviders(providers ...generate.Provider) *Builder {
	b.providers = providers
	return b
}

// WithPRCreator sets the pull request backend.
func (b *Builder) WithPRCreator(prs gitops.PRCreator) *Builder {
	b.prs = prs
	return b
}

// WithNotifier sets a callback fired once per run on its terminal state.
func (b *Builder) WithNotifier(n engine.Notifier) *Builder {
	b.notifier = n
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}
	cfg := b.config

	retryCfg := retry.Config{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}
	prober := probe.New(b.runner, cfg.MaxFiles, cfg.SampleFiles)
	chain := generate.NewChain(b.providers, retryCfg)
	publisher := gitops.NewPublisher(b.runner, b.prs, cfg.GitHubToken,
		gitops.Identity{Name: cfg.GitUserName, Email: cfg.GitUserEmail}, retryCfg)
	orch := pipeline.New(b.runner, prober, chain, publisher, retryCfg)

	eng := engine.New(b.store, b.bus, orch, cfg.RunTimeout)
	eng.SetNotifier(b.notifier)

	srv := server.New(eng)
	srv.SetWebhookSecret(cfg.GitHubWebhookSecret)

	return &App{
		config: cfg,
		engine: eng,
		server: srv,
	}, nil
}

// App is a running backspace application.
type App struct {
	config *config.Config
	engine *engine.Engine
	server *server.Server
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP handler, for embedding or tests.
func (a *App) Handler() http.Handler { return a.server.Router() }

// Start runs the HTTP server until ctx is done, then drains in-flight runs
// and closes the store.
func (a *App) Start(ctx context.Context) error {
	err := a.server.Start(ctx, a.config.ServerAddr)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := a.engine.Shutdown(drainCtx); derr != nil {
		clog.FromContext(ctx).Warn("shut down with runs still in flight")
	}

	closeErr := a.engine.Store().Close()
	if err != nil {
		return err
	}
	return closeErr
}
