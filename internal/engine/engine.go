// Package engine manages the lifecycle of code-modification requests. It
// persists each request, drives its pipeline run in a background goroutine,
// and fans the run's events out to the store and the live event bus.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/tinybackspace/backspace/internal/pipeline"
	"github.com/tinybackspace/backspace/internal/store"
	"github.com/tinybackspace/backspace/model"
)

// notifyTimeout bounds the terminal notification callback.
const notifyTimeout = 10 * time.Second

// Notifier is called once per run when it reaches its terminal state.
type Notifier interface {
	RunFinished(ctx context.Context, req *model.Request, summary *store.StoredEvent)
}

type noopNotifier struct{}

func (noopNotifier) RunFinished(context.Context, *model.Request, *store.StoredEvent) {}

// Engine accepts requests and runs them to completion in the background.
type Engine struct {
	store        *store.Store
	bus          *store.EventBus
	orchestrator *pipeline.Orchestrator
	runTimeout   time.Duration
	notifier     Notifier

	wg sync.WaitGroup
}

// New creates an Engine. Runs are bounded by runTimeout end to end.
func New(st *store.Store, bus *store.EventBus, orch *pipeline.Orchestrator, runTimeout time.Duration) *Engine {
	return &Engine{
		store:        st,
		bus:          bus,
		orchestrator: orch,
		runTimeout:   runTimeout,
		notifier:     noopNotifier{},
	}
}

// SetNotifier installs a terminal-state callback. Passing nil keeps the
// default no-op notifier.
func (e *Engine) SetNotifier(n Notifier) {
	if n != nil {
		e.notifier = n
	}
}

// Store returns the request store.
func (e *Engine) Store() *store.Store { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() *store.EventBus { return e.bus }

// Submit persists a new request and starts its run. The run is detached from
// the caller's cancellation: an HTTP client that disconnects mid-stream does
// not abort the pipeline, only the engine's run timeout does.
func (e *Engine) Submit(ctx context.Context, repoURL, prompt string) (*model.Request, error) {
	id := uuid.New().String()[:8]
	now := time.Now().UTC()

	req := &model.Request{
		ID:        id,
		RepoURL:   repoURL,
		Prompt:    prompt,
		Status:    model.StatusRunning,
		Branch:    "feature/" + id,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRequest(req); err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.runTimeout)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.process(rctx, req)
	}()

	return req, nil
}

// process drains the run's event stream into the store and bus. The request
// row is finalized before the summary is stored or published, so any client
// that observes the summary observes the terminal row.
func (e *Engine) process(ctx context.Context, req *model.Request) {
	log := clog.FromContext(ctx).With("request_id", req.ID)

	var summary *store.StoredEvent
	for ev := range e.orchestrator.Run(ctx, req) {
		stored := &store.StoredEvent{StatusEvent: ev}
		if ev.Type == model.EventSummary {
			summary = stored
			e.recordOutcome(ctx, req, stored)
		}
		if err := e.store.AddEvent(stored); err != nil {
			log.With("error", err).Error("storing event")
		}
		e.bus.Publish(req.ID, stored)
	}

	if summary != nil {
		// Notification runs detached so an expired run context does not
		// swallow it.
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		e.notifier.RunFinished(nctx, req, summary)
	}
}

// recordOutcome writes the run's terminal state onto the request row.
func (e *Engine) recordOutcome(ctx context.Context, req *model.Request, summary *store.StoredEvent) {
	success, _ := summary.Extra["success"].(bool)
	if success {
		req.Status = model.StatusComplete
		if branch, ok := summary.Extra["branch"].(string); ok {
			req.Branch = branch
		}
		if prURL, ok := summary.Extra["prUrl"].(string); ok {
			req.PRURL = prURL
		}
	} else {
		req.Status = model.StatusFailed
		if msg, ok := summary.Extra["error"].(string); ok {
			req.Error = msg
		}
	}
	if err := e.store.UpdateRequest(req); err != nil {
		clog.FromContext(ctx).With("request_id", req.ID).With("error", err).Error("updating request")
	}
}

// Shutdown waits for in-flight runs to finish or the context to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
