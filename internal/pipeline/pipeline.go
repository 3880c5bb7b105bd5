// Package pipeline runs one code-modification request end to end.
//
// A run is a strictly forward state machine: validate, sandbox, clone,
// analyze, read, generate, apply, branch, commit, push, pull request.
// Events stream out lazily in stage order and every run ends with exactly
// one summary event, success or not. The sandbox is destroyed exactly once
// on every exit path, including panics.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/tinybackspace/backspace/internal/apply"
	"github.com/tinybackspace/backspace/internal/generate"
	"github.com/tinybackspace/backspace/internal/gitops"
	"github.com/tinybackspace/backspace/internal/probe"
	"github.com/tinybackspace/backspace/internal/retry"
	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/model"
)

// destroyTimeout bounds teardown; by then the run's outcome is already
// decided, so teardown is attempted once and never retried.
const destroyTimeout = 30 * time.Second

// eventBuffer is the capacity of a run's outbound event channel.
const eventBuffer = 64

// Orchestrator sequences the pipeline components for each request.
type Orchestrator struct {
	runner    sandbox.Runner
	prober    *probe.Prober
	chain     *generate.Chain
	publisher *gitops.Publisher
	retryCfg  retry.Config
}

func New(runner sandbox.Runner, prober *probe.Prober, chain *generate.Chain, publisher *gitops.Publisher, retryCfg retry.Config) *Orchestrator {
	return &Orchestrator{
		runner:    runner,
		prober:    prober,
		chain:     chain,
		publisher: publisher,
		retryCfg:  retryCfg,
	}
}

// Run starts the pipeline for req and returns its ordered event stream.
// The channel closes after the terminal summary event. Run never panics
// through to the caller.
func (o *Orchestrator) Run(ctx context.Context, req *model.Request) <-chan model.StatusEvent {
	events := make(chan model.StatusEvent, eventBuffer)
	go func() {
		defer close(events)
		r := &run{
			o:     o,
			req:   req,
			em:    &emitter{requestID: req.ID, events: events},
			start: time.Now(),
		}
		defer func() {
			if p := recover(); p != nil {
				clog.FromContext(ctx).With("request_id", req.ID).With("panic", fmt.Sprint(p)).Error("run panicked")
				r.fail(fmt.Sprintf("internal error: %v", p))
			}
			r.teardown(ctx)
			r.summary()
		}()
		r.execute(ctx)
	}()
	return events
}

// run holds the mutable state of one pipeline execution.
type run struct {
	o         *Orchestrator
	req       *model.Request
	em        *emitter
	start     time.Time
	handle    *sandbox.Handle
	filesRead int
	applied   []string
	provider  string
	result    *model.PullRequestResult
	failure   string
}

func (r *run) execute(ctx context.Context) {
	r.em.advance(model.StageInit)
	r.em.info("starting run " + r.req.ID)

	r.em.advance(model.StageValidateInput)
	owner, repo, err := model.ParseRepoURL(r.req.RepoURL)
	if err != nil {
		r.fail("invalid repository URL: " + r.req.RepoURL)
		return
	}
	if strings.TrimSpace(r.req.Prompt) == "" {
		r.fail("prompt must not be empty")
		return
	}
	r.em.success(fmt.Sprintf("targeting %s/%s", owner, repo))

	note := func(typ model.EventType, msg string) { r.em.emit(typ, msg, nil) }

	r.em.advance(model.StageSandboxCreate)
	r.em.info("creating sandbox")
	handle, err := retry.Do(ctx, r.o.retryCfg, "sandbox create",
		func() (*sandbox.Handle, error) { return r.o.runner.Create(ctx, r.req.ID) },
		func(attempt int, err error) {
			r.em.info(fmt.Sprintf("sandbox create attempt %d failed: %v", attempt, err))
		})
	if err != nil {
		r.fail("sandbox creation failed: " + err.Error())
		return
	}
	r.handle = handle
	r.em.success("sandbox " + handle.ID + " ready")

	r.em.advance(model.StageClone)
	r.em.info("cloning " + r.req.RepoURL)
	if err := r.clone(ctx); err != nil {
		r.fail("clone failed: " + err.Error())
		return
	}
	r.em.success("repository cloned")

	r.em.advance(model.StageAnalyze)
	r.em.info("analyzing repository structure")
	paths, err := r.o.prober.Analyze(ctx, r.handle)
	if err != nil {
		r.em.warning("analysis failed: " + err.Error())
		paths = nil
	}
	r.em.success(fmt.Sprintf("found %d source files", len(paths)))

	r.em.advance(model.StageReadFiles)
	r.em.info("reading source files")
	files := r.o.prober.ReadSample(ctx, r.handle, paths, note)
	r.filesRead = len(files)
	r.em.success(fmt.Sprintf("read %d files", len(files)))

	repoCtx := &model.RepoContext{
		Files:     files,
		FileCount: len(paths),
		Languages: probe.DetectLanguages(paths),
	}

	r.em.advance(model.StageGenerate)
	r.em.info("generating edits")
	edits, provider, err := r.o.chain.Generate(ctx, r.req.Prompt, repoCtx, note)
	if err != nil {
		r.fail("generation failed: " + err.Error())
		return
	}
	r.provider = provider
	r.em.success(fmt.Sprintf("generated %d edits via %s", len(edits), provider))

	r.em.advance(model.StageApplyEdits)
	r.em.info(fmt.Sprintf("applying %d edits", len(edits)))
	res := apply.Apply(ctx, r.o.runner, r.handle, edits, note)
	r.applied = res.Applied
	r.em.success(fmt.Sprintf("applied %d edits", len(res.Applied)))

	result := r.o.publisher.Publish(ctx, r.handle, r.req.RepoURL, r.req.ID, r.req.Prompt, r.applied,
		func(stage model.Stage, msg string) {
			r.em.advance(stage)
			r.em.info(msg)
		})
	r.result = result
	if !result.Success {
		r.fail(result.Error)
		return
	}
	r.em.success("pull request opened: " + result.URL)

	r.em.advance(model.StageComplete)
	r.em.success("all changes published")
	clog.FromContext(ctx).With("request_id", r.req.ID).With("pr", result.URL).Info("run complete")
}

func (r *run) clone(ctx context.Context) error {
	// rm -rf keeps a retried attempt from tripping over a partial clone.
	command := fmt.Sprintf("rm -rf repo && git clone %q repo", r.req.RepoURL)
	_, err := retry.Do(ctx, r.o.retryCfg, "clone repository", func() (struct{}, error) {
		res, err := r.o.runner.Exec(ctx, r.handle, command)
		if err != nil {
			return struct{}{}, err
		}
		if res.ExitCode != 0 {
			return struct{}{}, fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		return struct{}{}, nil
	}, func(attempt int, err error) {
		r.em.info(fmt.Sprintf("clone attempt %d failed: %v", attempt, err))
	})
	return err
}

// fail records the authoritative cause and emits the Error event at the
// failing stage. The first failure wins.
func (r *run) fail(cause string) {
	if r.failure != "" {
		return
	}
	r.failure = cause
	r.em.error(cause)
}

// teardown destroys the sandbox exactly once, detached from the run's
// cancellation so a timed-out run still releases its container.
func (r *run) teardown(ctx context.Context) {
	if r.handle == nil {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
	defer cancel()
	if err := r.o.runner.Destroy(dctx, r.handle); err != nil {
		r.em.warning("sandbox cleanup failed: " + err.Error())
		return
	}
	r.em.info("sandbox " + r.handle.ID + " destroyed")
}

func (r *run) summary() {
	success := r.failure == ""
	extra := map[string]any{
		"success":       success,
		"repository":    r.req.RepoURL,
		"prompt":        r.req.Prompt,
		"filesRead":     r.filesRead,
		"filesModified": len(r.applied),
		"provider":      r.provider,
		"durationMs":    time.Since(r.start).Milliseconds(),
	}
	if r.handle != nil {
		extra["sandboxId"] = r.handle.ID
	}
	if success && r.result != nil {
		extra["branch"] = r.result.Branch
		extra["prUrl"] = r.result.URL
	}
	message := "run complete"
	if !success {
		extra["error"] = r.failure
		message = "run failed: " + r.failure
	}
	r.em.summary(success, message, extra)
}

// emitter serializes a run's events with monotonic stage and progress.
type emitter struct {
	requestID string
	events    chan<- model.StatusEvent
	stage     model.Stage
	progress  int
}

// advance moves to a later stage; it never moves backward.
func (e *emitter) advance(stage model.Stage) {
	if e.stage != "" && stage.Index() <= e.stage.Index() {
		return
	}
	e.stage = stage
	if p := stage.Progress(); p > e.progress {
		e.progress = p
	}
}

func (e *emitter) emit(typ model.EventType, message string, extra map[string]any) {
	e.events <- model.StatusEvent{
		Type:      typ,
		Message:   message,
		Stage:     e.stage,
		Progress:  e.progress,
		Timestamp: time.Now().UTC(),
		RequestID: e.requestID,
		Extra:     extra,
	}
}

func (e *emitter) info(msg string)    { e.emit(model.EventInfo, msg, nil) }
func (e *emitter) success(msg string) { e.emit(model.EventSuccess, msg, nil) }
func (e *emitter) warning(msg string) { e.emit(model.EventWarning, msg, nil) }
func (e *emitter) error(msg string)   { e.emit(model.EventError, msg, nil) }

// summary emits the terminal event. A failed run reports the failed stage
// with progress frozen where the run stopped.
func (e *emitter) summary(success bool, message string, extra map[string]any) {
	if success {
		e.stage = model.StageComplete
		e.progress = model.StageComplete.Progress()
	} else {
		e.stage = model.StageFailed
	}
	e.emit(model.EventSummary, message, extra)
}
