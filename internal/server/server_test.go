package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinybackspace/backspace/internal/engine"
	"github.com/tinybackspace/backspace/internal/generate"
	"github.com/tinybackspace/backspace/internal/github"
	"github.com/tinybackspace/backspace/internal/gitops"
	"github.com/tinybackspace/backspace/internal/pipeline"
	"github.com/tinybackspace/backspace/internal/probe"
	"github.com/tinybackspace/backspace/internal/retry"
	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/internal/store"
	"github.com/tinybackspace/backspace/model"
)

const validResponse = "```python:src/app.py\nprint('hello world')\n```"

// scriptRunner routes sandbox commands to canned results so a full run
// completes without Docker.
type scriptRunner struct {
	mu     sync.Mutex
	failOn string
}

func (r *scriptRunner) Create(_ context.Context, requestID string) (*sandbox.Handle, error) {
	return &sandbox.Handle{ID: "sbx-" + requestID}, nil
}

func (r *scriptRunner) Exec(_ context.Context, _ *sandbox.Handle, command string) (*sandbox.ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && strings.Contains(command, r.failOn) {
		return &sandbox.ExecResult{ExitCode: 1, Stderr: "scripted failure"}, nil
	}
	if strings.Contains(command, "find .") {
		return &sandbox.ExecResult{Stdout: "./main.py\n"}, nil
	}
	if strings.Contains(command, "head -c") {
		return &sandbox.ExecResult{Stdout: "print('hi')\n"}, nil
	}
	return &sandbox.ExecResult{}, nil
}

func (r *scriptRunner) WriteFile(_ context.Context, _ *sandbox.Handle, _ string, _ []byte) error {
	return nil
}

func (r *scriptRunner) Destroy(_ context.Context, _ *sandbox.Handle) error {
	return nil
}

type fakeProvider struct {
	name     string
	response string
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Complete(context.Context, string, string) (string, error) {
	return p.response, nil
}

type fakePR struct{}

func (f *fakePR) CreatePR(context.Context, github.PROptions) (string, int, error) {
	return "https://github.com/acme/widgets/pull/7", 7, nil
}

// testServer builds a Server over an engine wired to a real SQLite store and
// scripted sandbox. Runs complete in-process within milliseconds.
func testServer(t *testing.T, runner sandbox.Runner) *Server {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := retry.Config{MaxAttempts: 1}
	prober := probe.New(runner, 20, 5)
	chain := generate.NewChain([]generate.Provider{&fakeProvider{name: "alpha", response: validResponse}}, cfg)
	publisher := gitops.NewPublisher(runner, &fakePR{}, "tok", gitops.Identity{Name: "Backspace Bot", Email: "bot@backspace.dev"}, cfg)
	orch := pipeline.New(runner, prober, chain, publisher, cfg)
	eng := engine.New(st, store.NewEventBus(), orch, 30*time.Second)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })

	return New(eng)
}

// parseEvents decodes the SSE frames in a recorded response body.
func parseEvents(t *testing.T, body string) []model.StatusEvent {
	t.Helper()
	var events []model.StatusEvent
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("expected SSE data frame, got %q", frame)
		}
		var ev model.StatusEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev); err != nil {
			t.Fatalf("decoding event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHealthz(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "healthy" {
		t.Fatalf("expected status 'healthy', got %q", resp["status"])
	}
}

func TestCodeInvalidBody(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCodeMissingRepoURL(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	body := `{"prompt":"fix bug"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp errorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.Contains(resp.Error, "repoUrl is required") {
		t.Fatalf("expected repoUrl error, got %q", resp.Error)
	}
}

func TestCodeRejectsNonGitHubURL(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	body := `{"repoUrl":"https://gitlab.com/acme/widgets","prompt":"fix bug"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp errorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.Contains(resp.Error, "GitHub") {
		t.Fatalf("expected GitHub URL error, got %q", resp.Error)
	}
}

func TestCodeMissingPrompt(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	body := `{"repoUrl":"https://github.com/acme/widgets"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCodePromptTooLong(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	longPrompt := strings.Repeat("x", 10001)
	body := `{"repoUrl":"https://github.com/acme/widgets","prompt":"` + longPrompt + `"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCodeStreamsRunToCompletion(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	body := `{"repoUrl":"https://github.com/acme/widgets","prompt":"add input validation"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	events := parseEvents(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("expected a full event stream, got %d events", len(events))
	}
	last := events[len(events)-1]
	if last.Type != model.EventSummary {
		t.Fatalf("expected summary as last event, got %q", last.Type)
	}
	if success, _ := last.Extra["success"].(bool); !success {
		t.Fatalf("expected successful summary, got %q", last.Message)
	}
	if events[0].RequestID == "" {
		t.Fatal("expected request ID on events")
	}
	for i := 1; i < len(events); i++ {
		if events[i].RequestID != events[0].RequestID {
			t.Fatalf("expected one request per stream, got %q and %q", events[0].RequestID, events[i].RequestID)
		}
		if events[i].Progress < events[i-1].Progress {
			t.Fatalf("progress went backwards: %d after %d", events[i].Progress, events[i-1].Progress)
		}
	}
}

func TestCodeStreamsFailureSummary(t *testing.T) {
	s := testServer(t, &scriptRunner{failOn: "git clone"})

	body := `{"repoUrl":"https://github.com/acme/widgets","prompt":"add input validation"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	events := parseEvents(t, w.Body.String())
	if len(events) == 0 {
		t.Fatal("expected events for a failed run")
	}
	last := events[len(events)-1]
	if last.Type != model.EventSummary {
		t.Fatalf("expected summary as last event, got %q", last.Type)
	}
	if success, _ := last.Extra["success"].(bool); success {
		t.Fatal("expected failure summary")
	}
	if last.Stage != model.StageFailed {
		t.Fatalf("expected failed stage on summary, got %q", last.Stage)
	}
}

func TestListRequestsEmpty(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var requests []*model.Request
	json.NewDecoder(w.Body).Decode(&requests)
	if len(requests) != 0 {
		t.Fatalf("expected 0 requests, got %d", len(requests))
	}
}

func TestListRequestsAfterRun(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	body := `{"repoUrl":"https://github.com/acme/widgets","prompt":"add tests"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/requests", nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var requests []*model.Request
	json.NewDecoder(w.Body).Decode(&requests)
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0].RepoURL != "https://github.com/acme/widgets" {
		t.Fatalf("expected repo URL persisted, got %q", requests[0].RepoURL)
	}
	if requests[0].Status != model.StatusComplete {
		t.Fatalf("expected status complete, got %q", requests[0].Status)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	req := httptest.NewRequest(http.MethodGet, "/requests/nonexistent", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetRequestAfterRun(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	body := `{"repoUrl":"https://github.com/acme/widgets","prompt":"fix it"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	events := parseEvents(t, w.Body.String())
	if len(events) == 0 {
		t.Fatal("expected events")
	}
	id := events[0].RequestID

	req = httptest.NewRequest(http.MethodGet, "/requests/"+id, nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got model.Request
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != id {
		t.Fatalf("expected request ID %q, got %q", id, got.ID)
	}
	if got.Status != model.StatusComplete {
		t.Fatalf("expected status complete, got %q", got.Status)
	}
	if got.PRURL != "https://github.com/acme/widgets/pull/7" {
		t.Fatalf("expected PR URL recorded, got %q", got.PRURL)
	}
}

func TestRequestEventsNotFound(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	req := httptest.NewRequest(http.MethodGet, "/requests/nonexistent/events", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// prCommentBody builds an issue_comment webhook payload for a PR comment.
func prCommentBody(user, repo string, number int) string {
	return fmt.Sprintf(`{
		"action": "created",
		"issue": {"number": %d, "pull_request": {"url": "https://api.github.com/repos/%s/pulls/%d"}},
		"comment": {"body": "please add a docstring", "user": {"login": %q}},
		"repository": {"full_name": %q}
	}`, number, repo, number, user, repo)
}

func postWebhook(s *Server, event, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", event)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestWebhookIgnoresUnhandledEvent(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	w := postWebhook(s, "push", `{"ref": "refs/heads/main"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected plain ok, got %q", w.Body.String())
	}
}

func TestWebhookIgnoresUnknownPR(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	w := postWebhook(s, "issue_comment", prCommentBody("reviewer", "acme/widgets", 7))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a PR nobody here opened, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	rw := httptest.NewRecorder()
	s.Router().ServeHTTP(rw, req)
	var requests []*model.Request
	json.NewDecoder(rw.Body).Decode(&requests)
	if len(requests) != 0 {
		t.Fatalf("expected no follow-up run, got %d requests", len(requests))
	}
}

func TestWebhookIgnoresBotComment(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	w := postWebhook(s, "issue_comment", prCommentBody("backspace[bot]", "acme/widgets", 7))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a bot comment, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected plain ok, got %q", w.Body.String())
	}
}

func TestWebhookRejectsUnsignedDelivery(t *testing.T) {
	s := testServer(t, &scriptRunner{})
	s.SetWebhookSecret("hook-secret")

	w := postWebhook(s, "issue_comment", prCommentBody("reviewer", "acme/widgets", 7))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unsigned delivery, got %d", w.Code)
	}
}

func TestWebhookSpawnsFollowUpRun(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	body := `{"repoUrl":"https://github.com/acme/widgets","prompt":"improve logging"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	events := parseEvents(t, w.Body.String())
	if len(events) == 0 {
		t.Fatal("expected events from the original run")
	}
	originID := events[0].RequestID

	// The fake PR backend opens acme/widgets pull 7 for every run.
	w = postWebhook(s, "issue_comment", prCommentBody("reviewer", "acme/widgets", 7))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp followUpResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ID == "" || resp.ID == originID {
		t.Fatalf("expected a fresh request ID, got %q (origin %q)", resp.ID, originID)
	}
	if resp.Branch != "feature/"+resp.ID {
		t.Fatalf("expected branch derived from ID, got %q", resp.Branch)
	}

	// Following the new run's events blocks until its terminal summary.
	req = httptest.NewRequest(http.MethodGet, "/requests/"+resp.ID+"/events", nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	followUp := parseEvents(t, w.Body.String())
	if len(followUp) == 0 {
		t.Fatal("expected events from the follow-up run")
	}
	last := followUp[len(followUp)-1]
	if last.Type != model.EventSummary {
		t.Fatalf("expected summary as last event, got %q", last.Type)
	}
	if success, _ := last.Extra["success"].(bool); !success {
		t.Fatalf("expected follow-up run to succeed, got %q", last.Message)
	}

	req = httptest.NewRequest(http.MethodGet, "/requests/"+resp.ID, nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	var got model.Request
	json.NewDecoder(w.Body).Decode(&got)
	if !strings.Contains(got.Prompt, "improve logging") {
		t.Fatalf("expected the original request in the prompt, got %q", got.Prompt)
	}
	if !strings.Contains(got.Prompt, "please add a docstring") || !strings.Contains(got.Prompt, "@reviewer") {
		t.Fatalf("expected reviewer feedback in the prompt, got %q", got.Prompt)
	}
}

func TestRequestEventsReplaysCompletedRun(t *testing.T) {
	s := testServer(t, &scriptRunner{})

	body := `{"repoUrl":"https://github.com/acme/widgets","prompt":"fix it"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	live := parseEvents(t, w.Body.String())
	if len(live) == 0 {
		t.Fatal("expected events")
	}
	id := live[0].RequestID

	req = httptest.NewRequest(http.MethodGet, "/requests/"+id+"/events", nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	replayed := parseEvents(t, w.Body.String())
	if len(replayed) != len(live) {
		t.Fatalf("expected replay to match live stream, got %d events vs %d", len(replayed), len(live))
	}
	if replayed[len(replayed)-1].Type != model.EventSummary {
		t.Fatalf("expected summary as last replayed event, got %q", replayed[len(replayed)-1].Type)
	}
}
