// Package server provides the backspace HTTP API. POST /code submits a
// request and streams its run live over SSE; the read-only request endpoints
// replay stored history and follow in-flight runs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tinybackspace/backspace/internal/engine"
	"github.com/tinybackspace/backspace/internal/github"
	"github.com/tinybackspace/backspace/internal/store"
	"github.com/tinybackspace/backspace/model"
)

const (
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20
	// maxWebhookBytes caps webhook deliveries, which carry full GitHub
	// payloads.
	maxWebhookBytes = 10 << 20
	// maxPromptRunes caps the prompt length.
	maxPromptRunes = 10000
	// maxFeedbackRunes caps how much of a review comment is folded into a
	// follow-up prompt.
	maxFeedbackRunes = 4000
)

// Server is the backspace HTTP API server.
type Server struct {
	engine        *engine.Engine
	webhookSecret string
	router        chi.Router
}

// New creates a Server over the given engine.
func New(eng *engine.Engine) *Server {
	s := &Server{engine: eng}
	s.router = s.buildRouter()
	return s
}

// SetWebhookSecret enables signature verification on /webhooks/github.
// Passing the empty string leaves deliveries unverified.
func (s *Server) SetWebhookSecret(secret string) {
	s.webhookSecret = secret
}

// Router returns the HTTP router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully. In-flight event streams get the shutdown grace period to
// finish.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	clog.FromContext(ctx).With("addr", addr).Info("server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Streaming routes stay outside the timeout group: a run can legitimately
	// hold its SSE response open for minutes.
	r.Post("/code", s.handleCode)
	r.Get("/requests/{id}/events", s.handleRequestEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/webhooks/github", s.handleGitHubWebhook)
		r.Get("/requests", s.handleListRequests)
		r.Get("/requests/{id}", s.handleGetRequest)
		r.Get("/healthz", s.handleHealthz)
	})

	return r
}

// --- Request/Response types ---

type codeRequest struct {
	RepoURL string `json:"repoUrl"`
	Prompt  string `json:"prompt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type followUpResponse struct {
	ID     string `json:"id"`
	Branch string `json:"branch"`
}

// --- Handlers ---

// handleCode validates the submission, starts a run, and streams that run's
// ordered events as SSE until the summary event.
func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RepoURL = strings.TrimSpace(req.RepoURL)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repoUrl is required")
		return
	}
	if _, _, err := model.ParseRepoURL(req.RepoURL); err != nil {
		writeError(w, http.StatusBadRequest, "repoUrl must be a GitHub repository URL (https://github.com/owner/repo)")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if len([]rune(req.Prompt)) > maxPromptRunes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("prompt exceeds %d characters", maxPromptRunes))
		return
	}

	request, err := s.engine.Submit(r.Context(), req.RepoURL, req.Prompt)
	if err != nil {
		clog.FromContext(r.Context()).With("error", err).Error("creating request")
		writeError(w, http.StatusInternalServerError, "failed to create request")
		return
	}

	s.streamRequest(w, r, request.ID)
}

// handleGitHubWebhook turns reviewer feedback on a pull request this service
// opened into a follow-up run. The follow-up is an ordinary run on the same
// repository: fresh sandbox, own branch, own PR superseding the reviewed one.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)

	ev, err := github.ParseReviewEvent(r, s.webhookSecret)
	if err != nil {
		clog.FromContext(r.Context()).With("error", err).Warn("rejecting webhook")
		writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}
	// Bot comments are skipped so our own activity cannot feed back into
	// new runs.
	if ev == nil || strings.HasSuffix(ev.Author, "[bot]") {
		writeOK(w)
		return
	}

	prURL := fmt.Sprintf("https://github.com/%s/pull/%d", ev.Repo, ev.PRNumber)
	origin, err := s.engine.Store().GetRequestByPR(prURL)
	if err != nil {
		// Not a pull request this service opened.
		writeOK(w)
		return
	}

	req, err := s.engine.Submit(r.Context(), origin.RepoURL, followUpPrompt(origin, ev))
	if err != nil {
		clog.FromContext(r.Context()).With("error", err).Error("creating follow-up request")
		writeError(w, http.StatusInternalServerError, "failed to create follow-up request")
		return
	}
	clog.FromContext(r.Context()).With("request_id", req.ID).With("origin_id", origin.ID).
		With("pr", prURL).Info("follow-up run started from review feedback")

	writeJSON(w, http.StatusAccepted, followUpResponse{ID: req.ID, Branch: req.Branch})
}

// followUpPrompt folds reviewer feedback into a fresh prompt. The follow-up
// run clones the default branch again, so the original request rides along
// and the resulting pull request supersedes the reviewed one.
func followUpPrompt(origin *model.Request, ev *github.ReviewEvent) string {
	return fmt.Sprintf(
		"A reviewer commented on pull request #%d, opened for the request below.\n\n"+
			"Original request:\n%s\n\n"+
			"Reviewer feedback (@%s):\n%s\n\n"+
			"Redo the original request with the reviewer's feedback incorporated.",
		ev.PRNumber, origin.Prompt, ev.Author, model.Truncate(ev.Body, maxFeedbackRunes))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.engine.Store().ListRequests()
	if err != nil {
		clog.FromContext(r.Context()).With("error", err).Error("listing requests")
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if requests == nil {
		requests = []*model.Request{}
	}
	writeJSON(w, http.StatusOK, requests)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := s.engine.Store().GetRequest(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRequestEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.Store().GetRequest(id); err != nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	s.streamRequest(w, r, id)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- SSE streaming ---

// streamRequest writes the request's ordered event feed as SSE frames until
// the summary event or client disconnect. Subscribing before replaying the
// store, and dropping live events at or below the replayed sequence, makes
// the feed gapless without duplicates.
func (s *Server) streamRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := s.engine.Bus().Subscribe(requestID)
	defer s.engine.Bus().Unsubscribe(requestID, ch)

	events, err := s.engine.Store().GetEvents(requestID, 0)
	if err != nil {
		clog.FromContext(r.Context()).With("request_id", requestID).With("error", err).Warn("loading event history")
	}
	var lastSeq int64
	for _, ev := range events {
		writeSSE(w, ev)
		lastSeq = ev.Seq
		if ev.Type == model.EventSummary {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			writeSSE(w, ev)
			flusher.Flush()
			if ev.Type == model.EventSummary {
				return
			}
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeSSE(w http.ResponseWriter, ev *store.StoredEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
