package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ReviewEvent is reviewer feedback on a pull request, extracted from a
// GitHub webhook delivery.
type ReviewEvent struct {
	// Repo is the full repository name ("owner/repo").
	Repo string

	// PRNumber is the pull request the feedback was left on.
	PRNumber int

	// Author is the GitHub login of the reviewer.
	Author string

	// Body is the feedback text.
	Body string
}

// webhookPayload covers the fields shared by the comment and review event
// shapes. Fields absent from a given event type stay zero.
type webhookPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int       `json:"number"`
		PullRequest *struct{} `json:"pull_request"`
	} `json:"issue"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Comment struct {
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Review struct {
		Body  string `json:"body"`
		State string `json:"state"`
		User  struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"review"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// ParseReviewEvent extracts reviewer feedback from a webhook request. It
// handles newly created PR comments ("issue_comment" on a pull request,
// "pull_request_review_comment") and submitted reviews that request changes
// or comment with a body. Every other delivery returns (nil, nil).
//
// When secret is non-empty the X-Hub-Signature-256 header is verified and
// unsigned or mis-signed deliveries are rejected.
func ParseReviewEvent(r *http.Request, secret string) (*ReviewEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			return nil, fmt.Errorf("missing webhook signature")
		}
		if !verifySignature(body, sig, secret) {
			return nil, fmt.Errorf("invalid webhook signature")
		}
	}

	event := r.Header.Get("X-GitHub-Event")
	switch event {
	case "issue_comment", "pull_request_review_comment", "pull_request_review":
	default:
		return nil, nil
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", event, err)
	}

	switch event {
	case "issue_comment":
		// Plain issue comments and comment edits are not feedback.
		if p.Action != "created" || p.Issue.PullRequest == nil {
			return nil, nil
		}
		return &ReviewEvent{
			Repo:     p.Repository.FullName,
			PRNumber: p.Issue.Number,
			Author:   p.Comment.User.Login,
			Body:     p.Comment.Body,
		}, nil

	case "pull_request_review_comment":
		if p.Action != "created" {
			return nil, nil
		}
		return &ReviewEvent{
			Repo:     p.Repository.FullName,
			PRNumber: p.PullRequest.Number,
			Author:   p.Comment.User.Login,
			Body:     p.Comment.Body,
		}, nil

	default: // pull_request_review
		if p.Action != "submitted" {
			return nil, nil
		}
		switch p.Review.State {
		case "changes_requested":
		case "commented":
			// Inline comments arrive as their own events; a bodiless
			// "commented" review carries nothing to act on.
			if strings.TrimSpace(p.Review.Body) == "" {
				return nil, nil
			}
		default:
			// Approvals need no action.
			return nil, nil
		}
		return &ReviewEvent{
			Repo:     p.Repository.FullName,
			PRNumber: p.PullRequest.Number,
			Author:   p.Review.User.Login,
			Body:     p.Review.Body,
		}, nil
	}
}

// verifySignature checks the HMAC-SHA256 signature GitHub sends with each
// delivery.
func verifySignature(body []byte, signature, secret string) bool {
	decoded, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
