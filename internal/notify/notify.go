// Package notify posts run outcomes to Slack. Notification failures are
// logged and never affect the run that triggered them.
package notify

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/slack-go/slack"

	"github.com/tinybackspace/backspace/internal/store"
	"github.com/tinybackspace/backspace/model"
)

// Slack posts a message to a channel when a run reaches its terminal state.
// It implements engine.Notifier.
type Slack struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a notifier posting to the given channel.
func NewSlack(botToken, channel string) *Slack {
	return &Slack{
		api:     slack.New(botToken),
		channel: channel,
	}
}

// RunFinished posts the run's outcome to the channel.
func (s *Slack) RunFinished(ctx context.Context, req *model.Request, summary *store.StoredEvent) {
	log := clog.FromContext(ctx).With("request_id", req.ID)

	if req.Status != model.StatusComplete {
		text := fmt.Sprintf(":x: *Run `%s` failed*\n> %s\n%s",
			req.ID, model.Truncate(req.Prompt, 140), req.Error)
		if _, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
			log.With("error", err).Warn("slack notification failed")
		}
		return
	}

	if err := s.postPRMessage(ctx, req, summary); err != nil {
		log.With("error", err).Warn("slack block message failed, posting plain text")
		text := fmt.Sprintf(":white_check_mark: *PR Ready!*\n%s", req.PRURL)
		if _, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
			log.With("error", err).Warn("slack notification failed")
		}
	}
}

// postPRMessage posts a rich Block Kit message with the PR link.
func (s *Slack) postPRMessage(ctx context.Context, req *model.Request, summary *store.StoredEvent) error {
	headerText := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf(":white_check_mark: *PR Ready!*\n<%s|%s>",
			req.PRURL, model.Truncate(req.Prompt, 60)),
		false, false)
	headerSection := slack.NewSectionBlock(headerText, nil, nil)

	detail := fmt.Sprintf("Request `%s` | Repo `%s` | Branch `%s`", req.ID, req.RepoURL, req.Branch)
	if modified, ok := summary.Extra["filesModified"]; ok {
		detail += fmt.Sprintf(" | Files modified: %v", modified)
	}
	if provider, ok := summary.Extra["provider"].(string); ok && provider != "" {
		detail += fmt.Sprintf(" | Provider: %s", provider)
	}
	contextBlock := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, detail, false, false))

	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionBlocks(headerSection, slack.NewDividerBlock(), contextBlock))
	return err
}
