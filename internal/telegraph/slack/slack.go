// Package slack posts conductor events to a Slack channel through the Web API.
// Each event becomes a colored attachment holding Block Kit sections.
package slack

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/conductor/internal/telegraph"
)

const (
	defaultRetries = 3
	headerLimit    = 150
	fieldsPerBlock = 10
)

// poster is the slice of the Slack client the adapter needs.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Adapter implements telegraph.Adapter for Slack.
type Adapter struct {
	client  poster
	channel string
	retries int
}

// AdapterOpts configures New. Client replaces the real API client in tests.
type AdapterOpts struct {
	BotToken   string
	ChannelID  string
	MaxRetries int
	Client     poster
}

// New builds a Slack adapter. A bot token is required unless Client is set.
func New(opts AdapterOpts) (*Adapter, error) {
	client := opts.Client
	if client == nil {
		if opts.BotToken == "" {
			return nil, errors.New("slack: bot token is required")
		}
		client = slackapi.New(opts.BotToken)
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Adapter{client: client, channel: opts.ChannelID, retries: retries}, nil
}

// Name returns "slack".
func (a *Adapter) Name() string { return "slack" }

// Send posts msg, waiting out Slack rate limits up to the retry budget.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	channel := cmp.Or(msg.ChannelID, a.channel)
	if channel == "" {
		return errors.New("slack: no channel configured")
	}
	opts := messageOptions(msg)

	for attempt := 0; ; attempt++ {
		_, _, err := a.client.PostMessageContext(ctx, channel, opts...)
		if err == nil {
			return nil
		}
		wait, limited := retryAfter(err, attempt)
		if !limited || attempt >= a.retries {
			return fmt.Errorf("slack: post to %s: %w", channel, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("slack: post to %s: %w", channel, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// retryAfter reports whether err is a rate limit and how long to wait.
// Slack normally sends Retry-After; without it the wait doubles per attempt.
func retryAfter(err error, attempt int) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if !errors.As(err, &rle) {
		return 0, false
	}
	if rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}
	return time.Second << attempt, true
}

// messageOptions always carries plain text so notifications and clients
// without attachment support still show something.
func messageOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	text := msg.Text
	if text == "" && len(msg.Events) > 0 {
		text = msg.Events[0].Title
	}
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if len(msg.Events) == 0 {
		return opts
	}
	atts := make([]slackapi.Attachment, 0, len(msg.Events))
	for _, evt := range msg.Events {
		atts = append(atts, slackapi.Attachment{
			Color:    evt.Color,
			Fallback: evt.Title,
			Blocks:   slackapi.Blocks{BlockSet: eventBlocks(evt)},
		})
	}
	return append(opts, slackapi.MsgOptionAttachments(atts...))
}

// eventBlocks renders an event as a header, the body, then its fields.
// Short fields share a two-column section; long ones get their own.
func eventBlocks(evt telegraph.FormattedEvent) []slackapi.Block {
	blocks := []slackapi.Block{
		slackapi.NewHeaderBlock(slackapi.NewTextBlockObject(slackapi.PlainTextType, clip(evt.Title, headerLimit), false, false)),
	}
	if evt.Body != "" {
		blocks = append(blocks, slackapi.NewSectionBlock(markdown(evt.Body), nil, nil))
	}

	var short []*slackapi.TextBlockObject
	flush := func() {
		if len(short) > 0 {
			blocks = append(blocks, slackapi.NewSectionBlock(nil, short, nil))
			short = nil
		}
	}
	for _, f := range evt.Fields {
		text := markdown(fmt.Sprintf("*%s*\n%s", f.Name, f.Value))
		if !f.Short {
			flush()
			blocks = append(blocks, slackapi.NewSectionBlock(text, nil, nil))
			continue
		}
		short = append(short, text)
		if len(short) == fieldsPerBlock {
			flush()
		}
	}
	flush()
	return blocks
}

func markdown(s string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.MarkdownType, s, false, false)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
