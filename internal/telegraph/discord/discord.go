// Package discord posts conductor events to a Discord channel as embeds over
// the REST API. No gateway connection is opened.
package discord

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/conductor/internal/telegraph"
)

const (
	defaultRetries = 3
	defaultBackoff = 2 * time.Second
	backoffCap     = 2 * time.Minute
)

// Discord rejects messages that exceed these.
const (
	maxEmbeds     = 10
	maxFields     = 25
	maxTitle      = 256
	maxDesc       = 4096
	maxFieldName  = 256
	maxFieldValue = 1024
	maxContent    = 2000
)

// sender is the slice of discordgo.Session the adapter needs.
type sender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Adapter implements telegraph.Adapter for Discord.
type Adapter struct {
	sess        sender
	channel     string
	retries     int
	baseBackoff time.Duration
	log         *slog.Logger
}

// AdapterOpts configures New. Session replaces the real REST session in tests.
type AdapterOpts struct {
	BotToken   string
	ChannelID  string
	MaxRetries int
	Log        *slog.Logger
	Session    sender
}

// New builds a Discord adapter. A bot token is required unless Session is set.
func New(opts AdapterOpts) (*Adapter, error) {
	sess := opts.Session
	if sess == nil {
		if opts.BotToken == "" {
			return nil, errors.New("discord: bot token is required")
		}
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	a := &Adapter{
		sess:        sess,
		channel:     opts.ChannelID,
		retries:     cmp.Or(opts.MaxRetries, defaultRetries),
		baseBackoff: defaultBackoff,
		log:         opts.Log,
	}
	if a.log == nil {
		a.log = slog.New(slog.DiscardHandler)
	}
	return a, nil
}

// Name returns "discord".
func (a *Adapter) Name() string { return "discord" }

// Send posts msg, backing off exponentially while Discord answers 429.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	channel := cmp.Or(msg.ChannelID, a.channel)
	if channel == "" {
		return errors.New("discord: no channel configured")
	}
	data := messageSend(msg)

	for attempt := 0; ; attempt++ {
		_, err := a.sess.ChannelMessageSendComplex(channel, data, discordgo.WithContext(ctx))
		if err == nil {
			return nil
		}
		if !rateLimited(err) || attempt >= a.retries {
			return fmt.Errorf("discord: send to %s: %w", channel, err)
		}
		wait := min(a.baseBackoff<<attempt, backoffCap)
		a.log.Warn("discord rate limited", "channel", channel, "attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			return fmt.Errorf("discord: send to %s: %w", channel, ctx.Err())
		case <-time.After(wait):
		}
	}
}

func rateLimited(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusTooManyRequests
}

// messageSend converts msg into a Discord payload. Mentions are never parsed
// because row text and user names come from project participants.
func messageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{
		Content:         clip(msg.Text, maxContent),
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	for i, evt := range msg.Events {
		if i == maxEmbeds {
			break
		}
		data.Embeds = append(data.Embeds, embed(evt))
	}
	return data
}

func embed(evt telegraph.FormattedEvent) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       clip(evt.Title, maxTitle),
		Description: clip(evt.Body, maxDesc),
		Color:       hexColor(evt.Color),
	}
	for i, f := range evt.Fields {
		if i == maxFields {
			break
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   clip(f.Name, maxFieldName),
			Value:  clip(cmp.Or(f.Value, "-"), maxFieldValue),
			Inline: f.Short,
		})
	}
	return e
}

// hexColor parses "#rrggbb"; anything unparseable yields Discord's default.
func hexColor(s string) int {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 24)
	if err != nil {
		return 0
	}
	return int(v)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
