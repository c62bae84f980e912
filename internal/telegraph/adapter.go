// Package telegraph posts conductor events to chat platforms (Slack, Discord).
// It is outbound only: nothing read from a channel flows back into a project.
package telegraph

import "context"

// Adapter delivers messages to one chat platform.
type Adapter interface {
	Name() string
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is one chat post. An empty ChannelID means the adapter's
// configured channel.
type OutboundMessage struct {
	ChannelID string
	Text      string
	Events    []FormattedEvent
}

// FormattedEvent is a submission or script run rendered for chat. Adapters
// map it to a Slack attachment or a Discord embed.
type FormattedEvent struct {
	Title    string
	Body     string
	Severity string // info, success, warning or error
	Color    string // "#rrggbb", derived from Severity
	Fields   []Field
}

// Field is a labelled value under an event. Short fields may be laid out
// side by side.
type Field struct {
	Name  string
	Value string
	Short bool
}
