package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel events travel on.
const DefaultChannel = "conductor:events"

// Publisher sends events to a Redis channel so that every server instance
// can deliver them to its own websocket clients.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher returns a Publisher on channel (DefaultChannel when empty).
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Notify publishes the event.
func (p *Publisher) Notify(ctx context.Context, room, event string, payload any) error {
	data, err := encode(room, event, payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("notify: publish %s to %s: %w", event, room, err)
	}
	return nil
}

// Subscriber forwards events from a Redis channel to a local notifier,
// normally the Hub.
type Subscriber struct {
	client  *redis.Client
	channel string
	sink    Notifier
	log     *slog.Logger
}

// NewSubscriber returns a Subscriber on channel (DefaultChannel when empty).
func NewSubscriber(client *redis.Client, channel string, sink Notifier, log *slog.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{client: client, channel: channel, sink: sink, log: log}
}

// Run listens until ctx is done. It returns an error only if the
// subscription cannot be established.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// Wait for confirmation that subscription was successful.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", s.channel, err)
	}
	s.log.Info("redis subscriber started", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil || m.Room == "" {
				s.log.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			if err := s.sink.Notify(ctx, m.Room, m.Event, m.Payload); err != nil {
				s.log.Warn("forward event", "room", m.Room, "event", m.Event, "error", err)
			}
		}
	}
}
