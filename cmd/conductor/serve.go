package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/db"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/scripts"
	"github.com/zulandar/conductor/internal/server"
	"github.com/zulandar/conductor/internal/telegraph"
	"github.com/zulandar/conductor/internal/telegraph/discord"
	"github.com/zulandar/conductor/internal/telegraph/slack"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Conductor API server",
		Long: `Runs the HTTP API, the websocket hub and, when scripts.schedule is set,
the periodic script scheduler. With redis.url set, events are published to
Redis and every server relays them to its own websocket clients.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if addr != "" {
					a.cfg.Server.Addr = addr
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runServe(ctx, cmd, a)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, a *app) error {
	if err := db.AutoMigrate(a.db); err != nil {
		return err
	}

	hub := notify.NewHub(a.log)
	go hub.Run(ctx)

	// Live events reach this server's clients directly, or via Redis so
	// every instance sees them.
	var live notify.Notifier = hub
	if a.redis != nil {
		live = a.notifier
		sub := notify.NewSubscriber(a.redis, a.cfg.Redis.Channel, hub, a.log)
		go func() {
			if err := sub.Run(ctx); err != nil {
				a.log.Error("redis subscriber stopped", "error", err)
			}
		}()
	}
	notifier := notify.Multi{live}

	adapters, err := chatAdapters(a.cfg.Notify, a.log)
	if err != nil {
		return err
	}
	if len(adapters) > 0 {
		notifier = append(notifier, notify.NewChat(adapters...))
		for _, ad := range adapters {
			a.log.Info("chat notifications enabled", "platform", ad.Name())
		}
	}
	a.review.Notifier = notifier

	runner := &scripts.ExecRunner{
		Dir:     a.cfg.Scripts.Dir,
		Shell:   a.cfg.Scripts.Shell,
		Timeout: a.cfg.Scripts.Timeout,
	}
	svc := &scripts.Service{Store: a.store, Runner: runner, Notifier: notifier, Log: a.log}
	if a.cfg.Scripts.Schedule != "" {
		sched, err := scripts.NewScheduler(svc, a.cfg.Scripts.Schedule)
		if err != nil {
			return err
		}
		go sched.Run(ctx)
		a.log.Info("periodic scripts scheduled", "schedule", a.cfg.Scripts.Schedule)
	}

	srv, err := server.New(server.Opts{
		Store:    a.store,
		Review:   a.review,
		Scripts:  svc,
		Hub:      hub,
		Notifier: notifier,
		Presence: a.presence,
		Auth:     server.Auth{Secret: []byte(a.cfg.Server.JWTSecret), TTL: a.cfg.Server.TokenTTL},
		Log:      a.log,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx, a.cfg.Server.Addr, cmd.OutOrStdout())
}

// chatAdapters builds an adapter for every configured chat platform.
func chatAdapters(cfg config.NotifyConfig, log *slog.Logger) ([]telegraph.Adapter, error) {
	var out []telegraph.Adapter
	if cfg.Slack.Enabled() {
		ad, err := slack.New(slack.AdapterOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, fmt.Errorf("slack: %w", err)
		}
		out = append(out, ad)
	}
	if cfg.Discord.Enabled() {
		ad, err := discord.New(discord.AdapterOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.Discord.ChannelID,
			Log:       log.With("adapter", "discord"),
		})
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		out = append(out, ad)
	}
	return out, nil
}
