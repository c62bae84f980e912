package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/db"
	"github.com/zulandar/conductor/internal/logger"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/ordering"
	"github.com/zulandar/conductor/internal/presence"
	"github.com/zulandar/conductor/internal/review"
	"github.com/zulandar/conductor/internal/runbook"
	"gorm.io/gorm"
)

// app bundles the services a command needs.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *gorm.DB
	redis    *redis.Client
	store    *runbook.Store
	review   *review.Service
	notifier notify.Notifier
	presence presence.Tracker
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return defaultConfigPath
	}
	return path
}

// openApp loads config, connects to the database and builds the services.
// Events go to Redis when it is configured so running servers relay them
// to their clients; otherwise they are dropped.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

	gdb, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite" {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	a := &app{cfg: cfg, log: log, db: gdb, notifier: notify.Nop{}}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		a.notifier = notify.NewPublisher(a.redis, cfg.Redis.Channel)
		a.presence = presence.NewRedis(a.redis, "", cfg.Redis.PresenceTTL)
	} else {
		a.presence = presence.NewMemory(cfg.Redis.PresenceTTL)
	}

	order := ordering.New(cfg.Review.OrderStep)
	a.store = runbook.New(gdb, order, cfg.Review.EphemeralThreshold)
	a.review = &review.Service{
		DB:        gdb,
		Order:     order,
		Notifier:  a.notifier,
		Presence:  a.presence,
		Log:       log,
		Threshold: cfg.Review.EphemeralThreshold,
		Now:       time.Now,
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// withApp runs fn with an opened app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
