// Package config provides YAML-based configuration loading for Conductor.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Conductor configuration, loaded from conductor.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Review   ReviewConfig   `yaml:"review"`
	Scripts  ScriptsConfig  `yaml:"scripts"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects and addresses the durable store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
	Debug    bool   `yaml:"debug"`
}

// ServerConfig holds HTTP listener and caller identity settings.
type ServerConfig struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// RedisConfig enables presence tracking and cross-instance notification
// fan-out. An empty URL keeps both in process.
type RedisConfig struct {
	URL         string        `yaml:"url"`
	Channel     string        `yaml:"channel"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

// ReviewConfig tunes the change reconciliation engine.
type ReviewConfig struct {
	EphemeralThreshold int64         `yaml:"ephemeral_threshold"`
	OrderStep          time.Duration `yaml:"order_step"`
}

// ScriptsConfig controls row and periodic script execution.
type ScriptsConfig struct {
	Dir      string        `yaml:"dir"`
	Shell    string        `yaml:"shell"`
	Timeout  time.Duration `yaml:"timeout"`
	Schedule string        `yaml:"schedule"` // 5-field cron; empty disables
}

// NotifyConfig configures chat channels that receive submission notices.
type NotifyConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig holds credentials for one chat platform.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the chat platform has enough settings to post.
func (c ChatConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// LogConfig selects log level and output format (text or json).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads an optional .env file next to the working directory, then the
// YAML config file at path, and returns a validated Config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Secrets set in the
// environment take precedence over the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Database.Password, "CONDUCTOR_DB_PASSWORD")
	set(&c.Server.JWTSecret, "CONDUCTOR_JWT_SECRET")
	set(&c.Redis.URL, "CONDUCTOR_REDIS_URL")
	set(&c.Notify.Slack.BotToken, "SLACK_BOT_TOKEN")
	set(&c.Notify.Discord.BotToken, "DISCORD_BOT_TOKEN")
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "conductor"
	}
	if c.Database.Path == "" {
		c.Database.Path = "conductor.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Server.TokenTTL == 0 {
		c.Server.TokenTTL = 12 * time.Hour
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "conductor:events"
	}
	if c.Redis.PresenceTTL == 0 {
		c.Redis.PresenceTTL = 90 * time.Second
	}
	if c.Review.EphemeralThreshold == 0 {
		c.Review.EphemeralThreshold = 1_000_000_000_000
	}
	if c.Review.OrderStep == 0 {
		c.Review.OrderStep = time.Second
	}
	if c.Scripts.Dir == "" {
		c.Scripts.Dir = "scripts"
	}
	if c.Scripts.Shell == "" {
		c.Scripts.Shell = "/bin/sh"
	}
	if c.Scripts.Timeout == 0 {
		c.Scripts.Timeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	if c.Server.JWTSecret == "" {
		errs = append(errs, "server.jwt_secret is required (or set CONDUCTOR_JWT_SECRET)")
	}
	if c.Review.EphemeralThreshold < 0 {
		errs = append(errs, "review.ephemeral_threshold must be positive")
	}
	if c.Review.OrderStep < 0 {
		errs = append(errs, "review.order_step must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
