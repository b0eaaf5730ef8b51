// Package config loads process configuration from LIFTOFF_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/star/liftoff/internal/playback"
)

// Prefix is prepended to every variable name.
const Prefix = "LIFTOFF_"

// Config is the full server configuration.
type Config struct {
	HTTPAddr   string     `env:"HTTP_ADDR" envDefault:":8080"`
	LaunchDir  string     `env:"LAUNCH_DIR"`
	TrustProxy bool       `env:"TRUST_PROXY"`
	LogLevel   slog.Level `env:"LOG_LEVEL" envDefault:"DEBUG"`

	Auth     Auth     `envPrefix:"AUTH_"`
	Playback Playback
	Session  Session  `envPrefix:"SESSION_"`
	Stream   Stream   `envPrefix:"STREAM_"`
}

// Auth configures bearer-token authentication.
type Auth struct {
	Enabled bool   `env:"ENABLED"`
	Token   string `env:"TOKEN"`
}

// Playback configures simulation timing.
type Playback struct {
	TickPeriod            time.Duration `env:"TICK_PERIOD" envDefault:"25ms"`
	DefaultRate           float64       `env:"DEFAULT_PLAYBACK_RATE" envDefault:"10"`
	NotificationDuration  time.Duration `env:"NOTIFICATION_DURATION" envDefault:"5s"`
	NotificationShowDelay time.Duration `env:"NOTIFICATION_SHOW_DELAY" envDefault:"200ms"`
	ChannelBuffer         int           `env:"CHANNEL_BUFFER" envDefault:"256"`
}

// Session configures the session registry.
type Session struct {
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"10m"`
	MaxSessions int           `env:"MAX" envDefault:"100"`
}

// Stream configures the SSE and WebSocket transports.
type Stream struct {
	MaxConcurrentPerIP int           `env:"MAX_CONCURRENT" envDefault:"10"`
	KeepaliveInterval  time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"30s"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom reads the configuration from vars instead of the process
// environment. Keys carry the LIFTOFF_ prefix.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.Auth.Enabled && c.Auth.Token == "":
		return errors.New(Prefix + "AUTH_TOKEN is required when auth is enabled")
	case c.Playback.TickPeriod <= 0:
		return errors.New(Prefix + "TICK_PERIOD must be positive")
	case c.Playback.DefaultRate < 0:
		return errors.New(Prefix + "DEFAULT_PLAYBACK_RATE must not be negative")
	case c.Playback.DefaultRate > playback.MaxRate:
		return fmt.Errorf("%sDEFAULT_PLAYBACK_RATE must not exceed %d", Prefix, playback.MaxRate)
	case c.Playback.NotificationDuration <= 0:
		return errors.New(Prefix + "NOTIFICATION_DURATION must be positive")
	case c.Playback.NotificationShowDelay < 0:
		return errors.New(Prefix + "NOTIFICATION_SHOW_DELAY must not be negative")
	case c.Playback.ChannelBuffer < 1:
		return errors.New(Prefix + "CHANNEL_BUFFER must be at least 1")
	case c.Session.MaxSessions < 1:
		return errors.New(Prefix + "SESSION_MAX must be at least 1")
	case c.Session.IdleTimeout <= 0:
		return errors.New(Prefix + "SESSION_IDLE_TIMEOUT must be positive")
	case c.Stream.MaxConcurrentPerIP < 1:
		return errors.New(Prefix + "STREAM_MAX_CONCURRENT must be at least 1")
	case c.Stream.KeepaliveInterval <= 0:
		return errors.New(Prefix + "STREAM_KEEPALIVE_INTERVAL must be positive")
	}
	return nil
}

// Log writes the effective configuration. The auth token is never logged.
func (c Config) Log(logger *slog.Logger) {
	logger.Info("server config",
		"http_addr", c.HTTPAddr,
		"launch_dir", c.LaunchDir,
		"trust_proxy", c.TrustProxy,
		"auth_enabled", c.Auth.Enabled,
	)
	logger.Info("playback config",
		"tick_period_ms", c.Playback.TickPeriod.Milliseconds(),
		"default_playback_rate", c.Playback.DefaultRate,
		"notification_duration_seconds", c.Playback.NotificationDuration.Seconds(),
		"notification_show_delay_ms", c.Playback.NotificationShowDelay.Milliseconds(),
		"channel_buffer", c.Playback.ChannelBuffer,
	)
	logger.Info("session config",
		"max_sessions", c.Session.MaxSessions,
		"idle_timeout_seconds", c.Session.IdleTimeout.Seconds(),
	)
	logger.Info("stream config",
		"max_concurrent_per_ip", c.Stream.MaxConcurrentPerIP,
		"keepalive_interval_seconds", c.Stream.KeepaliveInterval.Seconds(),
	)
}
