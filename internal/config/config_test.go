package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
	if cfg.Playback.TickPeriod != 25*time.Millisecond {
		t.Errorf("TickPeriod = %v, want 25ms", cfg.Playback.TickPeriod)
	}
	if cfg.Playback.DefaultRate != 10 {
		t.Errorf("DefaultRate = %v, want 10", cfg.Playback.DefaultRate)
	}
	if cfg.Playback.NotificationDuration != 5*time.Second {
		t.Errorf("NotificationDuration = %v, want 5s", cfg.Playback.NotificationDuration)
	}
	if cfg.Playback.NotificationShowDelay != 200*time.Millisecond {
		t.Errorf("NotificationShowDelay = %v, want 200ms", cfg.Playback.NotificationShowDelay)
	}
	if cfg.Playback.ChannelBuffer != 256 {
		t.Errorf("ChannelBuffer = %d, want 256", cfg.Playback.ChannelBuffer)
	}
	if cfg.Session.MaxSessions != 100 || cfg.Session.IdleTimeout != 10*time.Minute {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Stream.MaxConcurrentPerIP != 10 || cfg.Stream.KeepaliveInterval != 30*time.Second {
		t.Errorf("Stream = %+v", cfg.Stream)
	}
	if cfg.Auth.Enabled {
		t.Error("auth enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"LIFTOFF_HTTP_ADDR":               "127.0.0.1:9000",
		"LIFTOFF_LAUNCH_DIR":              "/srv/launches",
		"LIFTOFF_TRUST_PROXY":             "true",
		"LIFTOFF_LOG_LEVEL":               "WARN",
		"LIFTOFF_AUTH_ENABLED":            "true",
		"LIFTOFF_AUTH_TOKEN":              "s3cret",
		"LIFTOFF_TICK_PERIOD":             "40ms",
		"LIFTOFF_DEFAULT_PLAYBACK_RATE":   "50",
		"LIFTOFF_NOTIFICATION_DURATION":   "3s",
		"LIFTOFF_NOTIFICATION_SHOW_DELAY": "0s",
		"LIFTOFF_CHANNEL_BUFFER":          "32",
		"LIFTOFF_SESSION_IDLE_TIMEOUT":    "1m",
		"LIFTOFF_SESSION_MAX":             "5",
		"LIFTOFF_STREAM_MAX_CONCURRENT":   "2",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.LaunchDir != "/srv/launches" || !cfg.TrustProxy {
		t.Errorf("server fields = %q %q %v", cfg.HTTPAddr, cfg.LaunchDir, cfg.TrustProxy)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want WARN", cfg.LogLevel)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Token != "s3cret" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Playback.TickPeriod != 40*time.Millisecond || cfg.Playback.DefaultRate != 50 {
		t.Errorf("Playback = %+v", cfg.Playback)
	}
	if cfg.Playback.NotificationShowDelay != 0 {
		t.Errorf("NotificationShowDelay = %v, want 0", cfg.Playback.NotificationShowDelay)
	}
	if cfg.Session.MaxSessions != 5 || cfg.Session.IdleTimeout != time.Minute {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Stream.MaxConcurrentPerIP != 2 {
		t.Errorf("Stream = %+v", cfg.Stream)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"auth without token", map[string]string{"LIFTOFF_AUTH_ENABLED": "true"}, "AUTH_TOKEN"},
		{"bad bool", map[string]string{"LIFTOFF_AUTH_ENABLED": "maybe"}, "parse env"},
		{"bad duration", map[string]string{"LIFTOFF_TICK_PERIOD": "fast"}, "parse env"},
		{"zero period", map[string]string{"LIFTOFF_TICK_PERIOD": "0s"}, "TICK_PERIOD"},
		{"negative rate", map[string]string{"LIFTOFF_DEFAULT_PLAYBACK_RATE": "-1"}, "DEFAULT_PLAYBACK_RATE"},
		{"rate above maximum", map[string]string{"LIFTOFF_DEFAULT_PLAYBACK_RATE": "5000"}, "DEFAULT_PLAYBACK_RATE"},
		{"zero buffer", map[string]string{"LIFTOFF_CHANNEL_BUFFER": "0"}, "CHANNEL_BUFFER"},
		{"zero sessions", map[string]string{"LIFTOFF_SESSION_MAX": "0"}, "SESSION_MAX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
