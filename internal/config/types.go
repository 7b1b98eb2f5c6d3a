// Package config loads and watches the bot configuration.
//
// Files are JSON or YAML (YAML is coerced to JSON so both share one strict
// decoder). Durations are Go duration strings ("10s", "1m").
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`

	// Extractor controls natural-language time parsing.
	Extractor ExtractorConfig `json:"extractor,omitempty"`

	Debug DebugConfig `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string; default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string; 0 keeps the driver default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// CheckpointSchedule is a cron spec for WAL maintenance; default "@daily".
	// Empty string keeps the default; "off" disables maintenance.
	CheckpointSchedule string `json:"checkpoint_schedule,omitempty"`
}

type LoggingConfig struct {
	Level    string                `json:"level,omitempty"`
	Console  bool                  `json:"console"`
	File     LoggingFileConfig     `json:"file,omitempty"`
	Telegram LoggingTelegramConfig `json:"telegram,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegramConfig mirrors errors into a chat (usually the operator's).
type LoggingTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type ExtractorConfig struct {
	// Locales selects rule sets, in priority order. Default: ["en", "ru"].
	Locales []string `json:"locales,omitempty"`
}

// DebugConfig controls the optional pprof HTTP server.
// Prefer binding to localhost; a non-loopback bind requires a token.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token   string `json:"token,omitempty"` // optional bearer token (never logged)
}

// PollTimeoutOrDefault resolves telegram.poll_timeout.
func (c *Config) PollTimeoutOrDefault() (time.Duration, error) {
	return durationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
}

// BusyTimeoutOrDefault resolves database.busy_timeout.
func (c *Config) BusyTimeoutOrDefault() (time.Duration, error) {
	return durationOrDefault("database.busy_timeout", c.Database.BusyTimeout, 5*time.Second)
}

// durationOrDefault parses a duration field, keyed for error messages.
// Empty and zero both mean "use the default"; negatives are rejected.
func durationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: bad duration %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", key, raw)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
