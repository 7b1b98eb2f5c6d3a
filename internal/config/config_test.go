package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalJSON = `{
  "telegram": {"token": "123:abc"},
  "database": {"path": "./reminders.db"},
  "logging": {"console": true}
}`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Database.Path != "./reminders.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed snapshot")
	}
	d, err := cfg.PollTimeoutOrDefault()
	if err != nil || d != 10*time.Second {
		t.Fatalf("poll timeout default: %v, %v", d, err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	yml := strings.Join([]string{
		"telegram:",
		"  token: 123:abc",
		"  poll_timeout: 30s",
		"database:",
		"  path: ./reminders.db",
		"  busy_timeout: 2s",
		"logging:",
		"  console: true",
		"  level: DEBUG",
	}, "\n")
	m := NewManager(writeConfig(t, "config.yaml", yml))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	d, _ := cfg.PollTimeoutOrDefault()
	if d != 30*time.Second {
		t.Fatalf("poll timeout = %v", d)
	}
	b, _ := cfg.BusyTimeoutOrDefault()
	if b != 2*time.Second {
		t.Fatalf("busy timeout = %v", b)
	}
}

func TestStrictDecoding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown field", content: `{"telegram":{"token":"t","proxy":"x"},"database":{"path":"p"},"logging":{}}`},
		{name: "trailing data", content: minimalJSON + `{"extra":1}`},
		{name: "missing token", content: `{"telegram":{},"database":{"path":"p"},"logging":{}}`},
		{name: "missing db path", content: `{"telegram":{"token":"t"},"database":{},"logging":{}}`},
		{name: "bad duration", content: `{"telegram":{"token":"t","poll_timeout":"soon"},"database":{"path":"p"},"logging":{}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "config.json", tt.content))
			if _, err := m.Load(); err == nil {
				t.Fatal("expected a load error")
			}
		})
	}
}

func TestDurationOrDefault(t *testing.T) {
	t.Parallel()
	def := 10 * time.Second
	if d, err := durationOrDefault("x", " 1m ", def); err != nil || d != time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := durationOrDefault("x", "", def); err != nil || d != def {
		t.Fatalf("empty must fall back: got %v, %v", d, err)
	}
	if d, err := durationOrDefault("x", "0s", def); err != nil || d != def {
		t.Fatalf("zero must fall back: got %v, %v", d, err)
	}
	if _, err := durationOrDefault("x", "-5s", def); err == nil {
		t.Fatal("negative duration must fail")
	}
	if _, err := durationOrDefault("x", "five", def); err == nil {
		t.Fatal("garbage duration must fail")
	}
}
