package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Gemini.Voice != "Kore" {
		t.Errorf("Voice = %q, want Kore", cfg.Gemini.Voice)
	}
	if cfg.Session.GraceDelay.Duration != time.Second {
		t.Errorf("GraceDelay = %v, want 1s", cfg.Session.GraceDelay.Duration)
	}
	if cfg.Kafka.Enabled {
		t.Error("Kafka should be disabled by default")
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "esol.toml")
	data := `
topics_file = "topics.toml"

[server]
addr = ":9000"

[gemini]
voice = "Puck"

[session]
grace_delay = "1500ms"

[kafka]
enabled = true
brokers = ["k1:9092", "k2:9092"]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Gemini.Voice != "Puck" {
		t.Errorf("Voice = %q", cfg.Gemini.Voice)
	}
	if cfg.Gemini.LiveModel != DefaultLiveModel {
		t.Errorf("LiveModel default lost: %q", cfg.Gemini.LiveModel)
	}
	if cfg.Session.GraceDelay.Duration != 1500*time.Millisecond {
		t.Errorf("GraceDelay = %v", cfg.Session.GraceDelay.Duration)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka = %+v", cfg.Kafka)
	}
	if cfg.TopicsFile != "topics.toml" {
		t.Errorf("TopicsFile = %q", cfg.TopicsFile)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[session]\ngrace_delay = \"soon\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key-123")
	t.Setenv("PORT", "7000")
	t.Setenv("ESOL_GRACE_DELAY", "250ms")
	t.Setenv("KAFKA_BROKERS", "a:1, b:2 ,")
	t.Setenv("ESOL_WEBRTC", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gemini.APIKey != "key-123" {
		t.Errorf("APIKey = %q", cfg.Gemini.APIKey)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Session.GraceDelay.Duration != 250*time.Millisecond {
		t.Errorf("GraceDelay = %v", cfg.Session.GraceDelay.Duration)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:2" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
	if !cfg.Server.WebRTC {
		t.Error("WebRTC should be enabled from env")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"missing key", func(c *Config) {}, true},
		{"ok", func(c *Config) { c.Gemini.APIKey = "k" }, false},
		{"kafka without brokers", func(c *Config) {
			c.Gemini.APIKey = "k"
			c.Kafka.Enabled = true
		}, true},
		{"docs without secret", func(c *Config) {
			c.Gemini.APIKey = "k"
			c.Docs.Enabled = true
			c.Docs.ClientID = "id"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := Default().Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}
