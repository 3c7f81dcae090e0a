// Package config loads go-esol settings from a TOML file, a .env file and
// the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultAddr        = ":8080"
	DefaultLiveModel   = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultReportModel = "gemini-3-pro-preview"
	DefaultVoice       = "Kore"
	DefaultGraceDelay  = time.Second
	DefaultKafkaTopic  = "esol.sessions.completed"
)

// ErrMissingAPIKey is returned by Validate when no Gemini key is configured.
var ErrMissingAPIKey = errors.New("config: GEMINI_API_KEY is required")

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig  `toml:"server"`
	Gemini     GeminiConfig  `toml:"gemini"`
	Session    SessionConfig `toml:"session"`
	Kafka      KafkaConfig   `toml:"kafka"`
	Docs       DocsConfig    `toml:"docs"`
	Log        LogConfig     `toml:"log"`
	TopicsFile string        `toml:"topics_file"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr    string `toml:"addr"`
	WebRTC  bool   `toml:"webrtc"`
	STUNURL string `toml:"stun_url"`
	LogHTTP bool   `toml:"log_http"`
}

// GeminiConfig configures both Gemini endpoints.
type GeminiConfig struct {
	APIKey      string `toml:"api_key"`
	LiveModel   string `toml:"live_model"`
	ReportModel string `toml:"report_model"`
	Voice       string `toml:"voice"`
	LiveURL     string `toml:"live_url"`
	BaseURL     string `toml:"base_url"`
}

// SessionConfig configures conversation timing.
type SessionConfig struct {
	GraceDelay    Duration `toml:"grace_delay"`
	ReportTimeout Duration `toml:"report_timeout"`
}

// KafkaConfig configures the completed-session publisher.
type KafkaConfig struct {
	Enabled  bool     `toml:"enabled"`
	Brokers  []string `toml:"brokers"`
	Topic    string   `toml:"topic"`
	ClientID string   `toml:"client_id"`
}

// DocsConfig configures Google Docs export.
type DocsConfig struct {
	Enabled      bool   `toml:"enabled"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
	TokenPath    string `toml:"token_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration lets TOML files use strings like "1s" or "1500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:    DefaultAddr,
			STUNURL: "stun:stun.l.google.com:19302",
		},
		Gemini: GeminiConfig{
			LiveModel:   DefaultLiveModel,
			ReportModel: DefaultReportModel,
			Voice:       DefaultVoice,
		},
		Session: SessionConfig{
			GraceDelay:    Duration{DefaultGraceDelay},
			ReportTimeout: Duration{90 * time.Second},
		},
		Kafka: KafkaConfig{
			Topic:    DefaultKafkaTopic,
			ClientID: "go-esol",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds a Config. path names an optional TOML file; an empty path
// skips it. A .env file in the working directory is loaded when present.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: read .env: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Validate checks what the server needs to run.
func (c Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka enabled without brokers")
	}
	if c.Docs.Enabled && (c.Docs.ClientID == "" || c.Docs.ClientSecret == "") {
		return errors.New("config: docs export requires client id and secret")
	}
	return nil
}

func applyEnv(c *Config) {
	c.Server.Addr = envOr("ESOL_ADDR", c.Server.Addr)
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.WebRTC = envBool("ESOL_WEBRTC", c.Server.WebRTC)
	c.Server.STUNURL = envOr("ESOL_STUN_URL", c.Server.STUNURL)
	c.Server.LogHTTP = envBool("ESOL_LOG_HTTP", c.Server.LogHTTP)

	c.Gemini.APIKey = envOr("GEMINI_API_KEY", envOr("GOOGLE_API_KEY", c.Gemini.APIKey))
	c.Gemini.LiveModel = envOr("GEMINI_LIVE_MODEL", c.Gemini.LiveModel)
	c.Gemini.ReportModel = envOr("GEMINI_REPORT_MODEL", c.Gemini.ReportModel)
	c.Gemini.Voice = envOr("GEMINI_VOICE", c.Gemini.Voice)
	c.Gemini.LiveURL = envOr("GEMINI_LIVE_URL", c.Gemini.LiveURL)
	c.Gemini.BaseURL = envOr("GEMINI_BASE_URL", c.Gemini.BaseURL)

	c.Session.GraceDelay.Duration = envDuration("ESOL_GRACE_DELAY", c.Session.GraceDelay.Duration)
	c.Session.ReportTimeout.Duration = envDuration("ESOL_REPORT_TIMEOUT", c.Session.ReportTimeout.Duration)

	c.Kafka.Enabled = envBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.Topic = envOr("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.ClientID = envOr("KAFKA_CLIENT_ID", c.Kafka.ClientID)

	c.Docs.Enabled = envBool("DOCS_ENABLED", c.Docs.Enabled)
	c.Docs.ClientID = envOr("GOOGLE_CLIENT_ID", c.Docs.ClientID)
	c.Docs.ClientSecret = envOr("GOOGLE_CLIENT_SECRET", c.Docs.ClientSecret)
	c.Docs.RedirectURL = envOr("GOOGLE_REDIRECT_URL", c.Docs.RedirectURL)
	c.Docs.TokenPath = envOr("GOOGLE_TOKEN_PATH", c.Docs.TokenPath)

	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.TopicsFile = envOr("ESOL_TOPICS_FILE", c.TopicsFile)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
