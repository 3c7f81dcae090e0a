// Package realtime owns the bidirectional Gemini Live connection used for a
// practice conversation. It relays learner audio up and turns server
// messages into an ordered stream of tagged events. It keeps no notion of
// turns or transcripts.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultURL is the Gemini Live BidiGenerateContent endpoint.
	DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultModel is the native-audio Live model.
	DefaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"

	// DefaultVoice is the prebuilt partner voice.
	DefaultVoice = "Kore"
)

// Dialer opens the websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config holds channel settings.
type Config struct {
	APIKey string
	URL    string
	Model  string
	Voice  string

	// SystemInstruction frames the partner's behaviour for the session.
	SystemInstruction string

	// OpeningText is sent once, right after setup is confirmed, so the
	// partner speaks first. Empty means nothing is sent.
	OpeningText string

	HandshakeTimeout time.Duration
	SetupTimeout     time.Duration
	WriteTimeout     time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	Dialer Dialer
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		Model:            DefaultModel,
		Voice:            DefaultVoice,
		HandshakeTimeout: 10 * time.Second,
		SetupTimeout:     15 * time.Second,
		WriteTimeout:     10 * time.Second,
		EventBuffer:      256,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Option configures a Config.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithURL overrides the Live endpoint.
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

// WithModel sets the Live model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithVoice sets the prebuilt voice name.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithInstructions sets the system instruction and the opening text.
func WithInstructions(system, opening string) Option {
	return func(c *Config) {
		c.SystemInstruction = system
		c.OpeningText = opening
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	def := DefaultConfig()
	if out.URL == "" {
		out.URL = def.URL
	}
	if out.Model == "" {
		out.Model = def.Model
	}
	if out.Voice == "" {
		out.Voice = def.Voice
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.SetupTimeout <= 0 {
		out.SetupTimeout = def.SetupTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = def.EventBuffer
	}
	if out.Dialer == nil {
		out.Dialer = &websocket.Dialer{HandshakeTimeout: out.HandshakeTimeout}
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}
