package report

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-3-pro-preview"
)

// Config holds Requestor settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// Timeout bounds the single request when HTTPClient is nil.
	Timeout time.Duration

	// HTTPClient overrides the shared client. Tests point it at httptest.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultConfig returns the Gemini endpoint defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
		Timeout: 90 * time.Second,
		Logger:  slog.Default(),
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Option configures a Requestor.
type Option func(*Config)

// WithAPIKey sets the Gemini API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the REST endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.BaseURL = url
		}
	}
}

// WithModel overrides the report model.
func WithModel(model string) Option {
	return func(c *Config) {
		if model != "" {
			c.Model = model
		}
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
