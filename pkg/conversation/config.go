package conversation

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-esol/pkg/audioio"
	"github.com/teslashibe/go-esol/pkg/playback"
	"github.com/teslashibe/go-esol/pkg/realtime"
	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/topic"
)

// DefaultGraceDelay lets the partner's last words finish playing before the
// channel is torn down.
const DefaultGraceDelay = time.Second

// Config holds the collaborators and settings of one Session.
type Config struct {
	// ID identifies the session. A uuid is generated when empty.
	ID string

	Topic topic.Topic

	// Realtime configures the channel. The topic prompt and opening
	// utterance are filled in by the session.
	Realtime realtime.Config

	// Capture is the learner's microphone. It may be nil.
	Capture audioio.Source

	// Output plays partner audio. Required.
	Output playback.Output

	// Reporter assesses a finished transcript. When nil no report is
	// requested.
	Reporter report.Generator

	// Opener opens the channel. Defaults to OpenRealtime.
	Opener Opener

	// Clock runs the grace timer. Defaults to a wall clock.
	Clock playback.Clock

	GraceDelay    time.Duration
	ReportTimeout time.Duration

	Observer Observer
	Logger   *slog.Logger
}

// DefaultConfig returns a Config with the default timings.
func DefaultConfig() Config {
	return Config{
		Realtime:      realtime.DefaultConfig(),
		Opener:        OpenRealtime,
		GraceDelay:    DefaultGraceDelay,
		ReportTimeout: 90 * time.Second,
		Logger:        slog.Default(),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Output == nil {
		return errors.New("conversation: output is required")
	}
	if c.Topic.Title == "" {
		return errors.New("conversation: topic is required")
	}
	if c.GraceDelay < 0 {
		return errors.New("conversation: grace delay must not be negative")
	}
	return nil
}

func (c *Config) withDefaults() {
	def := DefaultConfig()
	if c.Opener == nil {
		c.Opener = def.Opener
	}
	if c.Clock == nil {
		c.Clock = playback.NewWallClock()
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = def.ReportTimeout
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
}
