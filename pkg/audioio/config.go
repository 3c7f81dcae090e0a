// Package audioio moves learner and partner audio between transports and
// the realtime channel.
//
// Two capture backends exist:
//   - Push - samples arrive from a transport (browser websocket or WebRTC)
//   - Mock - synthetic audio for tests and offline runs
//
// The codec helpers convert between float32 mic buffers, wire PCM16 and
// per-channel playback buffers.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendPush is fed by a transport through PushSource.Push.
	BackendPush Backend = "push"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "push"
	Backend Backend `toml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (Live API input rate)
	SampleRate int `toml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `toml:"channels" json:"channels"`

	// BufferSamples is the number of samples per channel in one capture chunk.
	// Default: 4096
	BufferSamples int `toml:"buffer_samples" json:"buffer_samples"`

	// QueueDepth is how many chunks a source holds before dropping.
	QueueDepth int `toml:"queue_depth" json:"queue_depth"`
}

// DefaultConfig returns the capture configuration used for the Live API.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendPush,
		SampleRate:    InputSampleRate,
		Channels:      1,
		BufferSamples: CaptureBufferSamples,
		QueueDepth:    32,
	}
}

// OutputConfig returns the configuration for partner playback sinks.
func OutputConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = OutputSampleRate
	return cfg
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferSamples <= 0 {
		return fmt.Errorf("buffer_samples must be positive, got %d", c.BufferSamples)
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queue_depth must be positive, got %d", c.QueueDepth)
	}
	return nil
}

// BufferDuration returns the wall-clock length of one capture chunk.
func (c *Config) BufferDuration() time.Duration {
	return time.Duration(c.BufferSamples) * time.Second / time.Duration(c.SampleRate)
}

// BufferBytes returns the size of a chunk once encoded as PCM16.
func (c *Config) BufferBytes() int {
	return c.BufferSamples * c.Channels * 2
}
