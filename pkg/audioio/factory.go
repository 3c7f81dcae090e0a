package audioio

import (
	"fmt"
	"log/slog"
)

// NewSource creates a capture source for cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("creating audio source",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_samples", cfg.BufferSamples,
	)

	switch cfg.Backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendPush, "":
		return NewPushSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// NewSink creates a playback sink for cfg.Backend. Push transports bring
// their own sink (see the rtc package), so only the mock is built here.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported sink backend: %s", cfg.Backend)
	}
}

// AvailableBackends returns the capture backends this build supports.
func AvailableBackends() []Backend {
	return []Backend{BackendPush, BackendMock}
}
