package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferSamples = 160 // 10ms at 16kHz
	return cfg
}

func TestMockSource_StartStop(t *testing.T) {
	src := NewMockSource(fastConfig(), nil)
	defer src.Close()

	ctx := context.Background()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Starting again should be a no-op
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stopping again should be a no-op
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestMockSource_Read(t *testing.T) {
	cfg := fastConfig()
	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(chunk.Samples) != cfg.BufferSamples*cfg.Channels {
		t.Errorf("Expected %d samples, got %d", cfg.BufferSamples*cfg.Channels, len(chunk.Samples))
	}
	if chunk.SampleRate != cfg.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", cfg.SampleRate, chunk.SampleRate)
	}
}

func TestMockSource_SineWave(t *testing.T) {
	src := NewMockSource(fastConfig(), nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	hasNonZero := false
	for _, s := range chunk.Samples {
		if s != 0 {
			hasNonZero = true
			break
		}
		if s > 0.5 || s < -0.5 {
			t.Fatalf("sample %f exceeds amplitude", s)
		}
	}
	if !hasNonZero {
		t.Error("Expected non-zero samples from sine wave generator")
	}
}

func TestMockSource_StartError(t *testing.T) {
	denied := errors.New("permission denied")
	src := NewMockSource(fastConfig(), nil, WithStartError(denied))
	defer src.Close()

	if err := src.Start(context.Background()); !errors.Is(err, denied) {
		t.Errorf("Start() = %v, want %v", err, denied)
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(fastConfig(), nil)

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := src.Start(ctx); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe after close, got: %v", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}

func TestMockSink_WriteFlushClear(t *testing.T) {
	sink := NewMockSink(OutputConfig(), nil)
	defer sink.Close()

	ctx := context.Background()

	if err := sink.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk := AudioChunk{
		Samples:    make([]float32, 480),
		SampleRate: OutputSampleRate,
		Channels:   1,
	}

	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := len(sink.Chunks()); got != 1 {
		t.Errorf("Expected 1 buffered chunk, got %d", got)
	}

	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if len(sink.Chunks()) != 0 {
		t.Error("Clear should drop buffered chunks")
	}
	if sink.Clears() != 1 {
		t.Errorf("Clears() = %d, want 1", sink.Clears())
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 2 {
		t.Errorf("Expected 2 chunks written, got %d", stats.ChunksWritten)
	}
}

func TestMockSink_NotRunning(t *testing.T) {
	sink := NewMockSink(OutputConfig(), nil)
	defer sink.Close()

	err := sink.Write(context.Background(), AudioChunk{Samples: make([]float32, 10)})
	if err == nil {
		t.Error("Expected error when writing to non-running sink")
	}
}

func TestAudioChunk_BytesRoundTrip(t *testing.T) {
	chunk := AudioChunk{
		Samples:    []float32{0.5, -0.5, 0},
		SampleRate: InputSampleRate,
		Channels:   1,
	}

	data := chunk.Bytes()
	if len(data) != 6 {
		t.Fatalf("Expected 6 bytes, got %d", len(data))
	}

	var back AudioChunk
	back.FromBytes(data, InputSampleRate, 1)
	for i, s := range chunk.Samples {
		if back.Samples[i] != s {
			t.Errorf("sample %d: got %f, want %f", i, back.Samples[i], s)
		}
	}
}

func TestAudioChunk_Duration(t *testing.T) {
	chunk := AudioChunk{
		Samples:    make([]float32, 320), // 20ms at 16kHz mono
		SampleRate: InputSampleRate,
		Channels:   1,
	}

	if d := chunk.Duration(); d < 0.019 || d > 0.021 {
		t.Errorf("Expected duration ~0.02, got %f", d)
	}
}

func TestNewSource(t *testing.T) {
	tests := []struct {
		backend Backend
		want    string
		wantErr bool
	}{
		{BackendPush, "push", false},
		{BackendMock, "mock", false},
		{"alsa", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend = tt.backend

			src, err := NewSource(cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSource: %v", err)
			}
			defer src.Close()
			if src.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", src.Name(), tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.BufferDuration(); got != 256*time.Millisecond {
		t.Errorf("BufferDuration() = %v, want 256ms", got)
	}

	cfg.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
