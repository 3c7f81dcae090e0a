package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PushSource is a Source fed by a transport. The transport calls Push with
// whatever sample counts it receives; PushSource re-frames them into chunks
// of Config.BufferSamples.
type PushSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	failure  error
	pending  []float32
	streamCh chan AudioChunk
	unwatch  func() bool

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewPushSource creates a source waiting for pushed samples.
func NewPushSource(cfg Config, logger *slog.Logger) *PushSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, cfg.QueueDepth),
	}
}

// Start begins accepting pushed samples.
func (p *PushSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return io.ErrClosedPipe
	}
	if p.failure != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, p.failure)
	}
	if p.running {
		return nil
	}

	p.running = true
	p.pending = p.pending[:0]
	p.streamCh = make(chan AudioChunk, p.cfg.QueueDepth)

	p.unwatch = context.AfterFunc(ctx, func() { p.Stop() })

	return nil
}

// Push appends samples and emits every complete chunk. Samples pushed while
// the source is not running are dropped.
func (p *PushSource) Push(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.pending = append(p.pending, samples...)
	size := p.cfg.BufferSamples * p.cfg.Channels

	for len(p.pending) >= size {
		chunk := AudioChunk{
			Samples:    make([]float32, size),
			SampleRate: p.cfg.SampleRate,
			Channels:   p.cfg.Channels,
		}
		copy(chunk.Samples, p.pending[:size])
		p.pending = p.pending[size:]

		select {
		case p.streamCh <- chunk:
			p.chunksRead.Add(1)
			p.samplesRead.Add(int64(size))
		default:
			p.overruns.Add(1)
		}
	}

	if len(p.pending) == 0 {
		p.pending = nil
	}
}

// Fail marks the capture device unavailable. A running source is stopped,
// and later calls to Start return ErrDeviceUnavailable.
func (p *PushSource) Fail(err error) {
	p.mu.Lock()
	p.failure = err
	running := p.running
	p.mu.Unlock()

	p.logger.Warn("capture device unavailable", "error", err)
	if running {
		p.Stop()
	}
}

// Recover clears a failure recorded by Fail so the next Start succeeds.
func (p *PushSource) Recover() {
	p.mu.Lock()
	p.failure = nil
	p.mu.Unlock()
}

// Stop halts capture and closes the stream. Buffered partial chunks are dropped.
func (p *PushSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	p.pending = nil
	if p.unwatch != nil {
		p.unwatch()
		p.unwatch = nil
	}
	close(p.streamCh)
	return nil
}

// Read reads the next audio chunk.
func (p *PushSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-p.Stream():
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (p *PushSource) Stream() <-chan AudioChunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCh
}

// Config returns the audio configuration.
func (p *PushSource) Config() Config {
	return p.cfg
}

// Name returns "push".
func (p *PushSource) Name() string {
	return "push"
}

// Close stops the source permanently.
func (p *PushSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.Stop()
}

// Stats returns source statistics.
func (p *PushSource) Stats() SourceStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	return SourceStats{
		ChunksRead:  p.chunksRead.Load(),
		SamplesRead: p.samplesRead.Load(),
		Overruns:    p.overruns.Load(),
		Running:     running,
		Backend:     "push",
	}
}

var _ SourceWithStats = (*PushSource)(nil)
