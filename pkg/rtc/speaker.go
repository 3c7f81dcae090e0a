package rtc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

// FrameInterval is the pacing of outgoing frames.
const FrameInterval = 20 * time.Millisecond

// ErrNotRunning is returned by Write before Start or after Stop.
var ErrNotRunning = errors.New("rtc: speaker not running")

// RTPWriter accepts outgoing packets. *webrtc.TrackLocalStaticRTP
// satisfies it.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// Speaker is an audioio.Sink that plays partner audio to the browser. Audio
// written to it is resampled to 48 kHz and sent as one Opus frame every
// 20ms.
type Speaker struct {
	cfg    audioio.Config
	out    RTPWriter
	pkt    *Packetizer
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	pending []float32
	cancel  context.CancelFunc
	done    chan struct{}

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

// NewSpeaker creates a speaker writing to out. cfg describes the audio
// that will be written, normally audioio.OutputConfig().
func NewSpeaker(cfg audioio.Config, out RTPWriter, ssrc uint32, logger *slog.Logger) (*Speaker, error) {
	pkt, err := NewPacketizer(ssrc)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		cfg:    cfg,
		out:    out,
		pkt:    pkt,
		logger: logger.With("component", "rtc.speaker"),
	}, nil
}

// Start begins pacing frames until ctx is done or Stop is called.
func (s *Speaker) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.pace(ctx, s.done)
	return nil
}

func (s *Speaker) pace(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.step(); err != nil {
				s.logger.Warn("failed to send frame", "error", err)
			}
		}
	}
}

// step sends the next frame if a full one is queued.
func (s *Speaker) step() error {
	s.mu.Lock()
	if len(s.pending) < FrameSamples {
		if len(s.pending) > 0 {
			s.underruns.Add(1)
		}
		s.mu.Unlock()
		return nil
	}
	frame := make([]float32, FrameSamples)
	copy(frame, s.pending)
	s.pending = s.pending[FrameSamples:]
	s.mu.Unlock()

	pkt, err := s.pkt.Packetize(frame)
	if err != nil {
		return err
	}
	return s.out.WriteRTP(pkt)
}

// Stop halts pacing. Queued audio is kept.
func (s *Speaker) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Write queues a chunk for playback.
func (s *Speaker) Write(_ context.Context, chunk audioio.AudioChunk) error {
	mono := audioio.Downmix(chunk.Samples, chunk.Channels)
	rate := chunk.SampleRate
	if rate == 0 {
		rate = s.cfg.SampleRate
	}
	samples := audioio.Resample(mono, rate, OpusSampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}
	s.pending = append(s.pending, samples...)
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush pads a trailing partial frame with silence so it is sent, then
// waits until the queue drains or ctx is done.
func (s *Speaker) Flush(ctx context.Context) error {
	s.mu.Lock()
	if rem := len(s.pending) % FrameSamples; rem != 0 {
		s.pending = append(s.pending, make([]float32, FrameSamples-rem)...)
	}
	s.mu.Unlock()

	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()
	for {
		if s.Buffered() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Clear drops all queued audio.
func (s *Speaker) Clear() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return nil
}

// Buffered returns the number of queued 48 kHz samples.
func (s *Speaker) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Config returns the configuration of written audio.
func (s *Speaker) Config() audioio.Config {
	return s.cfg
}

// Name returns the backend name.
func (s *Speaker) Name() string {
	return "webrtc"
}

// Close stops the speaker for good.
func (s *Speaker) Close() error {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	return nil
}

// Stats returns sink statistics.
func (s *Speaker) Stats() audioio.SinkStats {
	s.mu.Lock()
	running := s.running
	buffered := len(s.pending)
	s.mu.Unlock()

	return audioio.SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         s.Name(),
		BufferedSamples: int64(buffered),
	}
}

var _ audioio.SinkWithStats = (*Speaker)(nil)
