package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

// Frame is a scheduled buffer handed to a remote player.
type Frame struct {
	ID     string
	Buffer audioio.Buffer
	Start  time.Duration
}

// TimedOutput forwards frames to a remote player, which schedules them on
// its own audio clock, and mirrors their completion locally with timers.
type TimedOutput struct {
	clock   Clock
	deliver func(Frame) error
}

// NewTimedOutput creates an output that calls deliver for every frame.
func NewTimedOutput(clock Clock, deliver func(Frame) error) *TimedOutput {
	return &TimedOutput{clock: clock, deliver: deliver}
}

// Now implements Output.
func (o *TimedOutput) Now() time.Duration {
	return o.clock.Now()
}

// Play implements Output.
func (o *TimedOutput) Play(id string, buf audioio.Buffer, at time.Duration, onEnded func()) (Voice, error) {
	if err := o.deliver(Frame{ID: id, Buffer: buf, Start: at}); err != nil {
		return nil, err
	}
	end := at + buf.Duration() - o.clock.Now()
	return &timerVoice{timer: o.clock.AfterFunc(end, onEnded)}, nil
}

type timerVoice struct {
	timer Timer
}

func (v *timerVoice) Stop() {
	v.timer.Stop()
}

// SinkOutput writes buffers into an audioio.Sink when their start time comes.
type SinkOutput struct {
	ctx    context.Context
	sink   audioio.Sink
	clock  Clock
	logger *slog.Logger
}

// NewSinkOutput creates an output over a started sink.
func NewSinkOutput(ctx context.Context, sink audioio.Sink, clock Clock, logger *slog.Logger) *SinkOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkOutput{ctx: ctx, sink: sink, clock: clock, logger: logger}
}

// Now implements Output.
func (o *SinkOutput) Now() time.Duration {
	return o.clock.Now()
}

// Play implements Output.
func (o *SinkOutput) Play(id string, buf audioio.Buffer, at time.Duration, onEnded func()) (Voice, error) {
	v := &sinkVoice{out: o}
	now := o.clock.Now()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.start = o.clock.AfterFunc(at-now, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.stopped {
			return
		}
		v.playing = true
		if err := o.sink.Write(o.ctx, buf.Chunk()); err != nil {
			o.logger.Warn("sink write failed", "id", id, "error", err)
		}
	})
	v.end = o.clock.AfterFunc(at+buf.Duration()-now, onEnded)
	return v, nil
}

type sinkVoice struct {
	out *SinkOutput

	mu      sync.Mutex
	start   Timer
	end     Timer
	playing bool
	stopped bool
}

func (v *sinkVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stopped {
		return
	}
	v.stopped = true
	v.start.Stop()
	v.end.Stop()
	if v.playing {
		v.out.sink.Clear()
	}
}
