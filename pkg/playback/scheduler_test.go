package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

func buffer(d time.Duration) audioio.Buffer {
	frames := int(d * audioio.OutputSampleRate / time.Second)
	return audioio.Buffer{
		Samples:    [][]float32{make([]float32, frames)},
		SampleRate: audioio.OutputSampleRate,
		Channels:   1,
	}
}

type recorder struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (r *recorder) deliver(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func TestSchedulerBackToBack(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	s := NewScheduler(NewTimedOutput(clock, rec.deliver), nil)

	tests := []struct {
		advance time.Duration
		dur     time.Duration
		want    time.Duration
	}{
		{0, 500 * time.Millisecond, 0},
		{0, 500 * time.Millisecond, 500 * time.Millisecond},
		{100 * time.Millisecond, 200 * time.Millisecond, time.Second},
		// cursor (1.2s) has fallen behind now (2s)
		{1900 * time.Millisecond, 100 * time.Millisecond, 2 * time.Second},
	}

	for i, tt := range tests {
		clock.Advance(tt.advance)
		start, err := s.Enqueue(buffer(tt.dur))
		if err != nil {
			t.Fatalf("step %d: Enqueue: %v", i, err)
		}
		if start != tt.want {
			t.Errorf("step %d: start = %v, want %v", i, start, tt.want)
		}
	}

	if got := s.Cursor(); got != 2100*time.Millisecond {
		t.Errorf("Cursor() = %v, want 2.1s", got)
	}
	if len(rec.frames) != 4 {
		t.Errorf("delivered %d frames, want 4", len(rec.frames))
	}
}

func TestSchedulerRemovesEndedVoices(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	s := NewScheduler(NewTimedOutput(clock, rec.deliver), nil)

	s.Enqueue(buffer(100 * time.Millisecond))
	s.Enqueue(buffer(100 * time.Millisecond))
	if s.Active() != 2 {
		t.Fatalf("Active() = %d, want 2", s.Active())
	}

	clock.Advance(100 * time.Millisecond)
	if s.Active() != 1 {
		t.Errorf("Active() after first ends = %d, want 1", s.Active())
	}

	clock.Advance(100 * time.Millisecond)
	if s.Active() != 0 {
		t.Errorf("Active() after both end = %d, want 0", s.Active())
	}
}

func TestSchedulerInterrupt(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	s := NewScheduler(NewTimedOutput(clock, rec.deliver), nil)

	s.Enqueue(buffer(time.Second))
	s.Enqueue(buffer(time.Second))
	clock.Advance(300 * time.Millisecond)

	s.Interrupt()

	if s.Active() != 0 {
		t.Errorf("Active() = %d after interrupt", s.Active())
	}
	if s.Cursor() != 0 {
		t.Errorf("Cursor() = %v after interrupt, want 0", s.Cursor())
	}
	if clock.Pending() != 0 {
		t.Errorf("%d timers still pending", clock.Pending())
	}

	// Next buffer starts at now, not at the old cursor.
	start, _ := s.Enqueue(buffer(100 * time.Millisecond))
	if start != 300*time.Millisecond {
		t.Errorf("start after interrupt = %v, want 300ms", start)
	}

	// Interrupting twice is harmless.
	s.Interrupt()
	s.Interrupt()
}

func TestSchedulerRemoveIsIdempotent(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	s := NewScheduler(NewTimedOutput(clock, rec.deliver), nil)

	s.Enqueue(buffer(100 * time.Millisecond))
	id := rec.frames[0].ID

	s.Interrupt()
	s.remove(id)
	s.remove(id)
	s.remove("unknown")

	if s.Active() != 0 {
		t.Errorf("Active() = %d", s.Active())
	}
}

func TestSchedulerDeliverError(t *testing.T) {
	clock := NewFakeClock()
	boom := errors.New("socket closed")
	rec := &recorder{err: boom}
	s := NewScheduler(NewTimedOutput(clock, rec.deliver), nil)

	if _, err := s.Enqueue(buffer(time.Second)); !errors.Is(err, boom) {
		t.Fatalf("Enqueue() = %v, want %v", err, boom)
	}
	if s.Cursor() != 0 || s.Active() != 0 {
		t.Error("failed enqueue must not move the cursor")
	}
}

func TestSchedulerClose(t *testing.T) {
	clock := NewFakeClock()
	rec := &recorder{}
	s := NewScheduler(NewTimedOutput(clock, rec.deliver), nil)

	s.Enqueue(buffer(time.Second))
	s.Close()
	s.Close()

	if s.Active() != 0 {
		t.Error("Close should stop all voices")
	}
	if _, err := s.Enqueue(buffer(time.Second)); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
}

func TestSinkOutput(t *testing.T) {
	clock := NewFakeClock()
	sink := audioio.NewMockSink(audioio.OutputConfig(), nil)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(NewSinkOutput(context.Background(), sink, clock, nil), nil)

	s.Enqueue(buffer(200 * time.Millisecond))
	s.Enqueue(buffer(200 * time.Millisecond))

	clock.Advance(0)
	if got := len(sink.Chunks()); got != 1 {
		t.Fatalf("chunks written at t=0: %d, want 1", got)
	}

	clock.Advance(200 * time.Millisecond)
	if got := len(sink.Chunks()); got != 2 {
		t.Fatalf("chunks written at t=200ms: %d, want 2", got)
	}
	if s.Active() != 1 {
		t.Errorf("Active() = %d, want 1", s.Active())
	}

	s.Interrupt()
	if sink.Clears() != 1 {
		t.Errorf("sink cleared %d times, want 1", sink.Clears())
	}
	if len(sink.Chunks()) != 0 {
		t.Error("sink should be empty after interrupt")
	}
}

func TestSinkOutputStopBeforeStart(t *testing.T) {
	clock := NewFakeClock()
	sink := audioio.NewMockSink(audioio.OutputConfig(), nil)
	sink.Start(context.Background())
	s := NewScheduler(NewSinkOutput(context.Background(), sink, clock, nil), nil)

	clock.Advance(50 * time.Millisecond)
	s.Enqueue(buffer(100 * time.Millisecond))
	s.Enqueue(buffer(100 * time.Millisecond))
	s.Interrupt()
	clock.Advance(time.Second)

	if len(sink.Chunks()) != 0 {
		t.Errorf("stopped voices wrote %d chunks", len(sink.Chunks()))
	}
	if sink.Clears() != 0 {
		t.Errorf("sink cleared %d times for voices that never played", sink.Clears())
	}
}

func TestWallClock(t *testing.T) {
	c := NewWallClock()
	fired := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if c.Now() <= 0 {
		t.Error("Now() should advance")
	}
}
