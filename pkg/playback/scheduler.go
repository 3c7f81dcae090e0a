// Package playback schedules partner audio buffers back to back on an
// output clock and cancels them all when the learner interrupts.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Voice is one scheduled buffer.
type Voice interface {
	// Stop cancels the buffer whether or not it has started.
	Stop()
}

// Output plays buffers at absolute times on its own clock.
type Output interface {
	Now() time.Duration

	// Play schedules buf to start at at. onEnded is called at most once,
	// after Play has returned, when the buffer finishes on its own.
	Play(id string, buf audioio.Buffer, at time.Duration, onEnded func()) (Voice, error)
}

// Scheduler queues buffers gaplessly. Each buffer starts at
// max(cursor, now) and pushes the cursor forward by its duration.
type Scheduler struct {
	out    Output
	logger *slog.Logger

	mu     sync.Mutex
	cursor time.Duration
	voices map[string]Voice
	closed bool
}

// NewScheduler creates a scheduler whose cursor starts at the output's now.
func NewScheduler(out Output, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		out:    out,
		logger: logger.With("component", "playback"),
		cursor: out.Now(),
		voices: make(map[string]Voice),
	}
}

// Enqueue schedules buf and returns its start time.
func (s *Scheduler) Enqueue(buf audioio.Buffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	start := s.cursor
	if now := s.out.Now(); now > start {
		start = now
	}

	id := uuid.NewString()
	voice, err := s.out.Play(id, buf, start, func() { s.remove(id) })
	if err != nil {
		return 0, err
	}

	s.voices[id] = voice
	s.cursor = start + buf.Duration()

	s.logger.Debug("buffer scheduled", "id", id, "start", start, "duration", buf.Duration())
	return start, nil
}

// Interrupt stops every scheduled buffer, forgets them and resets the
// cursor to zero.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

func (s *Scheduler) interruptLocked() {
	n := len(s.voices)
	for id, v := range s.voices {
		v.Stop()
		delete(s.voices, id)
	}
	s.cursor = 0
	if n > 0 {
		s.logger.Debug("playback interrupted", "stopped", n)
	}
}

// remove forgets a voice that ended naturally. Unknown ids are ignored.
func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.voices, id)
}

// Active returns the number of buffers scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

// Cursor returns the time at which the next buffer would start, ignoring now.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close stops everything. Later Enqueue calls fail with ErrClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.interruptLocked()
	s.closed = true
}
