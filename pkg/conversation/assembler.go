package conversation

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-esol/pkg/audioio"
	"github.com/teslashibe/go-esol/pkg/realtime"
	"github.com/teslashibe/go-esol/pkg/topic"
)

// PlaybackTarget receives partner audio. *playback.Scheduler implements it.
type PlaybackTarget interface {
	Enqueue(buf audioio.Buffer) (time.Duration, error)
	Interrupt()
}

// Transition describes what one call into the Assembler changed.
type Transition struct {
	From, To State

	// Committed holds the turns committed at a turn boundary, Learner first.
	Committed []Turn

	// PartialChanged is set when a partial buffer grew.
	PartialChanged bool

	// Audio is set when a frame was scheduled.
	Audio         bool
	AudioStart    time.Duration
	AudioDuration time.Duration

	Interrupted bool

	// Discarded is set when the event was ignored in the current state.
	Discarded bool

	// Err is the terminal error when To is StateClosed.
	Err error
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Assembler turns the channel's event stream into committed turns and
// decides when the conversation is over. All methods are serialized.
type Assembler struct {
	mu       sync.Mutex
	state    State
	learner  strings.Builder
	partner  strings.Builder
	turns    []Turn
	err      error
	playback PlaybackTarget
	logger   *slog.Logger
}

// NewAssembler returns an Idle assembler. playback may be nil, in which
// case audio frames and interruptions are dropped.
func NewAssembler(playback PlaybackTarget, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		playback: playback,
		logger:   logger.With("component", "assembler"),
	}
}

// State returns the current state.
func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err returns the terminal error, if the assembler closed with one.
func (a *Assembler) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Begin moves Idle to Connecting.
func (a *Assembler) Begin() error {
	return a.move(StateIdle, StateConnecting)
}

// Activate moves Connecting to Active once the channel is open.
func (a *Assembler) Activate() error {
	return a.move(StateConnecting, StateActive)
}

func (a *Assembler) move(from, to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return ErrInvalidTransition
	}
	a.state = to
	return nil
}

// Fail closes the assembler with a session error of the given kind. It is
// a no-op once Closed.
func (a *Assembler) Fail(kind, cause error) Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked(newSessionError(kind, cause))
}

// Cancel is a user stop. Any non-terminal state goes straight to Closed,
// in-flight partials are dropped and the transcript is discarded. It
// returns false if the assembler was already Closed.
func (a *Assembler) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateClosed {
		return false
	}
	a.closeLocked(nil)
	return true
}

// Finish moves Ending to Closed and returns the finalized transcript.
func (a *Assembler) Finish() ([]Turn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateEnding {
		return nil, ErrInvalidTransition
	}
	a.state = StateClosed
	return a.transcriptLocked(), nil
}

// Transcript returns a copy of the committed turns.
func (a *Assembler) Transcript() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcriptLocked()
}

func (a *Assembler) transcriptLocked() []Turn {
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Partials returns the in-progress text of both speakers. The end sentinel
// is hidden from the partner partial, including a sentinel still being
// spelled out.
func (a *Assembler) Partials() (learner, partner string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.learner.String(), hideSentinel(a.partner.String())
}

// HandleEvent applies one channel event.
func (a *Assembler) HandleEvent(ev realtime.Event) Transition {
	a.mu.Lock()
	defer a.mu.Unlock()

	tr := Transition{From: a.state, To: a.state}

	switch a.state {
	case StateConnecting:
		switch ev.Kind {
		case realtime.EventError:
			return a.closeLocked(newSessionError(ErrChannel, ev.Err))
		case realtime.EventClosed:
			return a.closeLocked(newSessionError(ErrChannel, closedCause(ev.Err)))
		}
		tr.Discarded = true
		return tr
	case StateActive:
	default:
		tr.Discarded = true
		return tr
	}

	switch ev.Kind {
	case realtime.EventPartialInput:
		a.learner.WriteString(ev.Text)
		tr.PartialChanged = true

	case realtime.EventPartialOutput:
		a.partner.WriteString(ev.Text)
		tr.PartialChanged = true

	case realtime.EventAudioFrame:
		a.scheduleLocked(ev, &tr)

	case realtime.EventInterrupted:
		if a.playback != nil {
			a.playback.Interrupt()
		}
		tr.Interrupted = true

	case realtime.EventTurnComplete:
		tr.Committed = a.commitLocked()
		if n := len(tr.Committed); n > 0 && tr.Committed[n-1].Speaker == Partner &&
			strings.Contains(tr.Committed[n-1].Text, topic.Sentinel) {
			if text := a.endLocked(); text == "" {
				tr.Committed = tr.Committed[:n-1]
			} else {
				tr.Committed[n-1].Text = text
			}
			tr.To = a.state
		}

	case realtime.EventError:
		return a.closeLocked(newSessionError(ErrChannel, ev.Err))

	case realtime.EventClosed:
		return a.closeLocked(newSessionError(ErrChannelClosedUnexpectedly, closedCause(ev.Err)))

	default:
		tr.Discarded = true
	}
	return tr
}

func (a *Assembler) scheduleLocked(ev realtime.Event, tr *Transition) {
	if a.playback == nil {
		return
	}
	buf, err := audioio.DecodePCM16(ev.Audio, ev.SampleRate, ev.Channels)
	if err != nil {
		a.logger.Warn("dropping audio frame", "error", err, "bytes", len(ev.Audio))
		return
	}
	start, err := a.playback.Enqueue(buf)
	if err != nil {
		a.logger.Warn("playback enqueue failed", "error", err)
		return
	}
	tr.Audio = true
	tr.AudioStart = start
	tr.AudioDuration = buf.Duration()
}

// commitLocked commits Learner then Partner, skipping empty buffers, and
// clears both.
func (a *Assembler) commitLocked() []Turn {
	var committed []Turn
	if a.learner.Len() > 0 {
		committed = append(committed, Turn{Speaker: Learner, Text: a.learner.String()})
	}
	if a.partner.Len() > 0 {
		committed = append(committed, Turn{Speaker: Partner, Text: a.partner.String()})
	}
	a.learner.Reset()
	a.partner.Reset()
	a.turns = append(a.turns, committed...)
	return committed
}

// endLocked enters Ending and strips the sentinel from the last turn in
// place. A turn left empty by the strip is dropped. It returns the
// stripped text.
func (a *Assembler) endLocked() string {
	a.state = StateEnding
	last := len(a.turns) - 1
	text := StripSentinel(a.turns[last].Text)
	if text == "" {
		a.turns = a.turns[:last]
	} else {
		a.turns[last].Text = text
	}
	a.logger.Info("conversation finished", "turns", len(a.turns))
	return text
}

func (a *Assembler) closeLocked(err error) Transition {
	tr := Transition{From: a.state, To: StateClosed, Err: err}
	if a.state == StateClosed {
		tr.Discarded = true
		tr.Err = a.err
		return tr
	}
	a.state = StateClosed
	a.err = err
	a.learner.Reset()
	a.partner.Reset()
	a.turns = nil
	if err != nil {
		a.logger.Warn("conversation closed", "error", err)
	}
	return tr
}

func closedCause(err error) error {
	if err == nil {
		return realtime.ErrClosed
	}
	return err
}

// StripSentinel removes every end sentinel and the whitespace around it.
// Text on either side is joined with a single space.
func StripSentinel(s string) string {
	parts := strings.Split(s, topic.Sentinel)
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// hideSentinel strips complete sentinels and a trailing sentinel prefix
// such as "[CONVERSATION_FIN".
func hideSentinel(s string) string {
	if strings.Contains(s, topic.Sentinel) {
		s = StripSentinel(s)
	}
	if i := strings.LastIndexByte(s, '['); i >= 0 && strings.HasPrefix(topic.Sentinel, s[i:]) {
		s = strings.TrimRight(s[:i], " \t\r\n")
	}
	return s
}
