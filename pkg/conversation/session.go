package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-esol/pkg/audioio"
	"github.com/teslashibe/go-esol/pkg/playback"
	"github.com/teslashibe/go-esol/pkg/realtime"
	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/topic"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// Session owns every resource of a conversation attempt: the capture
// source, the channel, the playback scheduler and the grace timer. They
// are released on every terminal transition.
//
// A finished conversation is handed to the Reporter and the session drops
// back to a fresh Idle attempt while the report loads. A session that
// closed for any other reason stays Closed until Reset.
type Session struct {
	cfg    Config
	id     string
	logger *slog.Logger

	mu        sync.Mutex
	gen       uint64
	asm       *Assembler
	sched     *playback.Scheduler
	ch        Channel
	cancel    context.CancelFunc
	grace     playback.Timer
	startedAt time.Time
	err       error

	// Finalized transcript and report of the last handed-off attempt.
	transcript    []Turn
	report        *report.Report
	reportLoading bool
	reportGen     uint64
	reportCancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewSession creates an Idle session.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.withDefaults()

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	s := &Session{
		cfg:    cfg,
		id:     id,
		logger: cfg.Logger.With("component", "session", "session_id", id),
	}
	s.newAttemptLocked()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Topic returns the session topic.
func (s *Session) Topic() topic.Topic { return s.cfg.Topic }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asm.State()
}

// Start opens the channel and begins the conversation. It blocks until the
// channel is open or has failed. Capture failure yields a SessionError of
// kind ErrDeviceUnavailable, and any other open failure one of kind
// ErrChannel. Either way the session is Closed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.asm.Begin(); err != nil {
		s.mu.Unlock()
		return err
	}
	gen := s.gen
	s.cancelReportLocked()
	s.transcript, s.report, s.err = nil, nil, nil
	s.startedAt = time.Now()

	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.emitState()
	s.mu.Unlock()

	s.logger.Info("session starting", "topic", s.cfg.Topic.Title)

	rcfg := s.cfg.Realtime
	rcfg.SystemInstruction = topic.ConversationPrompt(s.cfg.Topic)
	rcfg.OpeningText = topic.OpeningUtterance(s.cfg.Topic)
	if rcfg.Logger == nil {
		rcfg.Logger = s.logger
	}

	// The caller's ctx bounds the open only. Afterwards the attempt lives
	// until Stop, Reset or a terminal event.
	unwatch := context.AfterFunc(ctx, cancel)
	ch, err := s.cfg.Opener(attemptCtx, rcfg, s.cfg.Capture)
	unwatch()

	s.mu.Lock()
	if gen != s.gen || s.asm.State() != StateConnecting {
		// The open may have restarted capture after teardown stopped it.
		// Stop it again unless a newer attempt now owns it.
		if st := s.asm.State(); st == StateIdle || st.IsTerminal() {
			s.stopCaptureLocked()
		}
		s.mu.Unlock()
		s.discard(ch)
		return ErrStopped
	}

	if err == nil && attemptCtx.Err() != nil {
		err = attemptCtx.Err()
		s.discard(ch)
		ch = nil
	}
	if err == nil {
		if err = s.asm.Activate(); err != nil {
			s.logger.Warn("channel open but attempt not activatable", "state", s.asm.State(), "error", err)
			s.discard(ch)
			ch = nil
		}
	}

	if err != nil {
		kind := ErrChannel
		if errors.Is(err, audioio.ErrDeviceUnavailable) {
			kind = ErrDeviceUnavailable
		}
		tr := s.asm.Fail(kind, err)
		s.err = tr.Err
		release := s.teardownLocked()
		s.emit(Update{Kind: UpdateError, Err: tr.Err})
		s.emitState()
		s.mu.Unlock()
		release()

		s.logger.Warn("session failed to start", "error", tr.Err)
		return tr.Err
	}

	s.ch = ch
	s.emitState()

	s.wg.Add(1)
	go s.dispatch(gen, ch)
	if s.cfg.Capture != nil {
		s.wg.Add(1)
		go s.pump(attemptCtx, ch)
	}
	s.mu.Unlock()

	s.logger.Info("session active")
	return nil
}

// discard closes a channel opened for an attempt that no longer exists.
func (s *Session) discard(ch Channel) {
	if ch == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for range ch.Events() {
		}
	}()
	ch.Close()
}

// Stop cancels the conversation. From Connecting, Active or Ending the
// session goes straight to Closed, partial text is dropped and no report
// is produced. Nothing is delivered to the observer for this attempt
// afterwards except the Closed state.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.asm.State() {
	case StateIdle, StateClosed:
		s.mu.Unlock()
		return
	}
	s.asm.Cancel()
	release := s.teardownLocked()
	s.emitState()
	s.mu.Unlock()

	release()
	s.logger.Info("session stopped")
}

// Reset discards everything, including a pending report, and starts a
// fresh Idle attempt.
func (s *Session) Reset() {
	s.mu.Lock()
	release := func() {}
	switch s.asm.State() {
	case StateConnecting, StateActive, StateEnding:
		s.asm.Cancel()
		release = s.teardownLocked()
	}
	s.cancelReportLocked()
	s.transcript, s.report, s.err = nil, nil, nil
	s.newAttemptLocked()
	s.emitState()
	s.mu.Unlock()

	release()
}

// Close stops the session and abandons any pending report.
func (s *Session) Close() {
	s.Stop()

	s.mu.Lock()
	s.cancelReportLocked()
	s.mu.Unlock()
}

// Wait blocks until every goroutine of the session has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	learner, partner := s.asm.Partials()
	turns := s.transcript
	if turns == nil {
		turns = s.asm.Transcript()
	} else {
		turns = append([]Turn(nil), turns...)
	}

	return Snapshot{
		ID:            s.id,
		Topic:         s.cfg.Topic,
		State:         s.asm.State(),
		Learner:       learner,
		Partner:       partner,
		Transcript:    turns,
		ReportLoading: s.reportLoading,
		Report:        s.report,
		Err:           s.err,
		StartedAt:     s.startedAt,
	}
}

func (s *Session) dispatch(gen uint64, ch Channel) {
	defer s.wg.Done()
	for ev := range ch.Events() {
		s.handle(gen, ev)
	}
}

func (s *Session) pump(ctx context.Context, ch Channel) {
	defer s.wg.Done()
	if err := realtime.Pump(ctx, ch, s.cfg.Capture); err != nil {
		s.logger.Warn("audio pump stopped", "error", err)
	}
}

func (s *Session) handle(gen uint64, ev realtime.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	tr := s.asm.HandleEvent(ev)
	if tr.Discarded {
		s.mu.Unlock()
		return
	}

	if tr.PartialChanged {
		learner, partner := s.asm.Partials()
		s.emit(Update{Kind: UpdatePartial, Learner: learner, Partner: partner})
	}
	for _, t := range tr.Committed {
		s.emit(Update{Kind: UpdateTurn, Turn: t})
	}
	if tr.Audio {
		s.emit(Update{Kind: UpdateAudio, AudioStart: tr.AudioStart, AudioDuration: tr.AudioDuration})
	}
	if tr.Interrupted {
		s.emit(Update{Kind: UpdateInterrupted})
	}

	var release func()
	if tr.Changed() {
		switch tr.To {
		case StateEnding:
			s.grace = s.cfg.Clock.AfterFunc(s.cfg.GraceDelay, func() { s.finish(gen) })
		case StateClosed:
			s.err = tr.Err
			release = s.teardownLocked()
			s.emit(Update{Kind: UpdateError, Err: tr.Err})
		}
		s.emitState()
	}
	s.mu.Unlock()

	// Closing the channel from its own dispatch goroutine could block on
	// the event buffer this goroutine drains.
	if release != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			release()
		}()
	}
}

// finish runs when the grace delay expires.
func (s *Session) finish(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	turns, err := s.asm.Finish()
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.grace = nil
	release := s.teardownLocked()
	s.emitState()

	s.transcript = turns
	if s.cfg.Reporter != nil {
		s.requestReportLocked(turns)
	}
	s.newAttemptLocked()
	s.emitState()
	s.mu.Unlock()

	release()

	learner, partner := transcript.Count(turns)
	s.logger.Info("conversation handed off",
		"learner_turns", learner,
		"partner_turns", partner,
		"duration", time.Since(s.startedAt).Round(time.Millisecond))
}

func (s *Session) requestReportLocked(turns []Turn) {
	s.cancelReportLocked()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReportTimeout)
	token := s.reportGen
	s.reportCancel = cancel
	s.reportLoading = true
	s.emit(Update{Kind: UpdateReportLoading})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		rep, err := s.cfg.Reporter.Generate(ctx, turns)

		s.mu.Lock()
		defer s.mu.Unlock()
		if token != s.reportGen {
			return
		}
		s.reportLoading = false
		s.reportCancel = nil
		if err != nil {
			s.err = newSessionError(ErrReportGenerationFailed, err)
			s.emit(Update{Kind: UpdateReportFailed, Err: s.err})
			return
		}
		s.report = rep
		s.emit(Update{Kind: UpdateReport, Report: rep, Transcript: append([]Turn(nil), turns...)})
	}()
}

func (s *Session) cancelReportLocked() {
	s.reportGen++
	s.reportLoading = false
	if s.reportCancel != nil {
		s.reportCancel()
		s.reportCancel = nil
	}
}

// newAttemptLocked builds a fresh Idle assembler and scheduler. Pending
// callbacks of the previous attempt see a different generation and return.
func (s *Session) newAttemptLocked() {
	if s.sched != nil {
		s.sched.Close()
	}
	s.gen++
	s.sched = playback.NewScheduler(s.cfg.Output, s.logger)
	s.asm = NewAssembler(s.sched, s.logger)
	s.ch = nil
	s.cancel = nil
	s.grace = nil
}

// teardownLocked releases the attempt's resources. Capture stops here, while
// the attempt still owns it. Closing the channel may block, so that runs in
// the returned func once the lock is released.
func (s *Session) teardownLocked() func() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	s.sched.Close()
	s.stopCaptureLocked()

	ch := s.ch
	s.ch = nil

	return func() {
		if ch != nil {
			ch.Close()
		}
	}
}

// stopCaptureLocked stops the shared capture source. Sources only take their
// own lock in Stop.
func (s *Session) stopCaptureLocked() {
	if s.cfg.Capture == nil {
		return
	}
	if err := s.cfg.Capture.Stop(); err != nil {
		s.logger.Debug("capture stop", "error", err)
	}
}

func (s *Session) emitState() {
	s.emit(Update{Kind: UpdateState})
}

func (s *Session) emit(u Update) {
	if s.cfg.Observer == nil {
		return
	}
	u.SessionID = s.id
	u.State = s.asm.State()
	s.cfg.Observer(u)
}
