package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	contribws "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/teslashibe/go-esol/pkg/audioio"
	"github.com/teslashibe/go-esol/pkg/conversation"
	"github.com/teslashibe/go-esol/pkg/events"
	"github.com/teslashibe/go-esol/pkg/playback"
	"github.com/teslashibe/go-esol/pkg/protocol"
	"github.com/teslashibe/go-esol/pkg/rtc"
	"github.com/teslashibe/go-esol/pkg/topic"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

const (
	sessionWriteWait  = 10 * time.Second
	sessionPingPeriod = 30 * time.Second
	sessionSendBuffer = 512
	maxMicFrameBytes  = 1 << 20
	offerTimeout      = 15 * time.Second
	publishTimeout    = 10 * time.Second
)

// learnerConn is one browser on /ws/session. Only writePump writes to the
// socket.
type learnerConn struct {
	srv    *Server
	id     string
	conn   *contribws.Conn
	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	send    chan []byte
	capture *audioio.PushSource
	clock   *playback.WallClock

	mu   sync.Mutex
	sess *conversation.Session
	peer *rtc.Peer
}

// handleSessionWS runs one learner's conversation for the lifetime of the
// socket.
func (s *Server) handleSessionWS(c *contribws.Conn) {
	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(s.ctx)
	lc := &learnerConn{
		srv:     s,
		id:      uuid.NewString(),
		conn:    c,
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan []byte, sessionSendBuffer),
		capture: audioio.NewPushSource(audioio.DefaultConfig(), s.cfg.Logger),
		clock:   playback.NewWallClock(),
	}
	lc.logger = s.logger.With("conn_id", lc.id)
	lc.logger.Info("learner connected")

	go lc.writePump()
	lc.readLoop()
	lc.close()

	lc.logger.Info("learner disconnected")
}

func (lc *learnerConn) readLoop() {
	lc.conn.SetReadLimit(maxMicFrameBytes)

	for {
		mt, data, err := lc.conn.ReadMessage()
		if err != nil {
			return
		}

		if mt == contribws.BinaryMessage {
			lc.pushMic(data)
			continue
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			lc.logger.Debug("ignoring malformed message", "error", err)
			continue
		}
		lc.handleMessage(msg)
	}
}

func (lc *learnerConn) pushMic(data []byte) {
	samples, err := audioio.DecodeFloat32LE(data)
	if err != nil {
		lc.logger.Debug("ignoring malformed mic frame", "error", err, "bytes", len(data))
		return
	}
	lc.srv.cfg.Metrics.RecordAudioIn(len(data))
	lc.capture.Push(samples)
}

func (lc *learnerConn) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeStart:
		data, err := msg.GetStartData()
		if err != nil {
			lc.sendError("bad_request", err.Error())
			return
		}
		lc.start(data)

	case protocol.TypeStop:
		if sess := lc.session(); sess != nil {
			sess.Stop()
		}

	case protocol.TypeReset:
		if sess := lc.session(); sess != nil {
			sess.Reset()
		}

	case protocol.TypeOffer:
		data, err := msg.GetOfferData()
		if err != nil {
			lc.sendError("bad_request", err.Error())
			return
		}
		lc.answer(data.SDP)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return
		}
		pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
		if err == nil {
			lc.enqueue(pong)
		}

	default:
		lc.logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (lc *learnerConn) session() *conversation.Session {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.sess
}

// start begins a conversation on the chosen topic. Start blocks until the
// channel opens, so it runs off the read loop to keep stop responsive.
func (lc *learnerConn) start(data *protocol.StartData) {
	t, err := lc.srv.cfg.Catalog.Get(data.TopicID)
	if err != nil {
		lc.sendError("unknown_topic", err.Error())
		return
	}

	if data.MicError != "" {
		lc.capture.Fail(errors.New(data.MicError))
	} else {
		lc.capture.Recover()
	}

	sess, err := lc.sessionFor(t)
	if err != nil {
		lc.sendError("internal", err.Error())
		return
	}

	go func() {
		err := sess.Start(lc.ctx)
		var se *conversation.SessionError
		switch {
		case err == nil, errors.As(err, &se), errors.Is(err, conversation.ErrStopped):
			// Reported through the observer, or superseded.
		case errors.Is(err, conversation.ErrInvalidTransition):
			lc.sendError("invalid_transition", "reset the session before starting again")
		default:
			lc.sendError("internal", err.Error())
		}
	}()
}

// sessionFor returns the current session if it is on topic t, and
// otherwise replaces it with a new one.
func (lc *learnerConn) sessionFor(t topic.Topic) (*conversation.Session, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.sess != nil {
		if lc.sess.Topic().ID == t.ID {
			return lc.sess, nil
		}
		lc.retireLocked()
	}

	sess, err := lc.newSessionLocked(t)
	if err != nil {
		return nil, err
	}
	lc.sess = sess
	return sess, nil
}

func (lc *learnerConn) newSessionLocked(t topic.Topic) (*conversation.Session, error) {
	srv := lc.srv
	id := uuid.NewString()

	cfg := conversation.DefaultConfig()
	cfg.ID = id
	cfg.Topic = t
	cfg.Realtime = srv.cfg.Realtime
	cfg.Capture = lc.capture
	cfg.Clock = lc.clock
	cfg.Reporter = srv.cfg.Metrics.InstrumentReporter(srv.cfg.Reporter)
	cfg.Logger = lc.logger
	if srv.cfg.Opener != nil {
		cfg.Opener = srv.cfg.Opener
	}
	if srv.cfg.GraceDelay > 0 {
		cfg.GraceDelay = srv.cfg.GraceDelay
	}
	if srv.cfg.ReportTimeout > 0 {
		cfg.ReportTimeout = srv.cfg.ReportTimeout
	}

	if lc.peer != nil {
		cfg.Output = playback.NewSinkOutput(lc.ctx, lc.peer.Speaker(), lc.clock, lc.logger)
	} else {
		cfg.Output = playback.NewTimedOutput(lc.clock, lc.deliverAudio)
	}

	obs := &observer{lc: lc, id: id, topic: t}
	cfg.Observer = obs.observe

	sess, err := conversation.NewSession(cfg)
	if err != nil {
		return nil, err
	}

	srv.hub.Publish(protocol.SessionEvent{
		SessionID: id,
		TopicID:   t.ID,
		Topic:     t.Title,
		Event:     protocol.EventConnected,
		State:     conversation.StateIdle.String(),
	})
	lc.logger.Info("session created", "session_id", id, "topic", t.Title)
	return sess, nil
}

// retireLocked closes the current session and tells monitors it is gone.
func (lc *learnerConn) retireLocked() {
	old := lc.sess
	lc.sess = nil
	old.Close()
	lc.srv.hub.Publish(protocol.SessionEvent{
		SessionID: old.ID(),
		TopicID:   old.Topic().ID,
		Topic:     old.Topic().Title,
		Event:     protocol.EventDisconnected,
		State:     conversation.StateClosed.String(),
	})
}

// answer sets up WebRTC. Partner audio moves to the peer's track from the
// next session created on this connection, so an idle session is replaced
// right away.
func (lc *learnerConn) answer(sdp string) {
	if !lc.srv.cfg.WebRTC {
		lc.sendError("webrtc_disabled", "webrtc is not enabled on this server")
		return
	}

	peer, err := rtc.NewPeer(rtc.Config{
		STUNURL: lc.srv.cfg.STUNURL,
		Capture: lc.capture,
		Logger:  lc.logger,
	})
	if err != nil {
		lc.sendError("webrtc_failed", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(lc.ctx, offerTimeout)
	defer cancel()
	answer, err := peer.Answer(ctx, sdp)
	if err != nil {
		peer.Close()
		lc.sendError("webrtc_failed", err.Error())
		return
	}
	if err := peer.Speaker().Start(lc.ctx); err != nil {
		peer.Close()
		lc.sendError("webrtc_failed", err.Error())
		return
	}

	lc.mu.Lock()
	if lc.peer != nil {
		lc.peer.Close()
	}
	lc.peer = peer
	if lc.sess != nil {
		if st := lc.sess.State(); st == conversation.StateIdle || st.IsTerminal() {
			lc.retireLocked()
		}
	}
	lc.mu.Unlock()

	if msg, err := protocol.NewAnswerMessage(answer); err == nil {
		lc.enqueue(msg)
	}
	lc.logger.Info("webrtc connected")
}

// deliverAudio sends one scheduled partner buffer to the browser.
func (lc *learnerConn) deliverAudio(f playback.Frame) error {
	if lc.ctx.Err() != nil {
		return lc.ctx.Err()
	}
	msg, err := protocol.NewAudioMessage(f.ID,
		audioio.EncodeFloat32(f.Buffer.Interleaved()),
		f.Buffer.SampleRate, f.Buffer.Channels, f.Start)
	if err != nil {
		return err
	}
	lc.enqueue(msg)
	return nil
}

func (lc *learnerConn) sendError(kind, message string) {
	if msg, err := protocol.NewErrorMessage(kind, message); err == nil {
		lc.enqueue(msg)
	}
}

// enqueue never blocks. It is called from session observers, which run
// under the session lock. A full buffer drops audio frames; any other
// message closes the connection so the browser never misses a state change.
func (lc *learnerConn) enqueue(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		lc.logger.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}
	select {
	case <-lc.ctx.Done():
	case lc.send <- data:
	default:
		if msg.Type == protocol.TypeAudio {
			lc.logger.Debug("send buffer full, dropping audio")
			return
		}
		lc.logger.Warn("send buffer full, closing connection", "type", msg.Type)
		lc.cancel()
	}
}

func (lc *learnerConn) writePump() {
	ticker := time.NewTicker(sessionPingPeriod)
	defer func() {
		ticker.Stop()
		lc.conn.Close()
	}()

	for {
		select {
		case <-lc.ctx.Done():
			lc.conn.SetWriteDeadline(time.Now().Add(time.Second))
			lc.conn.WriteMessage(contribws.CloseMessage, []byte{})
			return

		case data := <-lc.send:
			lc.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
			if err := lc.conn.WriteMessage(contribws.TextMessage, data); err != nil {
				lc.logger.Debug("write failed", "error", err)
				lc.cancel()
				return
			}

		case <-ticker.C:
			lc.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
			if err := lc.conn.WriteMessage(contribws.PingMessage, nil); err != nil {
				lc.cancel()
				return
			}
		}
	}
}

func (lc *learnerConn) close() {
	lc.mu.Lock()
	if lc.sess != nil {
		lc.retireLocked()
	}
	peer := lc.peer
	lc.peer = nil
	lc.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
	lc.capture.Close()
	lc.cancel()
}

// observer turns session updates into browser messages, monitor events,
// metrics and completion events. It runs under the session lock.
type observer struct {
	lc    *learnerConn
	id    string
	topic topic.Topic

	prev      conversation.State
	lastErr   error
	turns     []transcript.Turn
	startedAt time.Time
}

func (o *observer) observe(u conversation.Update) {
	srv := o.lc.srv
	srv.cfg.Metrics.Observe(u)

	switch u.Kind {
	case conversation.UpdateState:
		o.track(u.State)
		o.send(protocol.NewStateMessage(u.State.String(), u.SessionID))
		o.publish(u, protocol.EventState, "", "", "")

	case conversation.UpdatePartial:
		o.send(protocol.NewPartialMessage(u.Learner, u.Partner))

	case conversation.UpdateTurn:
		o.turns = append(o.turns, u.Turn)
		o.send(protocol.NewTurnMessage(u.Turn))
		o.publish(u, protocol.EventTurn, string(u.Turn.Speaker), u.Turn.Text, "")

	case conversation.UpdateInterrupted:
		o.send(protocol.NewInterruptedMessage())

	case conversation.UpdateReportLoading:
		o.send(protocol.NewReportLoadingMessage())

	case conversation.UpdateReport:
		o.send(protocol.NewReportMessage(u.Report, u.Transcript))
		o.publish(u, protocol.EventReport, "", "", "")
		srv.remember(&completedSession{
			ID:         o.id,
			Topic:      o.topic,
			StartedAt:  o.startedAt,
			Transcript: u.Transcript,
			Report:     u.Report,
		})
		o.completed(events.SessionCompleted{Transcript: u.Transcript, Report: u.Report})

	case conversation.UpdateReportFailed:
		o.send(protocol.NewReportFailedMessage(u.Err))
		o.publish(u, protocol.EventReportFailed, "", "", u.Err.Error())
		o.completed(events.SessionCompleted{
			Transcript:  append([]transcript.Turn(nil), o.turns...),
			ReportError: u.Err.Error(),
		})

	case conversation.UpdateError:
		o.lastErr = u.Err
		o.send(protocol.NewErrorMessage(conversation.KindName(u.Err), u.Err.Error()))
		o.publish(u, protocol.EventError, "", "", u.Err.Error())
	}
}

// track records session start and end metrics from state transitions.
func (o *observer) track(st conversation.State) {
	m := o.lc.srv.cfg.Metrics
	wasRunning := o.prev == conversation.StateConnecting ||
		o.prev == conversation.StateActive ||
		o.prev == conversation.StateEnding

	switch {
	case st == conversation.StateConnecting:
		o.startedAt = time.Now()
		o.turns = nil
		o.lastErr = nil
		m.RecordSessionStart()
	case wasRunning && (st == conversation.StateClosed || st == conversation.StateIdle):
		outcome := "stopped"
		switch {
		case o.lastErr != nil:
			outcome = conversation.KindName(o.lastErr)
		case o.prev == conversation.StateEnding:
			outcome = "completed"
		}
		m.RecordSessionEnd(outcome, time.Since(o.startedAt))
	}
	o.prev = st
}

func (o *observer) send(msg *protocol.Message, err error) {
	if err != nil {
		o.lc.logger.Error("failed to build message", "error", err)
		return
	}
	o.lc.enqueue(msg)
}

func (o *observer) publish(u conversation.Update, event, speaker, text, errText string) {
	o.lc.srv.hub.Publish(protocol.SessionEvent{
		SessionID: o.id,
		TopicID:   o.topic.ID,
		Topic:     o.topic.Title,
		Event:     event,
		State:     u.State.String(),
		Turns:     len(o.turns),
		Speaker:   speaker,
		Text:      text,
		Error:     errText,
	})
}

// completed publishes the finished session without holding up the session.
func (o *observer) completed(ev events.SessionCompleted) {
	srv := o.lc.srv
	if srv.cfg.Publisher == nil {
		return
	}
	ev.SessionID = o.id
	ev.TopicID = o.topic.ID
	ev.Topic = o.topic.Title
	ev.StartedAt = o.startedAt
	ev.CompletedAt = time.Now()

	srv.conns.Add(1)
	go func() {
		defer srv.conns.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(srv.ctx), publishTimeout)
		defer cancel()
		if err := srv.cfg.Publisher.PublishSessionCompleted(ctx, ev); err != nil {
			srv.logger.Warn("failed to publish session", "session_id", ev.SessionID, "error", err)
		}
	}()
}
