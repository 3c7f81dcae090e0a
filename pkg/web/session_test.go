package web

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/teslashibe/go-esol/pkg/audioio"
	"github.com/teslashibe/go-esol/pkg/conversation"
	"github.com/teslashibe/go-esol/pkg/protocol"
	"github.com/teslashibe/go-esol/pkg/realtime"
	"github.com/teslashibe/go-esol/pkg/topic"
)

// channels hands out a MockChannel per open.
type channels struct {
	mu    sync.Mutex
	chans []*conversation.MockChannel
}

func (c *channels) open(ctx context.Context, cfg realtime.Config, capture audioio.Source) (conversation.Channel, error) {
	mc := conversation.NewMockChannel()
	ch, err := mc.Opener()(ctx, cfg, capture)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.chans = append(c.chans, mc)
	c.mu.Unlock()
	return ch, nil
}

func (c *channels) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chans)
}

func (c *channels) last(t *testing.T) *conversation.MockChannel {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no channel opened")
		}
		time.Sleep(2 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chans[len(c.chans)-1]
}

// listen serves the app on a loopback port and returns its ws base URL.
func listen(t *testing.T, env *testEnv) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go env.srv.App().Listener(ln)
	return "ws://" + ln.Addr().String()
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, url string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msg *protocol.Message, err error) {
	c.t.Helper()
	if err != nil {
		c.t.Fatal(err)
	}
	data, _ := msg.Bytes()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatal(err)
	}
}

// until reads messages until one matches.
func (c *client) until(what string, match func(*protocol.Message) bool) *protocol.Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", what, err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.t.Fatal(err)
		}
		if match(msg) {
			return msg
		}
	}
}

func (c *client) untilType(typ protocol.MessageType) *protocol.Message {
	c.t.Helper()
	return c.until(string(typ), func(m *protocol.Message) bool { return m.Type == typ })
}

func (c *client) untilState(state string) *protocol.StateData {
	c.t.Helper()
	msg := c.until("state "+state, func(m *protocol.Message) bool {
		if m.Type != protocol.TypeState {
			return false
		}
		d, err := m.GetStateData()
		return err == nil && d.State == state
	})
	d, _ := msg.GetStateData()
	return d
}

func TestSessionConversation(t *testing.T) {
	chans := &channels{}
	env := newTestEnv(t, func(c *Config) { c.Opener = chans.open })
	base := listen(t, env)
	first := topic.Default().All()[0]

	c := dialWS(t, base+"/ws/session")
	c.send(protocol.NewStartMessage(first.ID, ""))
	c.untilState("connecting")
	active := c.untilState("active")

	mc := chans.last(t)

	// 4096 float32 samples make one capture chunk.
	mic := audioio.EncodeFloat32LE(make([]float32, audioio.DefaultConfig().BufferSamples))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, mic); err != nil {
		t.Fatal(err)
	}

	mc.SimulatePartialInput("I would like ")
	mc.SimulatePartialInput("some bread.")
	c.untilType(protocol.TypePartial)

	mc.SimulateAudio(make([]byte, 4800)) // 100ms at 24kHz
	audio, err := c.untilType(protocol.TypeAudio).GetAudioData()
	if err != nil || audio.SampleRate != audioio.OutputSampleRate || audio.Channels != 1 {
		t.Fatalf("audio = %+v, %v", audio, err)
	}

	mc.SimulatePartialOutput("Here you are. Goodbye! " + topic.Sentinel)
	mc.SimulateTurnComplete()

	learner := c.untilType(protocol.TypeTurn)
	var turn protocol.TurnData
	learner.ParseData(&turn)
	if turn.Speaker != "learner" || turn.Text != "I would like some bread." {
		t.Errorf("learner turn = %+v", turn)
	}
	partner := c.untilType(protocol.TypeTurn)
	partner.ParseData(&turn)
	if turn.Speaker != "partner" || strings.Contains(turn.Text, topic.Sentinel) {
		t.Errorf("partner turn = %+v", turn)
	}

	c.untilState("ending")
	c.untilType(protocol.TypeReportLoading)
	rep, err := c.untilType(protocol.TypeReport).GetReportData()
	if err != nil || rep.Report == nil || len(rep.Transcript) != 2 {
		t.Fatalf("report = %+v, %v", rep, err)
	}

	if env.reporter.CallCount() != 1 {
		t.Errorf("reporter calls = %d", env.reporter.CallCount())
	}
	if len(mc.Sent()) == 0 {
		t.Error("mic audio never reached the channel")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(env.publisher.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	published := env.publisher.all()
	if len(published) != 1 || published[0].SessionID != active.SessionID || published[0].Report == nil {
		t.Errorf("published = %+v", published)
	}

	if _, ok := env.srv.lookup(active.SessionID); !ok {
		t.Error("completed session not kept for export")
	}
	if got := testutil.ToFloat64(env.metrics.SessionsEnded.WithLabelValues("completed")); got != 1 {
		t.Errorf("sessions completed = %v", got)
	}
	if got := testutil.ToFloat64(env.metrics.TurnsCommitted.WithLabelValues("learner")); got != 1 {
		t.Errorf("learner turns = %v", got)
	}
}

func TestSessionMicUnavailable(t *testing.T) {
	chans := &channels{}
	env := newTestEnv(t, func(c *Config) { c.Opener = chans.open })
	base := listen(t, env)

	c := dialWS(t, base+"/ws/session")
	c.send(protocol.NewStartMessage(topic.Default().All()[0].ID, "NotAllowedError"))

	msg := c.untilType(protocol.TypeError)
	var data protocol.ErrorData
	msg.ParseData(&data)
	if data.Kind != "device_unavailable" {
		t.Errorf("kind = %q", data.Kind)
	}
	c.untilState("closed")

	if chans.count() != 0 {
		t.Errorf("opened %d channels after mic failure", chans.count())
	}
}

func TestSessionStopAndReset(t *testing.T) {
	chans := &channels{}
	env := newTestEnv(t, func(c *Config) { c.Opener = chans.open })
	base := listen(t, env)
	id := topic.Default().All()[0].ID

	c := dialWS(t, base+"/ws/session")
	c.send(protocol.NewStartMessage(id, ""))
	c.untilState("active")

	c.send(protocol.NewStopMessage())
	c.untilState("closed")

	c.send(protocol.NewStartMessage(id, ""))
	msg := c.untilType(protocol.TypeError)
	var data protocol.ErrorData
	msg.ParseData(&data)
	if data.Kind != "invalid_transition" {
		t.Errorf("kind = %q", data.Kind)
	}

	c.send(protocol.NewResetMessage())
	c.untilState("idle")
	c.send(protocol.NewStartMessage(id, ""))
	c.untilState("active")

	if chans.count() != 2 {
		t.Errorf("channels opened = %d", chans.count())
	}
	if env.reporter.CallCount() != 0 {
		t.Errorf("report requested after stop")
	}
	if got := testutil.ToFloat64(env.metrics.SessionsEnded.WithLabelValues("stopped")); got != 1 {
		t.Errorf("sessions stopped = %v", got)
	}
}

func TestSessionUnknownTopic(t *testing.T) {
	env := newTestEnv(t)
	base := listen(t, env)

	c := dialWS(t, base+"/ws/session")
	c.send(protocol.NewStartMessage(9999, ""))
	msg := c.untilType(protocol.TypeError)
	var data protocol.ErrorData
	msg.ParseData(&data)
	if data.Kind != "unknown_topic" {
		t.Errorf("kind = %q", data.Kind)
	}
}

func TestSessionPing(t *testing.T) {
	env := newTestEnv(t)
	base := listen(t, env)

	c := dialWS(t, base+"/ws/session")
	c.send(protocol.NewPingMessage("p1"))
	msg := c.untilType(protocol.TypePong)
	var pong protocol.PongData
	msg.ParseData(&pong)
	if pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestOfferWithoutWebRTC(t *testing.T) {
	env := newTestEnv(t)
	base := listen(t, env)

	c := dialWS(t, base+"/ws/session")
	c.send(protocol.NewOfferMessage("v=0"))
	msg := c.untilType(protocol.TypeError)
	var data protocol.ErrorData
	msg.ParseData(&data)
	if data.Kind != "webrtc_disabled" {
		t.Errorf("kind = %q", data.Kind)
	}
}

func TestMonitorSeesSessions(t *testing.T) {
	chans := &channels{}
	env := newTestEnv(t, func(c *Config) { c.Opener = chans.open })
	base := listen(t, env)
	first := topic.Default().All()[0]

	learner := dialWS(t, base+"/ws/session")
	learner.send(protocol.NewStartMessage(first.ID, ""))
	learner.untilState("active")

	monitor := dialWS(t, base+"/ws/monitor")
	msg := monitor.untilType(protocol.TypeSessionEvent)
	ev, err := msg.GetSessionEvent()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Topic != first.Title || ev.State != "active" {
		t.Errorf("snapshot = %+v", ev)
	}

	chans.last(t).SimulatePartialInput("Hello")
	chans.last(t).SimulateTurnComplete()
	turn := monitor.until("turn event", func(m *protocol.Message) bool {
		ev, err := m.GetSessionEvent()
		return err == nil && ev.Event == protocol.EventTurn
	})
	ev, _ = turn.GetSessionEvent()
	if ev.Turns != 1 || ev.Speaker != "learner" || ev.Text != "Hello" {
		t.Errorf("turn event = %+v", ev)
	}

	learner.conn.Close()
	monitor.until("disconnect", func(m *protocol.Message) bool {
		ev, err := m.GetSessionEvent()
		return err == nil && ev.Event == protocol.EventDisconnected
	})
	if n := len(env.srv.Hub().Sessions()); n != 0 {
		t.Errorf("sessions after disconnect = %d", n)
	}
}

func TestEnqueueBackpressure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc := &learnerConn{
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, 1),
		logger: slog.Default(),
	}

	audio, err := protocol.NewAudioMessage("a1", make([]byte, 4), audioio.OutputSampleRate, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	lc.enqueue(audio)
	lc.enqueue(audio)
	if len(lc.send) != 1 {
		t.Fatalf("queued = %d, want 1", len(lc.send))
	}
	if ctx.Err() != nil {
		t.Fatal("dropped audio should not close the connection")
	}

	state, err := protocol.NewStateMessage("active", "s1")
	if err != nil {
		t.Fatal(err)
	}
	lc.enqueue(state)
	if ctx.Err() == nil {
		t.Error("a dropped state message should close the connection")
	}
}
