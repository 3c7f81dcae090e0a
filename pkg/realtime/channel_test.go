package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

// fakeLive is a minimal Live endpoint. It records client messages and hands
// each accepted connection to the test.
type fakeLive struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan map[string]any
	dials    atomic.Int32
}

func newFakeLive(t *testing.T, confirm bool) *fakeLive {
	t.Helper()

	f := &fakeLive{
		conns:    make(chan *websocket.Conn, 1),
		received: make(chan map[string]any, 64),
	}
	upgrader := websocket.Upgrader{}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.dials.Add(1)
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		f.received <- setup

		if confirm {
			conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		}
		f.conns <- conn

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.received <- msg
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLive) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeLive) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

func (f *fakeLive) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func testConfig(f *fakeLive) Config {
	cfg := DefaultConfig()
	cfg.Apply(
		WithAPIKey("test-key"),
		WithURL(f.url()),
		WithInstructions("be a partner", "Hello! Let's start."),
	)
	cfg.SetupTimeout = 2 * time.Second
	return cfg
}

func collect(t *testing.T, ch *Channel, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("got %d events, want %d", len(out), n)
		}
	}
	return out
}

func drain(t *testing.T, ch *Channel) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream not closed")
		}
	}
}

func TestOpenSendsSetupThenOpening(t *testing.T) {
	f := newFakeLive(t, true)
	src := audioio.NewMockSource(audioio.DefaultConfig(), nil)
	defer src.Close()

	ch, err := Open(context.Background(), testConfig(f), src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	setup, ok := f.next(t)["setup"].(map[string]any)
	if !ok {
		t.Fatal("first message is not setup")
	}
	if setup["model"] != DefaultModel {
		t.Errorf("model = %v", setup["model"])
	}
	if _, ok := setup["input_audio_transcription"]; !ok {
		t.Error("input transcription not enabled")
	}
	if _, ok := setup["output_audio_transcription"]; !ok {
		t.Error("output transcription not enabled")
	}
	gen := setup["generation_config"].(map[string]any)
	if mods := gen["response_modalities"].([]any); len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("response_modalities = %v", mods)
	}
	voice := gen["speech_config"].(map[string]any)["voice_config"].(map[string]any)["prebuilt_voice_config"].(map[string]any)
	if voice["voice_name"] != "Kore" {
		t.Errorf("voice = %v", voice["voice_name"])
	}

	opening := f.next(t)["realtime_input"].(map[string]any)
	if opening["text"] != "Hello! Let's start." {
		t.Errorf("opening text = %v", opening["text"])
	}

	if !src.Stats().Running {
		t.Error("capture should be running after Open")
	}
}

func TestOpenDeviceUnavailable(t *testing.T) {
	f := newFakeLive(t, true)
	src := audioio.NewMockSource(audioio.DefaultConfig(), nil,
		audioio.WithStartError(errors.New("NotAllowedError")))

	_, err := Open(context.Background(), testConfig(f), src)
	if !errors.Is(err, audioio.ErrDeviceUnavailable) {
		t.Fatalf("Open() = %v, want ErrDeviceUnavailable", err)
	}
	if f.dials.Load() != 0 {
		t.Error("channel must not be dialed when capture fails")
	}
}

func TestOpenMissingKey(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig(), nil)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Open() = %v, want ErrMissingAPIKey", err)
	}
}

func TestOpenSetupTimeout(t *testing.T) {
	f := newFakeLive(t, false)
	cfg := testConfig(f)
	cfg.SetupTimeout = 100 * time.Millisecond

	src := audioio.NewPushSource(audioio.DefaultConfig(), nil)
	_, err := Open(context.Background(), cfg, src)
	if !errors.Is(err, ErrSetupTimeout) {
		t.Fatalf("Open() = %v, want ErrSetupTimeout", err)
	}
	if src.Stats().Running {
		t.Error("capture should be stopped when setup fails")
	}
}

func TestOpenDialFailure(t *testing.T) {
	f := newFakeLive(t, true)
	cfg := testConfig(f)
	cfg.APIKey = "wrong"

	_, err := Open(context.Background(), cfg, nil)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Open() = %v, want ConnectionError", err)
	}
}

func TestEventOrderWithinMessage(t *testing.T) {
	f := newFakeLive(t, true)
	ch, err := Open(context.Background(), testConfig(f), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	server := f.conn(t)
	pcm := base64.StdEncoding.EncodeToString([]byte{0, 0, 1, 0})
	server.WriteJSON(map[string]any{
		"serverContent": map[string]any{
			"turnComplete": true,
			"interrupted":  true,
			"outputTranscription": map[string]any{"text": "Good "},
			"inputTranscription":  map[string]any{"text": "I think"},
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcm}},
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcm}},
			}},
		},
	})

	events := collect(t, ch, 6)
	want := []EventKind{EventAudioFrame, EventAudioFrame, EventPartialInput, EventPartialOutput, EventInterrupted, EventTurnComplete}
	for i, k := range want {
		if events[i].Kind != k {
			t.Errorf("event %d = %s, want %s", i, events[i].Kind, k)
		}
	}
	if events[0].SampleRate != 24000 || events[0].Channels != 1 || len(events[0].Audio) != 4 {
		t.Errorf("audio frame = %+v", events[0])
	}
	if events[2].Text != "I think" || events[3].Text != "Good " {
		t.Errorf("partials = %q / %q", events[2].Text, events[3].Text)
	}
}

func TestSendAudioFrame(t *testing.T) {
	f := newFakeLive(t, true)
	cfg := testConfig(f)
	cfg.OpeningText = ""

	ch, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()
	f.next(t) // setup

	if err := ch.SendAudioFrame([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudioFrame: %v", err)
	}

	input := f.next(t)["realtime_input"].(map[string]any)
	chunks := input["media_chunks"].([]any)
	chunk := chunks[0].(map[string]any)
	if chunk["mime_type"] != audioio.InputMIMEType {
		t.Errorf("mime_type = %v", chunk["mime_type"])
	}
	if chunk["data"] != base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}) {
		t.Errorf("data = %v", chunk["data"])
	}
}

func TestCloseDeliversOnlyClosed(t *testing.T) {
	f := newFakeLive(t, true)
	ch, err := Open(context.Background(), testConfig(f), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.conn(t)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	events := drain(t, ch)
	if len(events) != 1 || events[0].Kind != EventClosed {
		t.Fatalf("events after Close = %v", events)
	}
	if events[0].Err != nil {
		t.Errorf("Closed after Close carries error %v", events[0].Err)
	}

	if err := ch.SendText("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("SendText after Close = %v, want ErrClosed", err)
	}
}

func TestServerErrorCloseEmitsErrorThenClosed(t *testing.T) {
	f := newFakeLive(t, true)
	ch, err := Open(context.Background(), testConfig(f), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	server := f.conn(t)
	server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "quota exceeded"))

	events := drain(t, ch)
	if len(events) != 2 {
		t.Fatalf("events = %v, want error then closed", events)
	}
	if events[0].Kind != EventError || events[1].Kind != EventClosed {
		t.Fatalf("kinds = %s, %s", events[0].Kind, events[1].Kind)
	}

	var connErr *ConnectionError
	if !errors.As(events[0].Err, &connErr) {
		t.Fatalf("error event carries %v", events[0].Err)
	}
	if connErr.Code != websocket.CloseInternalServerErr || connErr.Reason != "quota exceeded" {
		t.Errorf("connErr = %+v", connErr)
	}
	if events[1].Err == nil {
		t.Error("Closed after server drop should carry the cause")
	}
}

func TestServerNormalCloseEmitsOnlyClosed(t *testing.T) {
	f := newFakeLive(t, true)
	ch, err := Open(context.Background(), testConfig(f), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	server := f.conn(t)
	server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	events := drain(t, ch)
	if len(events) != 1 || events[0].Kind != EventClosed {
		t.Fatalf("events = %v", events)
	}
}

func TestSetupMessageOmitsEmptyInstruction(t *testing.T) {
	cfg := DefaultConfig()
	data, err := json.Marshal(newSetup(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "system_instruction") {
		t.Errorf("unexpected system_instruction in %s", data)
	}
}
