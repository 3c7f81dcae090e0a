package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-esol/pkg/protocol"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := New("test", nil)
	go h.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(h, conn).Run()
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.SessionEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.TypeSessionEvent {
		t.Fatalf("type = %s", msg.Type)
	}
	ev, err := msg.GetSessionEvent()
	if err != nil {
		t.Fatal(err)
	}
	return *ev
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h, srv := startHub(t)
	a := dial(t, srv)
	b := dial(t, srv)
	waitClients(t, h, 2)

	if err := h.Publish(protocol.SessionEvent{SessionID: "s1", Event: protocol.EventState, State: "active"}); err != nil {
		t.Fatal(err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		if ev.SessionID != "s1" || ev.State != "active" {
			t.Errorf("event = %+v", ev)
		}
	}
}

func TestLateClientGetsSnapshot(t *testing.T) {
	h, srv := startHub(t)

	h.Publish(protocol.SessionEvent{SessionID: "b", Event: protocol.EventConnected, State: "idle"})
	h.Publish(protocol.SessionEvent{SessionID: "a", Event: protocol.EventTurn, State: "active", Turns: 3})
	h.Publish(protocol.SessionEvent{SessionID: "gone", Event: protocol.EventConnected})
	h.Publish(protocol.SessionEvent{SessionID: "gone", Event: protocol.EventDisconnected})

	sessions := h.Sessions()
	if len(sessions) != 2 || sessions[0].SessionID != "a" || sessions[1].SessionID != "b" {
		t.Fatalf("Sessions() = %+v", sessions)
	}

	conn := dial(t, srv)
	first := readEvent(t, conn)
	second := readEvent(t, conn)
	if first.SessionID != "a" || first.Turns != 3 || second.SessionID != "b" {
		t.Errorf("snapshot = %+v, %+v", first, second)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !h.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if h.IsRunning() {
		t.Error("still running")
	}
}
