package monitor

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-esol/pkg/protocol"
)

// ErrUnexpectedMessage is returned for frames other than session events.
var ErrUnexpectedMessage = errors.New("monitor: unexpected message")

// Stream yields session events from a practice server.
type Stream interface {
	Next() (protocol.SessionEvent, error)
	Close() error
}

// Dialer opens a Stream.
type Dialer func(ctx context.Context, url string) (Stream, error)

// DialWebSocket connects to a server's /ws/monitor endpoint.
func DialWebSocket(ctx context.Context, url string) (Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("monitor: dial %s: %w", url, err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() (protocol.SessionEvent, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return protocol.SessionEvent{}, err
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			return protocol.SessionEvent{}, err
		}
		switch msg.Type {
		case protocol.TypeSessionEvent:
			var ev protocol.SessionEvent
			if err := msg.ParseData(&ev); err != nil {
				return protocol.SessionEvent{}, err
			}
			return ev, nil
		case protocol.TypePing, protocol.TypePong:
			continue
		default:
			return protocol.SessionEvent{}, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type)
		}
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

// Messages

type connectedMsg struct {
	stream Stream
}

type eventMsg struct {
	stream Stream
	event  protocol.SessionEvent
}

type disconnectedMsg struct {
	stream Stream
	err    error
}

func connect(dial Dialer, url string) tea.Cmd {
	return func() tea.Msg {
		stream, err := dial(context.Background(), url)
		if err != nil {
			return disconnectedMsg{err: err}
		}
		return connectedMsg{stream: stream}
	}
}

func next(stream Stream) tea.Cmd {
	return func() tea.Msg {
		ev, err := stream.Next()
		if err != nil {
			return disconnectedMsg{stream: stream, err: err}
		}
		return eventMsg{stream: stream, event: ev}
	}
}
