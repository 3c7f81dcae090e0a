// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern. It carries session
// lifecycle events to supervisor consoles.
package hub

import (
	"github.com/teslashibe/go-esol/pkg/protocol"
)

// Message is a pre-encoded JSON text frame.
type Message struct {
	Data []byte
}

// NewMessage encodes a protocol message.
func NewMessage(msg *protocol.Message) (Message, error) {
	data, err := msg.Bytes()
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}

func eventMessage(ev protocol.SessionEvent) (Message, error) {
	msg, err := protocol.NewSessionEventMessage(ev)
	if err != nil {
		return Message{}, err
	}
	return NewMessage(msg)
}
