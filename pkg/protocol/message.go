// Package protocol defines the WebSocket message types exchanged between the
// browser and the practice server, and the events streamed to supervisors.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Browser → Server messages
	TypeStart MessageType = "start" // Begin a conversation on a topic
	TypeStop  MessageType = "stop"  // Cancel the conversation
	TypeReset MessageType = "reset" // Discard everything and go idle
	TypeOffer MessageType = "offer" // WebRTC SDP offer

	// Server → Browser messages
	TypeState         MessageType = "state"          // Session state change
	TypePartial       MessageType = "partial"        // In-progress transcripts
	TypeTurn          MessageType = "turn"           // Committed turn
	TypeAudio         MessageType = "audio"          // Scheduled partner audio
	TypeInterrupted   MessageType = "interrupted"    // Drop all scheduled audio
	TypeReportLoading MessageType = "report_loading" // Assessment requested
	TypeReport        MessageType = "report"         // Assessment ready
	TypeReportFailed  MessageType = "report_failed"  // No assessment
	TypeError         MessageType = "error"          // Session failure
	TypeAnswer        MessageType = "answer"         // WebRTC SDP answer

	// Server → Supervisor messages
	TypeSessionEvent MessageType = "session_event" // Lifecycle event of any session

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", msgType, err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v. A message without data
// leaves v untouched.
func (m *Message) ParseData(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: message has no type")
	}
	return &msg, nil
}

// =============================================================================
// Browser → Server Message Types
// =============================================================================

// StartData selects the topic. MicError is set when the browser could not
// open the microphone, so the server can fail the session without dialing.
type StartData struct {
	TopicID  int    `json:"topic_id"`
	MicError string `json:"mic_error,omitempty"`
}

// OfferData carries a WebRTC offer.
type OfferData struct {
	SDP string `json:"sdp"`
}

// =============================================================================
// Server → Browser Message Types
// =============================================================================

// StateData reports the session state.
type StateData struct {
	State     string `json:"state"`
	SessionID string `json:"session_id"`
}

// PartialData holds both in-progress transcripts.
type PartialData struct {
	Learner string `json:"learner"`
	Partner string `json:"partner"`
}

// TurnData is a committed turn.
type TurnData struct {
	Speaker transcript.Speaker `json:"speaker"`
	Text    string             `json:"text"`
}

// AudioData is partner audio the browser should start at StartMs on its
// playback clock.
type AudioData struct {
	ID         string `json:"id"`
	Data       string `json:"data"` // base64 pcm16
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	StartMs    int64  `json:"start_ms"`
}

// ReportData is the finished assessment with the transcript it covers.
type ReportData struct {
	Report     *report.Report    `json:"report"`
	Transcript []transcript.Turn `json:"transcript"`
}

// ReportFailedData explains why no report is available.
type ReportFailedData struct {
	Error string `json:"error"`
}

// ErrorData is a session failure. Kind is one of device_unavailable,
// channel_error, channel_closed_unexpectedly or report_generation_failed.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AnswerData carries a WebRTC answer.
type AnswerData struct {
	SDP string `json:"sdp"`
}

// =============================================================================
// Server → Supervisor Message Types
// =============================================================================

// SessionEvent names.
const (
	EventConnected    = "connected"
	EventState        = "state"
	EventTurn         = "turn"
	EventReport       = "report"
	EventReportFailed = "report_failed"
	EventError        = "error"
	EventDisconnected = "disconnected"
)

// SessionEvent is a lifecycle event of one learner session. Turns counts
// the committed turns of the current attempt.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	TopicID   int    `json:"topic_id"`
	Topic     string `json:"topic"`
	Event     string `json:"event"`
	State     string `json:"state"`
	Turns     int    `json:"turns"`
	Speaker   string `json:"speaker,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
