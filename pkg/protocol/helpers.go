package protocol

import (
	"encoding/base64"
	"time"

	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStartMessage creates a start message
func NewStartMessage(topicID int, micError string) (*Message, error) {
	return NewMessage(TypeStart, StartData{TopicID: topicID, MicError: micError})
}

// NewStopMessage creates a stop message
func NewStopMessage() (*Message, error) {
	return NewMessage(TypeStop, nil)
}

// NewResetMessage creates a reset message
func NewResetMessage() (*Message, error) {
	return NewMessage(TypeReset, nil)
}

// NewOfferMessage creates a WebRTC offer message
func NewOfferMessage(sdp string) (*Message, error) {
	return NewMessage(TypeOffer, OfferData{SDP: sdp})
}

// NewStateMessage creates a state message
func NewStateMessage(state, sessionID string) (*Message, error) {
	return NewMessage(TypeState, StateData{State: state, SessionID: sessionID})
}

// NewPartialMessage creates a partial transcript message
func NewPartialMessage(learner, partner string) (*Message, error) {
	return NewMessage(TypePartial, PartialData{Learner: learner, Partner: partner})
}

// NewTurnMessage creates a committed turn message
func NewTurnMessage(turn transcript.Turn) (*Message, error) {
	return NewMessage(TypeTurn, TurnData{Speaker: turn.Speaker, Text: turn.Text})
}

// NewAudioMessage creates an audio message from PCM16 bytes
func NewAudioMessage(id string, pcm []byte, sampleRate, channels int, start time.Duration) (*Message, error) {
	return NewMessage(TypeAudio, AudioData{
		ID:         id,
		Data:       base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
		Channels:   channels,
		StartMs:    start.Milliseconds(),
	})
}

// NewInterruptedMessage creates an interruption message
func NewInterruptedMessage() (*Message, error) {
	return NewMessage(TypeInterrupted, nil)
}

// NewReportLoadingMessage creates a report loading message
func NewReportLoadingMessage() (*Message, error) {
	return NewMessage(TypeReportLoading, nil)
}

// NewReportMessage creates a report message
func NewReportMessage(r *report.Report, turns []transcript.Turn) (*Message, error) {
	return NewMessage(TypeReport, ReportData{Report: r, Transcript: turns})
}

// NewReportFailedMessage creates a report failure message
func NewReportFailedMessage(err error) (*Message, error) {
	return NewMessage(TypeReportFailed, ReportFailedData{Error: err.Error()})
}

// NewErrorMessage creates an error message
func NewErrorMessage(kind, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Kind: kind, Message: message})
}

// NewAnswerMessage creates a WebRTC answer message
func NewAnswerMessage(sdp string) (*Message, error) {
	return NewMessage(TypeAnswer, AnswerData{SDP: sdp})
}

// NewSessionEventMessage creates a supervisor event message
func NewSessionEventMessage(ev SessionEvent) (*Message, error) {
	return NewMessage(TypeSessionEvent, ev)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetStartData extracts start data from a message
func (m *Message) GetStartData() (*StartData, error) {
	var data StartData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetOfferData extracts offer data from a message
func (m *Message) GetOfferData() (*OfferData, error) {
	var data OfferData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAudioData extracts audio data from a message
func (m *Message) GetAudioData() (*AudioData, error) {
	var data AudioData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeAudio decodes the base64 PCM16 payload
func (a *AudioData) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data)
}

// GetReportData extracts report data from a message
func (m *Message) GetReportData() (*ReportData, error) {
	var data ReportData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSessionEvent extracts a supervisor event from a message
func (m *Message) GetSessionEvent() (*SessionEvent, error) {
	var data SessionEvent
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
