package conversation

import (
	"context"
	"sync"

	"github.com/teslashibe/go-esol/pkg/audioio"
	"github.com/teslashibe/go-esol/pkg/realtime"
)

// MockChannel is a Channel for testing. Events are injected with the
// Simulate helpers.
type MockChannel struct {
	mu     sync.Mutex
	events chan realtime.Event
	closed bool

	// Configurable behavior
	SendAudioFrameFunc func(frame []byte) error
	CloseFunc          func() error

	// Captured calls for assertions
	AudioSent  [][]byte
	CloseCalls int
}

// NewMockChannel creates a MockChannel with a buffered event stream.
func NewMockChannel() *MockChannel {
	return &MockChannel{events: make(chan realtime.Event, 64)}
}

// Opener returns an Opener that starts capture the way the real client
// does and then hands out this channel.
func (m *MockChannel) Opener() Opener {
	return func(ctx context.Context, _ realtime.Config, capture audioio.Source) (Channel, error) {
		if capture != nil {
			if err := capture.Start(ctx); err != nil {
				return nil, err
			}
		}
		return m, nil
	}
}

// Events implements Channel.
func (m *MockChannel) Events() <-chan realtime.Event {
	return m.events
}

// SendAudioFrame implements Channel.
func (m *MockChannel) SendAudioFrame(frame []byte) error {
	if m.SendAudioFrameFunc != nil {
		return m.SendAudioFrameFunc(frame)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return realtime.ErrClosed
	}
	m.AudioSent = append(m.AudioSent, frame)
	return nil
}

// Close implements Channel. It delivers a final Closed event and closes the
// event stream.
func (m *MockChannel) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	fn := m.CloseFunc
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	m.terminate(nil)
	return nil
}

// Closed reports whether the stream has ended.
func (m *MockChannel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Sent returns a copy of the audio frames sent.
func (m *MockChannel) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.AudioSent))
	copy(out, m.AudioSent)
	return out
}

// Test helpers

// Simulate delivers an arbitrary event. It is dropped after close.
func (m *MockChannel) Simulate(ev realtime.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.events <- ev
	}
}

// SimulatePartialInput delivers a learner transcript fragment.
func (m *MockChannel) SimulatePartialInput(text string) {
	m.Simulate(realtime.PartialInput(text))
}

// SimulatePartialOutput delivers a partner transcript fragment.
func (m *MockChannel) SimulatePartialOutput(text string) {
	m.Simulate(realtime.PartialOutput(text))
}

// SimulateAudio delivers a 24 kHz mono PCM16 frame.
func (m *MockChannel) SimulateAudio(pcm []byte) {
	m.Simulate(realtime.AudioFrame(pcm, audioio.OutputSampleRate, 1))
}

// SimulateTurnComplete delivers a turn boundary.
func (m *MockChannel) SimulateTurnComplete() {
	m.Simulate(realtime.TurnComplete())
}

// SimulateInterrupted delivers an interruption.
func (m *MockChannel) SimulateInterrupted() {
	m.Simulate(realtime.Interrupted())
}

// SimulateError delivers an error and then ends the stream, as the real
// client does on a failed connection.
func (m *MockChannel) SimulateError(err error) {
	m.Simulate(realtime.ErrorEvent(err))
	m.terminate(err)
}

// SimulateRemoteClose ends the stream as if the server hung up.
func (m *MockChannel) SimulateRemoteClose() {
	m.terminate(nil)
}

func (m *MockChannel) terminate(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.events <- realtime.Closed(cause)
	close(m.events)
}
