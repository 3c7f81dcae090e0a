package realtime

import "fmt"

// EventKind tags an Event.
type EventKind int

const (
	// EventPartialInput carries a fragment of the learner's transcribed speech.
	EventPartialInput EventKind = iota + 1
	// EventPartialOutput carries a fragment of the partner's transcribed speech.
	EventPartialOutput
	// EventAudioFrame carries partner PCM16 audio.
	EventAudioFrame
	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete
	// EventInterrupted means the learner spoke over the partner.
	EventInterrupted
	// EventError reports a transport or server failure.
	EventError
	// EventClosed is always the last event on a channel.
	EventClosed
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventPartialInput:
		return "partial_input"
	case EventPartialOutput:
		return "partial_output"
	case EventAudioFrame:
		return "audio_frame"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one item of the channel's event stream.
type Event struct {
	Kind EventKind

	// Text is set for partial transcripts.
	Text string

	// Audio, SampleRate and Channels are set for audio frames.
	Audio      []byte
	SampleRate int
	Channels   int

	// Err is set for EventError, and for EventClosed when the server
	// dropped the connection.
	Err error
}

// PartialInput builds an EventPartialInput.
func PartialInput(text string) Event { return Event{Kind: EventPartialInput, Text: text} }

// PartialOutput builds an EventPartialOutput.
func PartialOutput(text string) Event { return Event{Kind: EventPartialOutput, Text: text} }

// AudioFrame builds an EventAudioFrame.
func AudioFrame(pcm []byte, sampleRate, channels int) Event {
	return Event{Kind: EventAudioFrame, Audio: pcm, SampleRate: sampleRate, Channels: channels}
}

// TurnComplete builds an EventTurnComplete.
func TurnComplete() Event { return Event{Kind: EventTurnComplete} }

// Interrupted builds an EventInterrupted.
func Interrupted() Event { return Event{Kind: EventInterrupted} }

// ErrorEvent builds an EventError.
func ErrorEvent(err error) Event { return Event{Kind: EventError, Err: err} }

// Closed builds an EventClosed.
func Closed(err error) Event { return Event{Kind: EventClosed, Err: err} }
