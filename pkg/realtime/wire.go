package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

// Client messages.

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generation_config"`
	SystemInstruction        *content         `json:"system_instruction,omitempty"`
	InputAudioTranscription  struct{}         `json:"input_audio_transcription"`
	OutputAudioTranscription struct{}         `json:"output_audio_transcription"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"response_modalities"`
	SpeechConfig       speechConfig `json:"speech_config"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuilt_voice_config"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voice_name"`
}

type content struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"media_chunks,omitempty"`
	Text        string       `json:"text,omitempty"`
}

type mediaChunk struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

func newSetup(cfg Config) setupMessage {
	msg := setupMessage{Setup: setup{
		Model: cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoice{VoiceName: cfg.Voice},
			}},
		},
	}}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []textPart{{Text: cfg.SystemInstruction}}}
	}
	return msg
}

// Server messages.

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete"`
	ServerContent *serverContent   `json:"serverContent"`
	GoAway        *goAway          `json:"goAway"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn"`
	InputTranscription  *transcription `json:"inputTranscription"`
	OutputTranscription *transcription `json:"outputTranscription"`
	Interrupted         bool           `json:"interrupted"`
	TurnComplete        bool           `json:"turnComplete"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type part struct {
	InlineData *inlineData `json:"inlineData"`
	Text       string      `json:"text"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

// decoded is the result of parsing one server message.
type decoded struct {
	setupComplete bool
	goAway        string
	events        []Event
	skipped       []error
}

// decodeServerMessage turns one Live message into events in a fixed order:
// audio parts, input transcription, output transcription, interrupted,
// turn complete.
func decodeServerMessage(data []byte) (decoded, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return decoded{}, fmt.Errorf("realtime: decode server message: %w", err)
	}

	var out decoded
	out.setupComplete = msg.SetupComplete != nil
	if msg.GoAway != nil {
		out.goAway = msg.GoAway.TimeLeft
		if out.goAway == "" {
			out.goAway = "unknown"
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return out, nil
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MimeType, "audio/pcm") {
				continue
			}
			pcm, err := audioio.DecodeBase64(p.InlineData.Data)
			if err != nil {
				out.skipped = append(out.skipped, err)
				continue
			}
			if len(pcm) == 0 {
				continue
			}
			out.events = append(out.events, AudioFrame(pcm, sampleRateOf(p.InlineData.MimeType), 1))
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out.events = append(out.events, PartialInput(sc.InputTranscription.Text))
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out.events = append(out.events, PartialOutput(sc.OutputTranscription.Text))
	}
	if sc.Interrupted {
		out.events = append(out.events, Interrupted())
	}
	if sc.TurnComplete {
		out.events = append(out.events, TurnComplete())
	}
	return out, nil
}

// sampleRateOf reads the rate parameter of an audio/pcm MIME type.
func sampleRateOf(mime string) int {
	for _, param := range strings.Split(mime, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || k != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
	}
	return audioio.OutputSampleRate
}
