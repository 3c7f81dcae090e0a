package audioio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRate is the rate the Live API expects for learner audio.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of partner audio returned by the Live API.
	OutputSampleRate = 24000
	// CaptureBufferSamples is the number of samples per capture chunk.
	CaptureBufferSamples = 4096
	// InputMIMEType labels outgoing PCM frames.
	InputMIMEType = "audio/pcm;rate=16000"
)

// ErrInvalidFrame is returned for byte frames that do not hold whole samples.
var ErrInvalidFrame = errors.New("audioio: invalid frame")

// Buffer is decoded audio ready for playback, one sample slice per channel.
type Buffer struct {
	Samples    [][]float32
	SampleRate int
	Channels   int
}

// Frames returns the number of samples per channel.
func (b Buffer) Frames() int {
	if len(b.Samples) == 0 {
		return 0
	}
	return len(b.Samples[0])
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Interleaved flattens the buffer into a single sample slice.
func (b Buffer) Interleaved() []float32 {
	frames := b.Frames()
	if frames == 0 {
		return nil
	}
	if len(b.Samples) == 1 {
		out := make([]float32, frames)
		copy(out, b.Samples[0])
		return out
	}
	out := make([]float32, frames*len(b.Samples))
	for i := 0; i < frames; i++ {
		for ch := range b.Samples {
			out[i*len(b.Samples)+ch] = b.Samples[ch][i]
		}
	}
	return out
}

// Chunk converts the buffer into an interleaved AudioChunk.
func (b Buffer) Chunk() AudioChunk {
	return AudioChunk{Samples: b.Interleaved(), SampleRate: b.SampleRate, Channels: b.Channels}
}

// EncodeFloat32 converts mic samples to PCM16 little-endian. Each sample is
// scaled by 32768 and clamped to the int16 range.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := float64(s) * 32768
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodeFloat32LE parses a frame of float32 little-endian samples as sent by
// the browser capture worklet.
func DecodeFloat32LE(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 samples", ErrInvalidFrame, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodePCM16 turns interleaved PCM16 little-endian bytes into a playback
// buffer with samples divided by 32768.
func DecodePCM16(b []byte, sampleRate, channels int) (Buffer, error) {
	if channels <= 0 || sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("%w: rate %d channels %d", ErrInvalidFrame, sampleRate, channels)
	}
	if len(b)%2 != 0 {
		return Buffer{}, fmt.Errorf("%w: odd byte length %d", ErrInvalidFrame, len(b))
	}
	total := len(b) / 2
	if total%channels != 0 {
		return Buffer{}, fmt.Errorf("%w: %d samples across %d channels", ErrInvalidFrame, total, channels)
	}

	frames := total / channels
	buf := Buffer{
		Samples:    make([][]float32, channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
	for ch := range buf.Samples {
		buf.Samples[ch] = make([]float32, frames)
	}
	for i := 0; i < total; i++ {
		s := int16(binary.LittleEndian.Uint16(b[i*2:]))
		buf.Samples[i%channels][i/channels] = float32(s) / 32768
	}
	return buf, nil
}

func pcm16ToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return out
}

// EncodeBase64 encodes wire audio for JSON transport.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes wire audio from JSON transport.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return b, nil
}
