package audioio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestEncodeFloat32(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"full negative", -1, -32768},
		{"full positive clamps", 1, 32767},
		{"over range clamps", 1.7, 32767},
		{"under range clamps", -3, -32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EncodeFloat32([]float32{tt.in})
			if len(out) != 2 {
				t.Fatalf("len = %d, want 2", len(out))
			}
			if got := int16(binary.LittleEndian.Uint16(out)); got != tt.want {
				t.Errorf("EncodeFloat32(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeFloat32_NaN(t *testing.T) {
	out := EncodeFloat32([]float32{float32(math.NaN())})
	if got := int16(binary.LittleEndian.Uint16(out)); got != 0 {
		t.Errorf("NaN encoded as %d", got)
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	in := []float32{0.25, -1, 0.75}
	got, err := DecodeFloat32LE(EncodeFloat32LE(in))
	if err != nil {
		t.Fatalf("DecodeFloat32LE: %v", err)
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d = %f, want %f", i, got[i], in[i])
		}
	}

	if _, err := DecodeFloat32LE([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestDecodePCM16_Mono(t *testing.T) {
	data := []byte{0x00, 0x40, 0x00, 0x80, 0xff, 0x7f}
	buf, err := DecodePCM16(data, OutputSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}

	if buf.Channels != 1 || buf.SampleRate != OutputSampleRate {
		t.Errorf("buffer format = %d ch @ %d", buf.Channels, buf.SampleRate)
	}
	want := []float32{0.5, -1, 32767.0 / 32768}
	for i, w := range want {
		if buf.Samples[0][i] != w {
			t.Errorf("sample %d = %f, want %f", i, buf.Samples[0][i], w)
		}
	}
}

func TestDecodePCM16_Stereo(t *testing.T) {
	// L=0.5 R=-0.5, L=0 R=0
	data := []byte{0x00, 0x40, 0x00, 0xc0, 0x00, 0x00, 0x00, 0x00}
	buf, err := DecodePCM16(data, 48000, 2)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if buf.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", buf.Frames())
	}
	if buf.Samples[0][0] != 0.5 || buf.Samples[1][0] != -0.5 {
		t.Errorf("first frame = %f/%f", buf.Samples[0][0], buf.Samples[1][0])
	}

	inter := buf.Interleaved()
	if len(inter) != 4 || inter[1] != -0.5 {
		t.Errorf("Interleaved() = %v", inter)
	}
}

func TestDecodePCM16_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		channels int
	}{
		{"odd length", []byte{1, 2, 3}, 1},
		{"misaligned channels", []byte{1, 2, 3, 4, 5, 6}, 2},
		{"zero channels", []byte{1, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePCM16(tt.data, OutputSampleRate, tt.channels)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("expected ErrInvalidFrame, got %v", err)
			}
		})
	}
}

func TestBufferDuration(t *testing.T) {
	buf, err := DecodePCM16(make([]byte, 2*OutputSampleRate/2), OutputSampleRate, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := buf.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration() = %v, want 500ms", got)
	}

	var empty Buffer
	if empty.Duration() != 0 || empty.Frames() != 0 || empty.Interleaved() != nil {
		t.Error("empty buffer should report zero length")
	}
}

func TestBase64(t *testing.T) {
	data := EncodeFloat32([]float32{0.1, 0.2})
	back, err := DecodeBase64(EncodeBase64(data))
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	if string(back) != string(data) {
		t.Error("base64 round trip mismatch")
	}

	if _, err := DecodeBase64("not base64!"); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}
