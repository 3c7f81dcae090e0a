// Package rtc carries a practice conversation over WebRTC instead of the
// session websocket. Learner audio arrives as Opus RTP and is pushed into
// the session's capture source. Partner audio leaves as paced Opus frames
// on a local track.
package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

const (
	// OpusSampleRate is the rate WebRTC Opus is negotiated at.
	OpusSampleRate = 48000

	// FrameSamples is one 20ms Opus frame at OpusSampleRate.
	FrameSamples = OpusSampleRate / 50 // 20ms

	opusPayloadType = 111
	maxPacketBytes  = 1275
	maxFrameSamples = OpusSampleRate * 120 / 1000
)

// ErrEmptyPacket is returned for RTP packets without a payload.
var ErrEmptyPacket = errors.New("rtc: empty rtp payload")

// Decoder turns Opus RTP packets into mono samples at the capture rate.
type Decoder struct {
	dec        *opus.Decoder
	pcm        []float32
	targetRate int
}

// NewDecoder creates a decoder producing samples at targetRate.
func NewDecoder(targetRate int) (*Decoder, error) {
	dec, err := opus.NewDecoder(OpusSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("rtc: create opus decoder: %w", err)
	}
	return &Decoder{
		dec:        dec,
		pcm:        make([]float32, maxFrameSamples),
		targetRate: targetRate,
	}, nil
}

// Decode decodes one packet. The returned slice is freshly allocated.
func (d *Decoder) Decode(pkt *rtp.Packet) ([]float32, error) {
	if len(pkt.Payload) == 0 {
		return nil, ErrEmptyPacket
	}
	n, err := d.dec.DecodeFloat32(pkt.Payload, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("rtc: decode opus: %w", err)
	}
	out := make([]float32, n)
	copy(out, d.pcm[:n])
	return audioio.Resample(out, OpusSampleRate, d.targetRate), nil
}

// Packetizer encodes 20ms frames of 48 kHz mono audio into RTP packets.
type Packetizer struct {
	enc       *opus.Encoder
	buf       []byte
	ssrc      uint32
	seq       uint16
	timestamp uint32
}

// NewPacketizer creates a packetizer for the given SSRC.
func NewPacketizer(ssrc uint32) (*Packetizer, error) {
	enc, err := opus.NewEncoder(OpusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("rtc: create opus encoder: %w", err)
	}
	return &Packetizer{
		enc:  enc,
		buf:  make([]byte, maxPacketBytes),
		ssrc: ssrc,
	}, nil
}

// Packetize encodes one frame of exactly FrameSamples samples.
func (p *Packetizer) Packetize(frame []float32) (*rtp.Packet, error) {
	if len(frame) != FrameSamples {
		return nil, fmt.Errorf("rtc: frame has %d samples, want %d", len(frame), FrameSamples)
	}
	n, err := p.enc.EncodeFloat32(frame, p.buf)
	if err != nil {
		return nil, fmt.Errorf("rtc: encode opus: %w", err)
	}

	payload := make([]byte, n)
	copy(payload, p.buf[:n])

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	p.seq++
	p.timestamp += FrameSamples
	return pkt, nil
}
