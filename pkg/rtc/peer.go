package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

// ErrConnectionFailed is pushed to the capture source when the peer
// connection fails.
var ErrConnectionFailed = errors.New("rtc: peer connection failed")

// Config configures a Peer.
type Config struct {
	// STUNURL is an optional STUN server, e.g. "stun:stun.l.google.com:19302".
	STUNURL string

	// Capture receives decoded learner audio. Required.
	Capture *audioio.PushSource

	Logger *slog.Logger
}

// Peer is the server side of one browser's WebRTC connection.
type Peer struct {
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticRTP
	speaker *Speaker
	capture *audioio.PushSource
	logger  *slog.Logger

	closeOnce sync.Once
}

// NewPeer creates a peer connection with one outgoing Opus track and
// accepts one incoming audio track.
func NewPeer(cfg Config) (*Peer, error) {
	if cfg.Capture == nil {
		return nil, errors.New("rtc: capture source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "rtc")

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("rtc: register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("rtc: register interceptors: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry))

	var iceServers []webrtc.ICEServer
	if cfg.STUNURL != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{cfg.STUNURL}})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("rtc: create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: OpusSampleRate, Channels: 2},
		"audio", "esol-partner")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("rtc: create track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("rtc: add track: %w", err)
	}

	speaker, err := NewSpeaker(audioio.OutputConfig(), track, rand.Uint32(), logger)
	if err != nil {
		pc.Close()
		return nil, err
	}

	p := &Peer{
		pc:      pc,
		track:   track,
		speaker: speaker,
		capture: cfg.Capture,
		logger:  logger,
	}

	// RTCP must be read for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("got track", "kind", remote.Kind().String(), "codec", remote.Codec().MimeType)
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		p.receive(remote)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			p.capture.Fail(ErrConnectionFailed)
		}
	})

	return p, nil
}

// receive decodes learner audio until the track ends.
func (p *Peer) receive(remote *webrtc.TrackRemote) {
	cfg := p.capture.Config()
	dec, err := NewDecoder(cfg.SampleRate)
	if err != nil {
		p.logger.Error("cannot decode learner audio", "error", err)
		p.capture.Fail(err)
		return
	}

	var decodeErrors int
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			p.logger.Debug("track ended", "error", err)
			return
		}
		samples, err := dec.Decode(pkt)
		if err != nil {
			decodeErrors++
			if decodeErrors <= 5 {
				p.logger.Warn("decode error", "error", err, "payload_bytes", len(pkt.Payload))
			}
			continue
		}
		p.capture.Push(samples)
	}
}

// Answer applies the browser's offer and returns the answer SDP once ICE
// gathering has completed.
func (p *Peer) Answer(ctx context.Context, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("rtc: set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("rtc: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("rtc: set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.pc.LocalDescription().SDP, nil
}

// Speaker returns the sink that plays partner audio on the outgoing track.
func (p *Peer) Speaker() *Speaker {
	return p.speaker
}

// Close tears down the connection and the speaker.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.speaker.Close()
		err = p.pc.Close()
	})
	return err
}
