package realtime

import (
	"context"
	"errors"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

// AudioSender accepts PCM16 16 kHz mono frames. *Channel implements it.
type AudioSender interface {
	SendAudioFrame(frame []byte) error
}

// Pump forwards capture chunks to dst until the source stream ends, ctx is
// cancelled or the channel closes. Chunks are downmixed and resampled to the
// Live input format before encoding. Pump returns nil on a normal end.
func Pump(ctx context.Context, dst AudioSender, src audioio.Source) error {
	stream := src.Stream()
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-stream:
			if !ok {
				return nil
			}
			if err := dst.SendAudioFrame(encodeChunk(chunk)); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

func encodeChunk(chunk audioio.AudioChunk) []byte {
	samples := audioio.Downmix(chunk.Samples, chunk.Channels)
	if chunk.SampleRate > 0 && chunk.SampleRate != audioio.InputSampleRate {
		samples = audioio.Resample(samples, chunk.SampleRate, audioio.InputSampleRate)
	}
	return audioio.EncodeFloat32(samples)
}
