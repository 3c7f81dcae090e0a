package conversation

import (
	"context"

	"github.com/teslashibe/go-esol/pkg/audioio"
	"github.com/teslashibe/go-esol/pkg/realtime"
)

// Channel is an open realtime session. *realtime.Channel implements it.
// Events must be drained until the returned channel is closed.
type Channel interface {
	Events() <-chan realtime.Event
	SendAudioFrame(frame []byte) error
	Close() error
}

// Opener opens a Channel, starting capture first. A capture failure must
// wrap audioio.ErrDeviceUnavailable.
type Opener func(ctx context.Context, cfg realtime.Config, capture audioio.Source) (Channel, error)

// OpenRealtime is the default Opener backed by the Gemini Live client.
func OpenRealtime(ctx context.Context, cfg realtime.Config, capture audioio.Source) (Channel, error) {
	ch, err := realtime.Open(ctx, cfg, capture)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
