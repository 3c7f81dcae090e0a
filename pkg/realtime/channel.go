package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-esol/pkg/audioio"
)

// Channel is an open Live session. Events must be drained until the
// channel returned by Events is closed.
type Channel struct {
	cfg    Config
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	// emitMu serializes delivery against Close so nothing but the terminal
	// Closed event is delivered once Close returns.
	emitMu sync.Mutex
	closed bool

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts capture, connects, configures the session and waits for the
// server to confirm setup. On success the opening text has been sent.
//
// If capture cannot start, Open returns an error wrapping
// audioio.ErrDeviceUnavailable without dialing.
func Open(ctx context.Context, cfg Config, capture audioio.Source) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("component", "realtime")

	if capture != nil {
		if err := capture.Start(ctx); err != nil {
			if !errors.Is(err, audioio.ErrDeviceUnavailable) {
				err = fmt.Errorf("%w: %v", audioio.ErrDeviceUnavailable, err)
			}
			return nil, fmt.Errorf("realtime: start capture: %w", err)
		}
	}

	c, err := dial(ctx, cfg, logger)
	if err != nil {
		if capture != nil {
			capture.Stop()
		}
		return nil, err
	}

	if cfg.OpeningText != "" {
		if err := c.SendText(cfg.OpeningText); err != nil {
			c.Close()
			if capture != nil {
				capture.Stop()
			}
			return nil, err
		}
	}
	return c, nil
}

func dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Channel, error) {
	u := cfg.URL + "?key=" + url.QueryEscape(cfg.APIKey)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := cfg.Dialer.DialContext(dialCtx, u, nil)
	if err != nil {
		return nil, NewConnectionError("dial failed", err)
	}

	c := &Channel{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
	}

	if err := c.writeJSON(newSetup(cfg)); err != nil {
		conn.Close()
		return nil, NewConnectionError("send setup", err)
	}
	if err := c.awaitSetup(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("live session ready", "model", cfg.Model, "voice", cfg.Voice)

	go c.readLoop()
	return c, nil
}

// awaitSetup reads until setupComplete. Anything else that arrives first
// is ignored.
func (c *Channel) awaitSetup(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.SetupTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrSetupTimeout
			}
			return NewConnectionError("awaiting setup", err)
		}
		msg, err := decodeServerMessage(data)
		if err != nil {
			c.logger.Debug("ignoring message before setup", "error", err)
			continue
		}
		if msg.setupComplete {
			return nil
		}
	}
}

// Events returns the event stream. It ends with a single EventClosed, after
// which the channel is closed.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// SendAudioFrame sends one PCM16 16 kHz mono frame.
func (c *Channel) SendAudioFrame(frame []byte) error {
	return c.writeJSON(realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{
			Data:     audioio.EncodeBase64(frame),
			MimeType: audioio.InputMIMEType,
		}},
	}})
}

// SendText sends a text turn as realtime input.
func (c *Channel) SendText(text string) error {
	return c.writeJSON(realtimeInputMessage{RealtimeInput: realtimeInput{Text: text}})
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.emitMu.Lock()
		c.closed = true
		c.emitMu.Unlock()

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
		c.logger.Debug("live session closed")
	})
	return err
}

// Done is closed once Close has been called.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) writeJSON(v any) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		if c.isClosed() {
			return ErrClosed
		}
		return NewConnectionError("write failed", err)
	}
	return nil
}

// emit delivers ev unless the channel has been closed.
func (c *Channel) emit(ev Event) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Channel) readLoop() {
	var cause error
	defer func() {
		c.events <- Closed(cause)
		close(c.events)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			connErr := NewConnectionError("read failed", err)
			c.logger.Warn("live connection lost", "error", connErr, "code", connErr.Code)
			if !IsNormalClose(err) {
				c.emit(ErrorEvent(connErr))
			}
			cause = connErr
			c.Close()
			return
		}

		msg, err := decodeServerMessage(data)
		if err != nil {
			c.logger.Debug("skipping malformed message", "error", err)
			continue
		}
		for _, skipErr := range msg.skipped {
			c.logger.Debug("skipping audio part", "error", skipErr)
		}
		if msg.goAway != "" {
			c.logger.Warn("server going away", "time_left", msg.goAway)
		}
		for _, ev := range msg.events {
			if !c.emit(ev) {
				return
			}
		}
	}
}
