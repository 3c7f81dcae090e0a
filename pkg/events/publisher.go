// Package events publishes completed practice sessions to Kafka so that
// downstream systems (tutor dashboards, progress tracking) can consume them.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventSessionCompleted is the eventType header of a SessionCompleted.
const EventSessionCompleted = "session.completed"

// Recorder receives publish outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordKafkaPublish(topic string, err error, latency time.Duration)
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	Enabled  bool
}

// Publisher publishes session events to a single topic. With Kafka
// disabled it only logs.
type Publisher struct {
	writer   messageWriter
	topic    string
	clientID string
	enabled  bool
	recorder Recorder
	logger   *slog.Logger
}

// New creates a publisher. A nil config, Enabled=false or an empty broker
// list yields a log-only publisher. recorder may be nil.
func New(cfg *Config, recorder Recorder, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	if cfg == nil {
		logger.Info("kafka disabled (nil config), using log-only mode")
		return &Publisher{recorder: recorder, logger: logger}
	}

	p := &Publisher{
		topic:    cfg.Topic,
		clientID: cfg.ClientID,
		recorder: recorder,
		logger:   logger,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, using log-only mode", "topic", cfg.Topic)
		return p
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport: &kafka.Transport{
			Dial:     dialer.DialFunc,
			ClientID: cfg.ClientID,
		},
	}
	p.enabled = true

	logger.Info("kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return p
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishSessionCompleted publishes ev keyed by its session ID.
func (p *Publisher) PublishSessionCompleted(ctx context.Context, ev SessionCompleted) error {
	return p.publish(ctx, EventSessionCompleted, ev.SessionID, ev)
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", "error", err, "topic", p.topic)
		return err
	}

	p.logger.Debug("publishing event",
		"topic", p.topic,
		"event_type", eventType,
		"key", key,
		"bytes", len(payload))

	if !p.enabled || p.writer == nil {
		p.record(nil, start)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "clientId", Value: []byte(p.clientID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to write to kafka", "error", err, "topic", p.topic, "key", key)
		p.record(err, start)
		return err
	}

	p.record(nil, start)
	return nil
}

func (p *Publisher) record(err error, start time.Time) {
	if p.recorder != nil {
		p.recorder.RecordKafkaPublish(p.topic, err, time.Since(start))
	}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("error closing kafka writer", "error", err)
		return err
	}
	return nil
}
