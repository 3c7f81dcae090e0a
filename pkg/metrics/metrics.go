// Package metrics provides Prometheus metrics for the practice server.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teslashibe/go-esol/pkg/conversation"
	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

const namespace = "esol"

// Session outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Conversation metrics
	TurnsCommitted *prometheus.CounterVec
	Interruptions  prometheus.Counter
	ChannelErrors  *prometheus.CounterVec

	// Audio metrics
	AudioFramesIn  prometheus.Counter
	AudioBytesIn   prometheus.Counter
	AudioFramesOut prometheus.Counter

	// Report metrics
	ReportRequests *prometheus.CounterVec
	ReportLatency  prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg. Tests pass a fresh
// prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of conversation attempts started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of conversations currently connecting, active or ending",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of conversation attempts ended, by outcome",
		}, []string{"outcome"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of conversation attempts in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),

		TurnsCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_committed_total",
			Help:      "Total number of committed turns, by speaker",
		}, []string{"speaker"}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total number of times the learner spoke over the partner",
		}),
		ChannelErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_errors_total",
			Help:      "Total number of session failures, by kind",
		}, []string{"kind"}),

		AudioFramesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_in_total",
			Help:      "Total learner audio frames received from browsers",
		}),
		AudioBytesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_in_total",
			Help:      "Total learner audio bytes received from browsers",
		}),
		AudioFramesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_out_total",
			Help:      "Total partner audio buffers scheduled for playback",
		}),

		ReportRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_requests_total",
			Help:      "Total number of report requests, by result",
		}, []string{"result"}),
		ReportLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_latency_seconds",
			Help:      "Report generation latency in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90},
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka publish attempts",
		}, []string{"topic", "result"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a conversation attempt starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a conversation attempt ending.
func (m *Metrics) RecordSessionEnd(outcome string, d time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(d.Seconds())
}

// RecordAudioIn records one learner audio frame.
func (m *Metrics) RecordAudioIn(bytes int) {
	m.AudioFramesIn.Inc()
	m.AudioBytesIn.Add(float64(bytes))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic string, err error, latency time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.KafkaPublishTotal.WithLabelValues(topic, result).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latency.Seconds())
}

// Observe updates conversation metrics from a session update. It is meant
// to be called from a conversation.Observer.
func (m *Metrics) Observe(u conversation.Update) {
	switch u.Kind {
	case conversation.UpdateTurn:
		m.TurnsCommitted.WithLabelValues(string(u.Turn.Speaker)).Inc()
	case conversation.UpdateAudio:
		m.AudioFramesOut.Inc()
	case conversation.UpdateInterrupted:
		m.Interruptions.Inc()
	case conversation.UpdateError:
		m.ChannelErrors.WithLabelValues(kindOf(u.Err)).Inc()
	}
}

func kindOf(err error) string {
	var se *conversation.SessionError
	if errors.As(err, &se) {
		return se.KindName()
	}
	return conversation.KindName(err)
}

// InstrumentReporter wraps g so every Generate call is counted and timed.
func (m *Metrics) InstrumentReporter(g report.Generator) report.Generator {
	return &instrumentedReporter{next: g, m: m}
}

type instrumentedReporter struct {
	next report.Generator
	m    *Metrics
}

func (r *instrumentedReporter) Generate(ctx context.Context, turns []transcript.Turn) (*report.Report, error) {
	start := time.Now()
	rep, err := r.next.Generate(ctx, turns)
	r.m.ReportLatency.Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = "failure"
	}
	r.m.ReportRequests.WithLabelValues(result).Inc()
	return rep, err
}
