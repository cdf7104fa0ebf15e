// Package metrics provides Prometheus metrics for the voice session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vcni"

// Metrics holds all Prometheus collectors for the assistant.
type Metrics struct {
	// Listening sessions
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge

	// Transcripts
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Audio
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter

	// Credentials
	TokenFetches *prometheus.CounterVec

	// Commands
	CommandsDispatched *prometheus.CounterVec
	CommandsIgnored    *prometheus.CounterVec
	DispatchLatency    prometheus.Histogram

	// Speech
	SpeechPlayback *prometheus.CounterVec

	// Event publishing
	PublishTotal *prometheus.CounterVec
}

// New creates collectors registered with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Listening sessions started, by outcome",
		}, []string{"outcome"}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Listening sessions ended, by reason",
		}, []string{"reason"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Listening sessions currently connected",
		}),
		TranscriptsPartial: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Partial transcripts received",
		}),
		TranscriptsFinal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Final transcripts received",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "PCM16 frames written to the transcription socket",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "PCM16 frames dropped because the consumer lagged",
		}),
		TokenFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_fetches_total",
			Help:      "Transcription credential fetches, by result",
		}, []string{"result"}),
		CommandsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Commands sent to the NLU backend, by result",
		}, []string{"result"}),
		CommandsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_ignored_total",
			Help:      "Commands ignored before dispatch, by reason",
		}, []string{"reason"}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "NLU round trip latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		SpeechPlayback: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_playback_total",
			Help:      "Spoken responses, by engine and result",
		}, []string{"engine", "result"}),
		PublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Session events published, by topic and result",
		}, []string{"topic", "result"}),
	}
}

// Nop returns unregistered collectors for tests and disabled metrics.
func Nop() *Metrics {
	return New(nil)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordSessionStart records a listening attempt outcome.
func (m *Metrics) RecordSessionStart(err error) {
	m.SessionsStarted.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.SessionsActive.Inc()
	}
}

// RecordSessionEnd records a connected session ending.
func (m *Metrics) RecordSessionEnd(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

// RecordTranscript records a transcript update.
func (m *Metrics) RecordTranscript(final bool) {
	if final {
		m.TranscriptsFinal.Inc()
		return
	}
	m.TranscriptsPartial.Inc()
}

// RecordTokenFetch records a credential fetch.
func (m *Metrics) RecordTokenFetch(err error) {
	m.TokenFetches.WithLabelValues(result(err)).Inc()
}

// RecordDispatch records an NLU round trip.
func (m *Metrics) RecordDispatch(err error, latencySeconds float64) {
	m.CommandsDispatched.WithLabelValues(result(err)).Inc()
	m.DispatchLatency.Observe(latencySeconds)
}

// RecordIgnored records a command dropped before dispatch.
func (m *Metrics) RecordIgnored(reason string) {
	m.CommandsIgnored.WithLabelValues(reason).Inc()
}

// RecordSpeech records a playback attempt by engine.
func (m *Metrics) RecordSpeech(engine string, err error) {
	m.SpeechPlayback.WithLabelValues(engine, result(err)).Inc()
}

// RecordPublish records an event publish attempt.
func (m *Metrics) RecordPublish(topic string, err error) {
	m.PublishTotal.WithLabelValues(topic, result(err)).Inc()
}
