package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"vcni/internal/audio"
	"vcni/internal/config"
	"vcni/internal/credentials"
	"vcni/internal/events"
	"vcni/internal/logging"
	"vcni/internal/metrics"
	"vcni/internal/ports"
	"vcni/internal/providers/assemblyai"
	"vcni/internal/providers/backend"
	"vcni/internal/speech"
	"vcni/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *usecase.SessionOrchestrator
	Backend      *backend.Client
	Tokens       *credentials.Cache
	// Speaker is nil when speech is disabled.
	Speaker   *speech.Player
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Config    config.Config

	metricsServer *metrics.Server
}

// Build loads configuration and wires all backend dependencies.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return BuildWithConfig(cfg, eventSink)
}

// BuildWithConfig wires dependencies for an already loaded configuration.
// Kafka publishing is fanned out alongside eventSink.
func BuildWithConfig(cfg config.Config, eventSink ports.EventSink) (Services, error) {
	lexicon, err := speech.LoadLexicon(cfg.Speech.LexiconPath)
	if err != nil {
		return Services{}, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	backendClient := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Speaker: cfg.Backend.Speaker,
		UserID:  cfg.Backend.UserID,
		Timeout: cfg.Backend.Timeout,
	}, logging.WithComponent("backend"))

	tokens := credentials.NewCache(backendClient, credentials.Config{
		TTL:     cfg.Backend.TokenTTL,
		Logger:  logging.WithComponent("credentials"),
		Metrics: m,
	})

	transcribers := assemblyai.NewFactory(assemblyai.Config{
		URL:         cfg.Transcription.URL,
		Protocol:    assemblyai.Protocol(cfg.Transcription.Protocol),
		SampleRate:  cfg.Transcription.SampleRate,
		FormatTurns: cfg.Transcription.FormatTurns,
		FrameSize:   cfg.Transcription.FrameSize,
		Audio: ports.AudioConfig{
			SampleRate:       cfg.Transcription.SampleRate,
			Channels:         cfg.Audio.Channels,
			InputFormat:      cfg.Audio.InputFormat,
			InputDevice:      cfg.Audio.InputDevice,
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGainControl:  cfg.Audio.AutoGainControl,
		},
	}, audioSource(cfg.Audio), logging.WithComponent("transcription"), m)

	var speaker ports.Speaker
	var player *speech.Player
	if cfg.Speech.Enabled {
		player = speech.NewPlayer(speech.PlayerConfig{
			Primary: backendClient,
			Output:  audioOutput(cfg.Audio),
			Native: speech.NewNativeSpeaker(speech.NativeConfig{
				Command:  cfg.Speech.NativeCommand,
				Voice:    cfg.Speech.Voice,
				Language: cfg.Speech.Language,
				Rate:     cfg.Speech.Rate,
			}, logging.WithComponent("native-speech")),
			Lexicon: lexicon,
			Logger:  logging.WithComponent("speech"),
			Metrics: m,
		})
		speaker = player
	}

	publisher := events.NewPublisher(events.Config{
		Brokers:   cfg.Events.Brokers,
		Topic:     cfg.Events.Topic,
		Principal: cfg.Backend.UserID,
	}, logging.WithComponent("events"), m)

	orchestrator := usecase.NewSessionOrchestrator(
		transcribers,
		tokens,
		backendClient,
		speaker,
		events.NewFanout(eventSink, publisher),
		usecase.Config{
			InactivityTimeout: cfg.Session.InactivityTimeout,
			SessionTimeout:    cfg.Session.SessionTimeout,
			DispatchDebounce:  cfg.Session.DispatchDebounce,
			ResumeDelay:       cfg.Session.ResumeDelay,
			DisableAutoResume: !cfg.Session.AutoResume,
			UserID:            cfg.Backend.UserID,
			Logger:            logging.WithComponent("orchestrator"),
			Metrics:           m,
		},
	)

	services := Services{
		Orchestrator: orchestrator,
		Backend:      backendClient,
		Tokens:       tokens,
		Speaker:      player,
		Publisher:    publisher,
		Metrics:      m,
		Registry:     registry,
		Config:       cfg,
	}
	if cfg.Metrics.Addr != "" {
		services.metricsServer = metrics.NewServer(cfg.Metrics.Addr, registry)
		services.metricsServer.Start()
	}
	return services, nil
}

// Close stops the orchestrator, flushes published events and shuts down the
// metrics server.
func (s Services) Close() error {
	var errs []error
	if s.Orchestrator != nil {
		errs = append(errs, s.Orchestrator.Close())
	}
	if s.Publisher != nil {
		errs = append(errs, s.Publisher.Close())
	}
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.metricsServer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func audioSource(cfg config.AudioConfig) ports.AudioSource {
	if cfg.Backend == "portaudio" {
		return audio.NewPortAudioCapture()
	}
	return audio.NewFFMPEGCapture(cfg.RecorderCommand, cfg.EchoCancelDevice)
}

func audioOutput(cfg config.AudioConfig) ports.AudioPlayer {
	if cfg.Backend == "portaudio" {
		return audio.NewPortAudioPlayer()
	}
	return audio.NewFFPlayPlayer(cfg.PlayerCommand)
}
