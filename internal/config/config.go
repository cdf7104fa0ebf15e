package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the voice session.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Audio         AudioConfig         `yaml:"audio"`
	Session       SessionConfig       `yaml:"session"`
	Speech        SpeechConfig        `yaml:"speech"`
	Events        EventsConfig        `yaml:"events"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`

	// Source is the YAML file that was applied, if any.
	Source string `yaml:"-"`
}

type BackendConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Speaker  string        `yaml:"speaker"`
	UserID   string        `yaml:"user_id"`
	Timeout  time.Duration `yaml:"timeout"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type TranscriptionConfig struct {
	URL         string `yaml:"url"`
	Protocol    string `yaml:"protocol"`
	SampleRate  int    `yaml:"sample_rate"`
	FormatTurns bool   `yaml:"format_turns"`
	FrameSize   int    `yaml:"frame_size"`
}

type AudioConfig struct {
	// Backend is "ffmpeg" or "portaudio".
	Backend          string `yaml:"backend"`
	RecorderCommand  string `yaml:"recorder_command"`
	PlayerCommand    string `yaml:"player_command"`
	InputFormat      string `yaml:"input_format"`
	InputDevice      string `yaml:"input_device"`
	EchoCancelDevice string `yaml:"echo_cancel_device"`
	Channels         int    `yaml:"channels"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain_control"`
}

type SessionConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	DispatchDebounce  time.Duration `yaml:"dispatch_debounce"`
	ResumeDelay       time.Duration `yaml:"resume_delay"`
	AutoResume        bool          `yaml:"auto_resume"`
}

type SpeechConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NativeCommand string `yaml:"native_command"`
	Voice         string `yaml:"voice"`
	Language      string `yaml:"language"`
	Rate          int    `yaml:"rate"`
	LexiconPath   string `yaml:"lexicon"`
}

type EventsConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:  "http://localhost:8000",
			Speaker:  "moon",
			UserID:   "anonymous",
			Timeout:  15 * time.Second,
			TokenTTL: 9 * time.Minute,
		},
		Transcription: TranscriptionConfig{
			Protocol:    "v3",
			SampleRate:  16000,
			FormatTurns: true,
			FrameSize:   4800,
		},
		Audio: AudioConfig{
			Backend:          "ffmpeg",
			RecorderCommand:  "ffmpeg",
			PlayerCommand:    "ffplay",
			InputFormat:      "pulse",
			InputDevice:      "default",
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Session: SessionConfig{
			InactivityTimeout: 15 * time.Second,
			SessionTimeout:    60 * time.Second,
			DispatchDebounce:  800 * time.Millisecond,
			ResumeDelay:       time.Second,
			AutoResume:        true,
		},
		Speech: SpeechConfig{
			Enabled:  true,
			Language: "en-US",
			Rate:     175,
		},
		Events: EventsConfig{
			Topic:    "vcni.session-events",
			ClientID: "vcni",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load layers defaults, a .env file, an optional YAML file and environment
// variables, in that order of increasing priority.
func Load() (Config, error) {
	envFile := envOrDefault("VCNI_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file %q: %w", envFile, err)
	}

	cfg := Defaults()

	path, explicit := configPath()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		} else {
			cfg.Source = path
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func configPath() (string, bool) {
	if path := strings.TrimSpace(os.Getenv("VCNI_CONFIG_FILE")); path != "" {
		return path, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, ".config", "vcni", "config.yaml"), false
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.BaseURL = envOrDefault("VCNI_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Speaker = envOrDefault("VCNI_TTS_SPEAKER", cfg.Backend.Speaker)
	cfg.Backend.UserID = envOrDefault("VCNI_USER_ID", cfg.Backend.UserID)
	cfg.Backend.Timeout = envOrDefaultMillis("VCNI_BACKEND_TIMEOUT_MS", cfg.Backend.Timeout)
	cfg.Backend.TokenTTL = envOrDefaultMillis("VCNI_TOKEN_TTL_MS", cfg.Backend.TokenTTL)

	cfg.Transcription.URL = envOrDefault("VCNI_STT_URL", cfg.Transcription.URL)
	cfg.Transcription.Protocol = envOrDefault("VCNI_STT_PROTOCOL", cfg.Transcription.Protocol)
	cfg.Transcription.SampleRate = envOrDefaultInt("VCNI_SAMPLE_RATE", cfg.Transcription.SampleRate)
	cfg.Transcription.FormatTurns = envOrDefaultBool("VCNI_FORMAT_TURNS", cfg.Transcription.FormatTurns)
	cfg.Transcription.FrameSize = envOrDefaultInt("VCNI_FRAME_SIZE", cfg.Transcription.FrameSize)

	cfg.Audio.Backend = envOrDefault("VCNI_AUDIO_BACKEND", cfg.Audio.Backend)
	cfg.Audio.RecorderCommand = envOrDefault("VCNI_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.PlayerCommand = envOrDefault("VCNI_FFPLAY_COMMAND", cfg.Audio.PlayerCommand)
	cfg.Audio.InputFormat = envOrDefault("VCNI_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("VCNI_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.EchoCancelDevice = envOrDefault("VCNI_ECHO_CANCEL_DEVICE", cfg.Audio.EchoCancelDevice)
	cfg.Audio.Channels = envOrDefaultInt("VCNI_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.EchoCancellation = envOrDefaultBool("VCNI_ECHO_CANCELLATION", cfg.Audio.EchoCancellation)
	cfg.Audio.NoiseSuppression = envOrDefaultBool("VCNI_NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)
	cfg.Audio.AutoGainControl = envOrDefaultBool("VCNI_AUTO_GAIN_CONTROL", cfg.Audio.AutoGainControl)

	cfg.Session.InactivityTimeout = envOrDefaultMillis("VCNI_INACTIVITY_TIMEOUT_MS", cfg.Session.InactivityTimeout)
	cfg.Session.SessionTimeout = envOrDefaultMillis("VCNI_SESSION_TIMEOUT_MS", cfg.Session.SessionTimeout)
	cfg.Session.DispatchDebounce = envOrDefaultMillis("VCNI_DISPATCH_DEBOUNCE_MS", cfg.Session.DispatchDebounce)
	cfg.Session.ResumeDelay = envOrDefaultMillis("VCNI_RESUME_DELAY_MS", cfg.Session.ResumeDelay)
	cfg.Session.AutoResume = envOrDefaultBool("VCNI_AUTO_RESUME", cfg.Session.AutoResume)

	cfg.Speech.Enabled = envOrDefaultBool("VCNI_SPEECH_ENABLED", cfg.Speech.Enabled)
	cfg.Speech.NativeCommand = envOrDefault("VCNI_NATIVE_TTS_COMMAND", cfg.Speech.NativeCommand)
	cfg.Speech.Voice = envOrDefault("VCNI_NATIVE_VOICE", cfg.Speech.Voice)
	cfg.Speech.Language = envOrDefault("VCNI_SPEECH_LANGUAGE", cfg.Speech.Language)
	cfg.Speech.Rate = envOrDefaultInt("VCNI_NATIVE_RATE", cfg.Speech.Rate)
	cfg.Speech.LexiconPath = envOrDefault("VCNI_LEXICON_FILE", cfg.Speech.LexiconPath)

	if brokers := splitList(os.Getenv("VCNI_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Events.Brokers = brokers
	}
	cfg.Events.Topic = envOrDefault("VCNI_KAFKA_TOPIC", cfg.Events.Topic)
	cfg.Events.ClientID = envOrDefault("VCNI_KAFKA_CLIENT_ID", cfg.Events.ClientID)

	cfg.Logging.Level = envOrDefault("VCNI_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("VCNI_LOG_FORMAT", cfg.Logging.Format)

	cfg.Metrics.Addr = envOrDefault("VCNI_METRICS_ADDR", cfg.Metrics.Addr)
}

func normalize(cfg *Config) {
	defaults := Defaults()

	if cfg.Transcription.SampleRate <= 0 {
		cfg.Transcription.SampleRate = defaults.Transcription.SampleRate
	}
	if cfg.Transcription.FrameSize < 256 {
		cfg.Transcription.FrameSize = defaults.Transcription.FrameSize
	}
	cfg.Transcription.Protocol = strings.ToLower(cfg.Transcription.Protocol)
	if cfg.Transcription.Protocol != "v2" {
		cfg.Transcription.Protocol = "v3"
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	cfg.Audio.Backend = strings.ToLower(cfg.Audio.Backend)
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = defaults.Backend.Timeout
	}
	if cfg.Backend.TokenTTL <= 0 {
		cfg.Backend.TokenTTL = defaults.Backend.TokenTTL
	}

	for _, field := range []struct {
		value    *time.Duration
		fallback time.Duration
	}{
		{&cfg.Session.InactivityTimeout, defaults.Session.InactivityTimeout},
		{&cfg.Session.SessionTimeout, defaults.Session.SessionTimeout},
		{&cfg.Session.DispatchDebounce, defaults.Session.DispatchDebounce},
		{&cfg.Session.ResumeDelay, defaults.Session.ResumeDelay},
	} {
		if *field.value <= 0 {
			*field.value = field.fallback
		}
	}
	if cfg.Session.SessionTimeout < cfg.Session.InactivityTimeout {
		cfg.Session.SessionTimeout = cfg.Session.InactivityTimeout
	}
}

// KafkaEnabled reports whether session events should be published.
func (c Config) KafkaEnabled() bool {
	return len(c.Events.Brokers) > 0 && strings.TrimSpace(c.Events.Topic) != ""
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
