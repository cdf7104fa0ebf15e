package ports

import (
	"context"
	"io"

	"vcni/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	// Channels is the device channel count opened by PortAudio, which
	// downmixes to mono. The ffmpeg source always asks ffmpeg for mono
	// and ignores it.
	Channels         int
	InputFormat      string
	InputDevice      string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// SampleStream yields mono float32 samples in [-1, 1].
type SampleStream interface {
	// Read fills buf and returns the number of samples written.
	Read(buf []float32) (int, error)
	Close() error
}

// AudioSource opens microphone sample streams.
type AudioSource interface {
	Open(ctx context.Context, cfg AudioConfig) (SampleStream, error)
}

// AudioPlayer plays float32 samples and blocks until playback ends or ctx is done.
type AudioPlayer interface {
	Play(ctx context.Context, samples []float32, sampleRate int) error
}

// TokenFetcher performs one credential request against the backend.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (string, error)
}

// TokenSource hands out cached transcription credentials.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate()
}

// ClientState is the lifecycle of a TranscriptionClient.
type ClientState string

const (
	ClientIdle       ClientState = "idle"
	ClientConnecting ClientState = "connecting"
	ClientConnected  ClientState = "connected"
	ClientClosed     ClientState = "closed"
)

// TranscriptionClient is a single-use streaming transcription connection.
type TranscriptionClient interface {
	Connect(ctx context.Context, token string) error
	// Events is closed after the disconnected event.
	Events() <-chan domain.StreamEvent
	// Disconnect is idempotent. It must not be called from the goroutine
	// draining Events.
	Disconnect() error
	State() ClientState
}

// TranscriberFactory creates one TranscriptionClient per listening session.
type TranscriberFactory interface {
	NewClient() TranscriptionClient
}

// CommandDispatcher sends finalized commands to the NLU backend.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, req domain.CommandRequest) (domain.CommandResult, error)
}

// SynthesizedAudio is a streamed speech response body.
type SynthesizedAudio struct {
	Body        io.ReadCloser
	ContentType string
	SampleRate  int
}

// SpeechSynthesizer is the primary network text-to-speech provider.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (SynthesizedAudio, error)
}

// NativeSpeaker speaks text with an on-device engine. onStart is called once
// audio begins. Speak blocks until speech ends or ctx is done.
type NativeSpeaker interface {
	Speak(ctx context.Context, text string, onStart func()) error
}

// SpeechCallbacks observe a single Speak call.
type SpeechCallbacks struct {
	OnStart func()
	OnEnd   func()
}

// Speaker plays response text aloud.
type Speaker interface {
	Speak(ctx context.Context, text string, cb SpeechCallbacks) error
	Cancel()
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	PartialTranscript(text string)
	FinalTranscript(text string)
	CommandResult(command string, result domain.CommandResult)
	SpeakingChanged(speaking bool)
	SessionError(code domain.ErrorCode, detail string)
}
