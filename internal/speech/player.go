// Package speech plays assistant responses aloud: a streamed network voice
// first, the on-device engine when that fails.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"vcni/internal/audio"
	"vcni/internal/domain"
	"vcni/internal/metrics"
	"vcni/internal/ports"
)

const (
	engineStream = "stream"
	engineNative = "native"
)

var errEmptyAudio = errors.New("speech response contained no audio")

// PlayerConfig wires the synthesis and playback backends. Primary and
// Output may be nil, in which case only Native is used.
type PlayerConfig struct {
	Primary ports.SpeechSynthesizer
	Output  ports.AudioPlayer
	Native  ports.NativeSpeaker
	Lexicon *Lexicon
	// ChunkSize is the read size for streamed bodies.
	ChunkSize int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Player implements ports.Speaker. At most one utterance plays at a time.
type Player struct {
	cfg     PlayerConfig
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ ports.Speaker = (*Player)(nil)

func NewPlayer(cfg PlayerConfig) *Player {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Player{cfg: cfg, log: cfg.Logger, metrics: m}
}

// Speak plays text and blocks until playback finishes, fails or is
// cancelled. A Speak already in progress is cancelled first. cb.OnStart
// fires at most once, when audio begins; cb.OnEnd always fires exactly once.
func (p *Player) Speak(ctx context.Context, text string, cb ports.SpeechCallbacks) error {
	var startOnce, endOnce sync.Once
	onStart := func() {
		startOnce.Do(func() {
			if cb.OnStart != nil {
				cb.OnStart()
			}
		})
	}
	onEnd := func() {
		endOnce.Do(func() {
			if cb.OnEnd != nil {
				cb.OnEnd()
			}
		})
	}

	spoken := strings.TrimSpace(p.cfg.Lexicon.Apply(text))
	if spoken == "" {
		onEnd()
		return nil
	}

	// OnEnd must fire before the next utterance is released.
	speakCtx, done := p.begin(ctx)
	defer done()
	defer onEnd()

	err := p.speakStream(speakCtx, spoken, onStart)
	if err == nil {
		p.metrics.RecordSpeech(engineStream, nil)
		return nil
	}
	if ctxErr := speakCtx.Err(); ctxErr != nil {
		return ctxErr
	}
	if p.cfg.Primary != nil {
		p.metrics.RecordSpeech(engineStream, err)
	}
	if p.cfg.Native == nil {
		return err
	}
	if p.cfg.Primary != nil {
		p.log.Warn().Err(err).Msg("streamed speech failed, falling back to native voice")
	}

	nativeErr := p.cfg.Native.Speak(speakCtx, spoken, onStart)
	if ctxErr := speakCtx.Err(); ctxErr != nil {
		return ctxErr
	}
	p.metrics.RecordSpeech(engineNative, nativeErr)
	if nativeErr != nil {
		return &domain.SynthesisError{Err: fmt.Errorf("native speech failed: %w", nativeErr)}
	}
	return nil
}

// Cancel stops the current utterance, if any.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// begin cancels and waits out the previous utterance, then registers a new
// one. The returned func must be called when playback ends.
func (p *Player) begin(ctx context.Context) (context.Context, func()) {
	p.mu.Lock()
	prevDone := p.done
	if p.cancel != nil {
		p.cancel()
	}
	speakCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	if prevDone != nil {
		<-prevDone
	}

	return speakCtx, func() {
		cancel()
		p.mu.Lock()
		if p.done == done {
			p.cancel = nil
			p.done = nil
		}
		p.mu.Unlock()
		close(done)
	}
}

func (p *Player) speakStream(ctx context.Context, text string, onStart func()) error {
	if p.cfg.Primary == nil || p.cfg.Output == nil {
		return &domain.SynthesisError{Err: errors.New("streamed speech is not configured")}
	}

	stream, err := p.cfg.Primary.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	samples, sampleRate, err := p.readAudio(stream, onStart)
	if err != nil {
		return err
	}
	if err := p.cfg.Output.Play(ctx, samples, sampleRate); err != nil {
		return &domain.SynthesisError{Err: fmt.Errorf("playback failed: %w", err)}
	}
	return nil
}

// readAudio decodes a streamed PCM16 body chunk by chunk, or a complete WAV
// payload. onStart fires with the first audio bytes.
func (p *Player) readAudio(stream ports.SynthesizedAudio, onStart func()) ([]float32, int, error) {
	switch stream.ContentType {
	case "", "audio/pcm", "audio/l16", "application/octet-stream":
		var decoder audio.PCM16Decoder
		var samples []float32
		chunk := make([]byte, p.cfg.ChunkSize)
		for {
			n, err := stream.Body.Read(chunk)
			if n > 0 {
				onStart()
				samples = decoder.Write(samples, chunk[:n])
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, 0, &domain.SynthesisError{Err: fmt.Errorf("failed to read speech stream: %w", err)}
			}
		}
		if len(samples) == 0 {
			return nil, 0, &domain.SynthesisError{Err: errEmptyAudio}
		}
		return samples, stream.SampleRate, nil

	case "audio/wav", "audio/x-wav", "audio/wave":
		payload, err := io.ReadAll(stream.Body)
		if err != nil {
			return nil, 0, &domain.SynthesisError{Err: fmt.Errorf("failed to read speech payload: %w", err)}
		}
		wav, err := audio.ParseWAV(payload)
		if err != nil {
			return nil, 0, &domain.SynthesisError{Err: err}
		}
		samples := audio.DownmixInterleaved(audio.DecodePCM16LE(wav.PCM), wav.Channels)
		if len(samples) == 0 {
			return nil, 0, &domain.SynthesisError{Err: errEmptyAudio}
		}
		onStart()
		return samples, wav.SampleRate, nil

	default:
		return nil, 0, &domain.SynthesisError{Err: fmt.Errorf("unsupported speech content type %q", stream.ContentType)}
	}
}
