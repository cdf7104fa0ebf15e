package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"vcni/internal/domain"
	"vcni/internal/ports"
)

// BridgeConfig controls microphone framing.
type BridgeConfig struct {
	Audio     ports.AudioConfig
	FrameSize int
	// BlockSize is the number of samples requested per stream read.
	BlockSize int
	// Buffer is the number of frames held for a slow consumer before dropping.
	Buffer int
	OnDrop func()
	Logger zerolog.Logger
}

// Bridge reads microphone blocks on a producer goroutine and offers PCM16
// frames on a bounded channel. Frames are dropped, never queued, when the
// consumer falls behind.
type Bridge struct {
	stream ports.SampleStream
	frames chan domain.AudioFrame
	done   chan struct{}
	cancel context.CancelFunc
	onDrop func()
	log    zerolog.Logger

	stopped  atomic.Bool
	dropped  atomic.Int64
	stopOnce sync.Once

	errMu sync.Mutex
	err   error
}

// StartBridge opens the microphone and starts framing. Open failures are
// returned as *domain.CaptureError.
func StartBridge(ctx context.Context, source ports.AudioSource, cfg BridgeConfig) (*Bridge, error) {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 1024
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 8
	}

	stream, err := source.Open(ctx, cfg.Audio)
	if err != nil {
		return nil, asCaptureError(err)
	}

	bridgeCtx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		stream: stream,
		frames: make(chan domain.AudioFrame, cfg.Buffer),
		done:   make(chan struct{}),
		cancel: cancel,
		onDrop: cfg.OnDrop,
		log:    cfg.Logger,
	}
	go b.run(bridgeCtx, NewFramer(cfg.FrameSize), cfg.BlockSize)
	return b, nil
}

// Frames is closed once capture stops.
func (b *Bridge) Frames() <-chan domain.AudioFrame {
	return b.frames
}

// Done is closed after the producer goroutine exits.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err reports a capture failure that ended the stream early.
func (b *Bridge) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// Dropped returns the number of frames discarded for a slow consumer.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// Stop releases the microphone and waits for the producer to exit.
func (b *Bridge) Stop() error {
	var closeErr error
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		b.cancel()
		closeErr = b.stream.Close()
		<-b.done
	})
	return closeErr
}

func (b *Bridge) run(ctx context.Context, framer *Framer, blockSize int) {
	defer close(b.done)
	defer close(b.frames)

	block := make([]float32, blockSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := b.stream.Read(block)
		if n > 0 && !b.stopped.Load() {
			framer.Write(block[:n], b.offer)
		}
		if err != nil {
			if b.stopped.Load() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				err = errors.New("microphone stream ended")
			}
			b.setErr(asCaptureError(err))
			return
		}
	}
}

func (b *Bridge) offer(frame domain.AudioFrame) {
	select {
	case b.frames <- frame:
	default:
		if b.dropped.Add(1) == 1 {
			b.log.Warn().Msg("audio consumer lagging, dropping frames")
		}
		if b.onDrop != nil {
			b.onDrop()
		}
	}
}

func (b *Bridge) setErr(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

func asCaptureError(err error) error {
	var captureErr *domain.CaptureError
	if errors.As(err, &captureErr) {
		return err
	}
	return &domain.CaptureError{Err: err}
}
