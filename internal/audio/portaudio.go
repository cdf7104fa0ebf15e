//go:build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"vcni/internal/ports"
)

// PortAudioCapture opens the microphone through PortAudio callbacks.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Open(ctx context.Context, cfg ports.AudioConfig) (ports.SampleStream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	device, err := inputDevice(cfg.InputDevice)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.SampleRate / 50

	s := &portAudioStream{
		channels: cfg.Channels,
		blocks:   make(chan []float32, 32),
		closed:   make(chan struct{}),
	}
	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "default" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}
	for _, device := range devices {
		if device.MaxInputChannels > 0 && strings.Contains(strings.ToLower(device.Name), strings.ToLower(name)) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}

type portAudioStream struct {
	stream   *portaudio.Stream
	channels int
	blocks   chan []float32
	pending  []float32

	closeOnce sync.Once
	closed    chan struct{}
}

// callback runs on the PortAudio thread and must not block.
func (s *portAudioStream) callback(in []float32) {
	block := DownmixInterleaved(append([]float32(nil), in...), s.channels)
	select {
	case s.blocks <- block:
	default:
	}
}

func (s *portAudioStream) Read(buf []float32) (int, error) {
	if len(s.pending) == 0 {
		select {
		case block := <-s.blocks:
			s.pending = block
		case <-s.closed:
			return 0, errors.New("portaudio stream closed")
		}
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *portAudioStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		_ = portaudio.Terminate()
	})
	return err
}

// PortAudioPlayer plays float32 samples on the default output device.
type PortAudioPlayer struct{}

func NewPortAudioPlayer() *PortAudioPlayer {
	return &PortAudioPlayer{}
}

func (p *PortAudioPlayer) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	buffer := make([]float32, 1024)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buffer), &buffer)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	for offset := 0; offset < len(samples); offset += len(buffer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buffer, samples[offset:])
		clear(buffer[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("failed to write output stream: %w", err)
		}
	}
	return nil
}
